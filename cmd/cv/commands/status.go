package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"coldvault/pkg/meta"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <upload-id>",
	Short: "Show the recorded state of an upload",
	Long: `Show what the catalog (upload status, committed bytes) and the Redis
journal (confirmed parts) know about an upload. The upload id is printed by
'cv upload --verbose' and by cv-server logs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if CV == nil {
			return fmt.Errorf("app not initialized")
		}
		if CV.Catalog == nil && CV.Journal == nil {
			return fmt.Errorf("neither a catalog nor a redis journal is configured")
		}
		uploadID := args[0]
		out := cmd.OutOrStdout()
		found := false

		// 1. Catalog: 会话状态
		if CV.Catalog != nil {
			u, err := CV.Catalog.GetUpload(cmd.Context(), uploadID)
			switch {
			case errors.Is(err, meta.ErrUploadNotFound):
			case err != nil:
				return fmt.Errorf("failed to read upload status: %w", err)
			default:
				found = true
				fmt.Fprintf(out, "Upload:    %s\n", u.UploadID)
				fmt.Fprintf(out, "Vault:     %s\n", u.Vault)
				fmt.Fprintf(out, "Status:    %s\n", u.Status)
				fmt.Fprintf(out, "Committed: %s\n", humanize.IBytes(uint64(u.Offset)))
				if u.ArchiveID != "" {
					fmt.Fprintf(out, "Archive:   %s\n", u.ArchiveID)
				}
				if u.Error != "" {
					fmt.Fprintf(out, "Error:     %s\n", u.Error)
				}
				fmt.Fprintf(out, "Updated:   %s\n", humanize.Time(u.UpdatedAt))
			}
		}

		// 2. Journal: 已确认的分片
		if CV.Journal != nil {
			parts, err := CV.Journal.Parts(cmd.Context(), uploadID)
			if err != nil {
				return fmt.Errorf("failed to read journal: %w", err)
			}
			if len(parts) > 0 {
				found = true
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PART\tRANGE\tTREE HASH")
				for _, p := range parts {
					fmt.Fprintf(w, "%d\t%s\t%s\n", p.Index, p.Range.ContentRange(), p.Checksum)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}
		}

		if !found {
			return fmt.Errorf("no record of upload %s", uploadID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
