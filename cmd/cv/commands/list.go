package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list [vault]",
	Short: "List archives recorded in the catalog",
	Args:  cobra.MaximumNArgs(1), // 0 或 1 个参数
	RunE: func(cmd *cobra.Command, args []string) error {
		if CV == nil {
			return fmt.Errorf("app not initialized")
		}
		if CV.Catalog == nil {
			return fmt.Errorf("no catalog configured (database.driver is none)")
		}

		vaultName := ""
		if len(args) > 0 {
			vaultName = args[0]
		}

		archives, err := CV.Catalog.ListArchives(cmd.Context(), vaultName, listLimit)
		if err != nil {
			return fmt.Errorf("failed to list archives: %w", err)
		}
		if len(archives) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No archives yet.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ARCHIVE ID\tVAULT\tSIZE\tPARTS\tTREE HASH\tCREATED\tDESCRIPTION")
		for _, a := range archives {
			m, err := a.Manifest()
			parts := "?"
			if err == nil {
				parts = fmt.Sprint(len(m.Parts))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				a.ArchiveID,
				a.Vault,
				humanize.IBytes(uint64(a.SizeBytes)),
				parts,
				shortHash(a.TreeHash),
				humanize.Time(a.CreatedAt),
				a.Description,
			)
		}
		return w.Flush()
	},
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "maximum number of archives to show (0 = all)")
	rootCmd.AddCommand(listCmd)
}
