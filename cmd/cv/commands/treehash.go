package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"coldvault/pkg/treehash"
	"coldvault/pkg/types"
	"coldvault/pkg/uploader"

	"github.com/spf13/cobra"
)

var treehashCmd = &cobra.Command{
	Use:   "treehash <file>...",
	Short: "Print the tree hash of local files",
	Long:  `Compute the SHA-256 tree hash of each file without uploading it. Output matches sha256sum: "<hash>  <path>".`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		// 多个文件共用一个 Hasher 和读缓冲
		h := treehash.NewHasher()
		buf := make([]byte, types.SegmentSize)
		for _, path := range args {
			sum, err := sumFile(h, buf, path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "❌ %s: %v\n", path, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, path)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

func sumFile(h *treehash.Hasher, buf []byte, path string) (types.Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h.Reset()
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	d, err := h.Sum()
	if errors.Is(err, treehash.ErrEmptySequence) {
		return "", uploader.ErrEmptyArchive
	}
	if err != nil {
		return "", err
	}
	return d.Checksum(), nil
}

func init() {
	rootCmd.AddCommand(treehashCmd)
}
