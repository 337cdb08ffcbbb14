package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"coldvault/pkg/treehash"
	"coldvault/pkg/vault"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <vault> <archive-id> <output>",
	Short: "Download an archive and verify its tree hash",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if CV == nil {
			return fmt.Errorf("app not initialized")
		}
		r, err := CV.Retriever()
		if err != nil {
			return err
		}

		m, err := fetchArchive(cmd.Context(), r, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("✅ Fetched %s (%s) -> %s, tree hash %s verified\n",
			m.ArchiveID, humanize.IBytes(uint64(m.Size)), args[2], m.TreeHash.Short())
		return nil
	},
}

// fetchArchive 边写边算 Tree Hash，校验通过后才把临时文件 Rename 到 output
func fetchArchive(ctx context.Context, r vault.Retriever, vaultName, archiveID, output string) (*vault.Manifest, error) {
	rc, m, err := r.Retrieve(ctx, vaultName, archiveID)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s failed: %w", archiveID, err)
	}
	defer rc.Close()
	if m.TreeHash.IsZero() {
		return nil, fmt.Errorf("%w: manifest of %s has no tree hash", vault.ErrChecksumMismatch, archiveID)
	}

	tmp, err := os.CreateTemp(filepath.Dir(output), ".cv-fetch-*")
	if err != nil {
		return nil, err
	}
	// 如果成功 Rename 了，这个删除会失效，无害
	defer os.Remove(tmp.Name())

	hasher := treehash.NewHasher()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), rc)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	if n != m.Size {
		return nil, fmt.Errorf("%w: got %d bytes, manifest says %d", vault.ErrRangeInvalid, n, m.Size)
	}
	sum, err := hasher.Sum()
	if err != nil {
		return nil, err
	}
	if sum.Checksum() != m.TreeHash {
		return nil, fmt.Errorf("%w: manifest %s, downloaded %s", vault.ErrChecksumMismatch, m.TreeHash.Short(), sum.Checksum().Short())
	}

	if err := os.Rename(tmp.Name(), output); err != nil {
		return nil, err
	}
	return m, nil
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
