package commands

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"coldvault/pkg/ignore"
	"coldvault/pkg/uploader"
	"coldvault/pkg/vault"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	uploadPartSizeMB   int64
	uploadDescription  string
	uploadJobs         int
	uploadSkipExisting bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <vault> <path>...",
	Short: "Upload files as tree-hashed archives",
	Long: `Upload each file as its own archive. Directories are walked recursively,
honouring .cvignore. Files are uploaded in parallel (--jobs); the parts of one
file are always sent strictly in order.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if CV == nil {
			return fmt.Errorf("app not initialized")
		}
		vaultName := args[0]
		if err := vault.ValidateName(vaultName); err != nil {
			return err
		}

		// 1. 收集文件
		var files []string
		for _, p := range args[1:] {
			found, err := ignore.Files(p)
			if err != nil {
				return fmt.Errorf("walk failed: %w", err)
			}
			files = append(files, found...)
		}
		if len(files) == 0 {
			fmt.Println("⚠️  No files to upload.")
			return nil
		}

		// 2. 准备上传器 (分片大小在这里校验)
		up, err := CV.NewUploader(uploadPartSizeMB)
		if err != nil {
			return err
		}
		jobs := uploadJobs
		if jobs <= 0 {
			jobs = viper.GetInt("upload.jobs")
		}
		description := uploadDescription
		if description == "" {
			description = viper.GetString("upload.description")
		}

		// 3. 并发上传：每个文件是一次独立的上传，互不影响
		out := &printer{progress: len(files) == 1 || jobs == 1}
		start := time.Now()

		var (
			mu       sync.Mutex
			failures []error
			uploaded int
			total    int64
		)
		var g errgroup.Group
		g.SetLimit(max(jobs, 1))
		for _, path := range files {
			g.Go(func() error {
				opts := uploader.Options{
					Vault:        vaultName,
					Description:  description,
					SkipExisting: uploadSkipExisting,
					Progress:     out.progressFunc(path),
				}
				if opts.Description == "" {
					// Glacier 习惯：没有描述时用文件路径
					opts.Description = path
				}
				if verbose {
					opts.OnPart = out.partFunc(path)
				}

				res, err := up.UploadFile(cmd.Context(), path, opts)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures = append(failures, err)
					out.failed(path, err)
					return nil
				}
				uploaded++
				total += res.Size
				out.done(res)
				return nil
			})
		}
		_ = g.Wait()

		// 4. 汇总
		fmt.Printf("✅ Uploaded %d/%d files (%s) in %s\n",
			uploaded, len(files), humanize.IBytes(uint64(total)), time.Since(start).Round(time.Millisecond))
		if len(failures) > 0 {
			return fmt.Errorf("%d files failed: %w", len(failures), errors.Join(failures...))
		}
		return nil
	},
}

// printer 串行化多个 goroutine 的终端输出
type printer struct {
	mu       sync.Mutex
	progress bool // 只有一个文件在传时才画 \r 进度条，否则多行会互相覆盖
}

func (p *printer) progressFunc(path string) uploader.ProgressFunc {
	if !p.progress {
		return nil
	}
	return func(done, total int64) {
		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Printf("\r⬆️  %s %3d%% (%s / %s)", path, done*100/total,
			humanize.IBytes(uint64(done)), humanize.IBytes(uint64(total)))
	}
}

func (p *printer) partFunc(path string) func(uploader.PartReceipt) {
	return func(r uploader.PartReceipt) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.progress {
			fmt.Println()
		}
		fmt.Printf("   part %d  %s  %s  %s\n", r.Index, r.Range.ContentRange(), r.Checksum, path)
	}
}

func (p *printer) done(res *uploader.FileResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.progress {
		fmt.Println()
	}
	if res.Skipped {
		fmt.Printf("⚡ %s already archived as %s (tree hash %s)\n", res.Path, res.ArchiveID, res.Checksum.Short())
		return
	}
	fmt.Printf("📦 %s  %s  tree hash %s  archive %s\n", res.Path, humanize.IBytes(uint64(res.Size)), res.Checksum, res.ArchiveID)
}

func (p *printer) failed(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.progress {
		fmt.Println()
	}
	if errors.Is(err, uploader.ErrEmptyArchive) {
		fmt.Fprintf(os.Stderr, "⚠️  %s: empty file, nothing to archive\n", path)
		return
	}
	fmt.Fprintf(os.Stderr, "❌ %s: %v\n", path, err)
}

func init() {
	uploadCmd.Flags().Int64VarP(&uploadPartSizeMB, "partsize", "p", 0, "part size in MiB, power of two in 1-4096 (default upload.part_size_mb)")
	uploadCmd.Flags().StringVarP(&uploadDescription, "description", "d", "", "archive description (default: file path)")
	uploadCmd.Flags().IntVarP(&uploadJobs, "jobs", "j", 0, "files uploaded in parallel (default upload.jobs)")
	uploadCmd.Flags().BoolVar(&uploadSkipExisting, "skip-existing", false, "skip files whose tree hash is already in the catalog")
	rootCmd.AddCommand(uploadCmd)
}
