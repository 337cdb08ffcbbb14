package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"coldvault/pkg/treehash"
	"coldvault/pkg/types"
	"coldvault/pkg/vault"
)

// Catalog 记录已完成的归档，并支持按 Tree Hash 查重
// meta.Repository 和 journal.Journal 都实现了它
type Catalog interface {
	RecordArchive(ctx context.Context, m *vault.Manifest) error
	LookupArchive(ctx context.Context, vaultName string, treeHash types.Checksum) (archiveID string, found bool, err error)
}

type Options struct {
	Vault        string
	Description  string
	Progress     ProgressFunc
	OnPart       func(PartReceipt)
	SkipExisting bool // 先在本地算一遍 Tree Hash，Catalog 里已有则跳过上传
}

// FileResult 描述单个文件的处理结果
type FileResult struct {
	Path      string
	Size      int64
	Checksum  types.Checksum
	ArchiveID string
	Skipped   bool
	Result    *Result
}

// Uploader 负责一次完整的归档上传: Initiate -> Driver.Run -> Complete / Abort
type Uploader struct {
	vault    vault.Vault
	partSize int64
	catalog  Catalog
	logger   *slog.Logger
}

func New(v vault.Vault, partSize int64, catalog Catalog, logger *slog.Logger) (*Uploader, error) {
	if err := types.ValidatePartSize(partSize); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{vault: v, partSize: partSize, catalog: catalog, logger: logger}, nil
}

// UploadFile 打开并上传一个本地文件
func (u *Uploader) UploadFile(ctx context.Context, path string, opts Options) (*FileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyArchive)
	}

	if opts.SkipExisting && u.catalog != nil {
		found, err := u.lookupExisting(ctx, f, opts.Vault)
		if err != nil {
			return nil, err
		}
		if found != nil {
			found.Path = path
			return found, nil
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	res, err := u.Upload(ctx, f, stat.Size(), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := &FileResult{
		Path:     path,
		Size:     res.Size,
		Checksum: res.Checksum,
		Result:   res,
	}
	if res.Archive != nil {
		out.ArchiveID = res.Archive.ID
	}
	return out, nil
}

func (u *Uploader) lookupExisting(ctx context.Context, r io.Reader, vaultName string) (*FileResult, error) {
	sum, size, err := treehash.SumReader(r)
	if err != nil {
		return nil, err
	}
	id, found, err := u.catalog.LookupArchive(ctx, vaultName, sum)
	if err != nil {
		// 查重失败只影响“秒传”，不影响上传本身
		u.logger.Warn("catalog lookup failed", slog.String("err", err.Error()))
		return nil, nil
	}
	if !found {
		return nil, nil
	}
	return &FileResult{Size: size, Checksum: sum, ArchiveID: id, Skipped: true}, nil
}

// Upload 上传 r 中恰好 size 字节的数据
func (u *Uploader) Upload(ctx context.Context, r io.Reader, size int64, opts Options) (*Result, error) {
	// 空文件在 Initiate 之前就拒绝，避免远端留下空的上传会话
	if size == 0 {
		return nil, ErrEmptyArchive
	}
	if err := types.CheckPartCount(size, u.partSize); err != nil {
		return nil, err
	}

	driver, err := NewDriver(u.partSize,
		WithProgress(opts.Progress),
		WithPartObserver(opts.OnPart),
		WithLogger(u.logger),
	)
	if err != nil {
		return nil, err
	}

	up, err := u.vault.Initiate(ctx, vault.InitiateInput{
		Vault:       opts.Vault,
		Description: opts.Description,
		PartSize:    u.partSize,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate upload failed: %w", err)
	}
	u.logger.Debug("upload initiated", slog.String("vault", opts.Vault), slog.String("upload_id", up.ID()))

	res, err := driver.Run(ctx, r, size, up)
	if err != nil {
		u.abort(up)
		return nil, err
	}

	if u.catalog != nil && res.Archive != nil {
		m := res.Manifest(opts.Vault, opts.Description, u.partSize)
		if err := u.catalog.RecordArchive(ctx, m); err != nil {
			// 归档已经安全落到远端，索引失败不影响结果，只是下次无法秒传
			u.logger.Warn("failed to record archive in catalog",
				slog.String("archive_id", res.Archive.ID),
				slog.String("err", err.Error()),
			)
		}
	}
	return res, nil
}

// abort 尽力清理远端状态。使用独立的 context，调用方的 ctx 可能已经被取消
func (u *Uploader) abort(up vault.Upload) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := up.Abort(ctx); err != nil {
		u.logger.Warn("abort upload failed", slog.String("upload_id", up.ID()), slog.String("err", err.Error()))
	}
}

// Manifest 把上传结果转换为归档 Manifest
func (r *Result) Manifest(vaultName, description string, partSize int64) *vault.Manifest {
	m := &vault.Manifest{
		Vault:       vaultName,
		Description: description,
		Size:        r.Size,
		PartSize:    partSize,
		TreeHash:    r.Checksum,
		CreatedAt:   time.Now().Unix(),
	}
	if r.Archive != nil {
		m.ArchiveID = r.Archive.ID
	}
	for _, p := range r.Parts {
		m.Parts = append(m.Parts, vault.PartRecord{Index: p.Index, Range: p.Range, Checksum: p.Checksum})
	}
	return m
}
