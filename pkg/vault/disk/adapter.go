package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"coldvault/pkg/treehash"
	"coldvault/pkg/types"
	"coldvault/pkg/vault"

	"github.com/google/uuid"
)

// Adapter 实现了 vault.Vault 接口，用本地目录模拟远端归档存储
//
//	root/uploads/<upload-id>/part-000000    进行中的分片
//	root/archives/<vault>/<archive-id>      完成后的归档数据
//	root/archives/<vault>/<archive-id>.manifest
type Adapter struct {
	rootPath string
}

// NewAdapter 创建一个新的磁盘归档适配器
func NewAdapter(root string) (*Adapter, error) {
	for _, dir := range []string{filepath.Join(root, "uploads"), filepath.Join(root, "archives")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vault dir: %w", err)
		}
	}
	return &Adapter{rootPath: root}, nil
}

func (a *Adapter) Root() string { return a.rootPath }

func (a *Adapter) archivePath(vaultName, archiveID string) string {
	return filepath.Join(a.rootPath, "archives", vaultName, archiveID)
}

func (a *Adapter) Initiate(ctx context.Context, in vault.InitiateInput) (vault.Upload, error) {
	if err := vault.ValidateName(in.Vault); err != nil {
		return nil, err
	}
	if err := types.ValidatePartSize(in.PartSize); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir := filepath.Join(a.rootPath, "uploads", id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	return &upload{
		adapter:     a,
		id:          id,
		dir:         dir,
		vaultName:   in.Vault,
		description: in.Description,
		partSize:    in.PartSize,
		parts:       make(map[int]vault.PartRecord),
	}, nil
}

// Retrieve 读回归档数据和 Manifest
func (a *Adapter) Retrieve(ctx context.Context, vaultName, archiveID string) (io.ReadCloser, *vault.Manifest, error) {
	if err := vault.ValidateName(vaultName); err != nil {
		return nil, nil, err
	}
	if _, err := uuid.Parse(archiveID); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", vault.ErrNotFound, archiveID)
	}

	path := a.archivePath(vaultName, archiveID)
	raw, err := os.ReadFile(path + ".manifest")
	if os.IsNotExist(err) {
		return nil, nil, vault.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	m, err := vault.DecodeManifest(raw)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, vault.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return f, m, nil
}

// upload 是一次进行中的分片上传
type upload struct {
	adapter     *Adapter
	id          string
	dir         string
	vaultName   string
	description string
	partSize    int64

	mu     sync.Mutex
	parts  map[int]vault.PartRecord
	closed bool
}

func (u *upload) ID() string { return u.id }

func (u *upload) partPath(index int) string {
	return filepath.Join(u.dir, fmt.Sprintf("part-%06d", index))
}

// UploadPart 校验区间和 Tree Hash 后原子写入
// 同一个分片可以重复上传，后写入的覆盖先写入的
func (u *upload) UploadPart(ctx context.Context, part vault.Part) error {
	if err := vault.CheckAlignment(part.Range, part.Index, u.partSize, len(part.Body)); err != nil {
		return err
	}
	if err := vault.CheckPart(part.Body, part.Checksum); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return vault.ErrUploadClosed
	}

	if err := writeAtomic(u.partPath(part.Index), func(w io.Writer) error {
		_, err := w.Write(part.Body)
		return err
	}); err != nil {
		return fmt.Errorf("failed to store part %d: %w", part.Index, err)
	}

	u.parts[part.Index] = vault.PartRecord{Index: part.Index, Range: part.Range, Checksum: part.Checksum}
	return nil
}

// Complete 拼接所有分片，重新计算整体 Tree Hash，与客户端声明的值比对
func (u *upload) Complete(ctx context.Context, size int64, checksum types.Checksum) (*vault.Archive, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, vault.ErrUploadClosed
	}

	m := &vault.Manifest{
		ArchiveID:   uuid.NewString(),
		Vault:       u.vaultName,
		Description: u.description,
		Size:        size,
		PartSize:    u.partSize,
		TreeHash:    checksum,
		CreatedAt:   time.Now().Unix(),
	}
	indexes := make([]int, 0, len(u.parts))
	for i := range u.parts {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		m.Parts = append(m.Parts, u.parts[i])
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	target := u.adapter.archivePath(u.vaultName, m.ArchiveID)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, err
	}

	hasher := treehash.NewHasher()
	err := writeAtomic(target, func(w io.Writer) error {
		mw := io.MultiWriter(w, hasher)
		for _, i := range indexes {
			if err := copyFile(mw, u.partPath(i)); err != nil {
				return fmt.Errorf("failed to assemble part %d: %w", i, err)
			}
		}
		got, err := hasher.Sum()
		if err != nil {
			return err
		}
		if got.Checksum() != checksum {
			return fmt.Errorf("%w: claimed %s, computed %s", vault.ErrChecksumMismatch, checksum.Short(), got.Checksum().Short())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	raw, err := vault.EncodeManifest(m)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(target+".manifest", func(w io.Writer) error {
		_, err := w.Write(raw)
		return err
	}); err != nil {
		os.Remove(target)
		return nil, err
	}

	u.closed = true
	if err := os.RemoveAll(u.dir); err != nil {
		// 归档已经完整落盘，残留的分片目录不影响结果
		slog.Warn("failed to clean upload dir", slog.String("dir", u.dir), slog.String("err", err.Error()))
	}

	return &vault.Archive{
		ID:       m.ArchiveID,
		Vault:    u.vaultName,
		Size:     size,
		TreeHash: checksum,
		Location: target,
	}, nil
}

func (u *upload) Abort(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	return os.RemoveAll(u.dir)
}

// writeAtomic 原子写入 (Atomic Write)
// 先写到同目录的临时文件，成功后 Rename。保证要么文件不存在，要么文件是完整的。
func writeAtomic(target string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(target)
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return err
	}
	// 如果成功 Rename 了，这个删除会失效，无害
	defer os.Remove(tempFile.Name())

	if err := fill(tempFile); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	return os.Rename(tempFile.Name(), target)
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return vault.ErrRangeInvalid
		}
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
