package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"coldvault/pkg/types"
)

var (
	ErrNotFound         = errors.New("archive not found")
	ErrUploadNotFound   = errors.New("upload not found")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrRangeInvalid     = errors.New("invalid part range")
	ErrUploadClosed     = errors.New("upload already completed or aborted")
	ErrInvalidName      = errors.New("invalid vault name")
)

// Part 是交给远端的一个分片
// Body 只在 UploadPart 调用期间有效，实现方不能持有它
type Part struct {
	Index    int
	Range    types.ByteRange
	Checksum types.Checksum
	Body     []byte
}

// Archive 是 Complete 成功后的结果
type Archive struct {
	ID       string
	Vault    string
	Size     int64
	TreeHash types.Checksum
	Location string
}

// PartSink 是上传驱动唯一依赖的能力：上传分片 + 完成归档
type PartSink interface {
	// UploadPart 按文件顺序被调用，失败即终止本次上传 (本层不重试)
	UploadPart(ctx context.Context, part Part) error

	// Complete 在所有分片成功后调用一次
	Complete(ctx context.Context, size int64, checksum types.Checksum) (*Archive, error)
}

// Upload 是一次已经初始化的分片上传会话
type Upload interface {
	PartSink

	// ID 返回远端分配的 upload id
	ID() string

	// Abort 放弃上传并清理远端的中间状态
	Abort(ctx context.Context) error
}

type InitiateInput struct {
	Vault       string
	Description string
	PartSize    int64
}

// Vault defines the interface for a remote archival store.
// Implementations can be local disk, S3, or a remote cv-server.
type Vault interface {
	Initiate(ctx context.Context, in InitiateInput) (Upload, error)
}

// Retriever 是可选能力：读回归档数据和它的 Manifest
type Retriever interface {
	Retrieve(ctx context.Context, vaultName, archiveID string) (io.ReadCloser, *Manifest, error)
}

var vaultNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,255}$`)

// ValidateName 与 Glacier 的 vault 命名规则一致：字母数字和 "._-"，最长 255
func ValidateName(name string) error {
	if !vaultNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
