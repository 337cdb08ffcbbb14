package uploader

import (
	"errors"
	"fmt"

	"coldvault/pkg/types"
)

var (
	// ErrEmptyArchive 空文件策略：直接拒绝，不会调用任何 sink
	ErrEmptyArchive = errors.New("refusing to upload empty archive")

	// ErrSizeMismatch 流的实际长度与声明的 size 不一致
	ErrSizeMismatch = errors.New("stream length does not match declared size")
)

// StreamError 读流阶段的致命错误，Offset 是最后一次成功读取后的偏移
type StreamError struct {
	Offset int64
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error at offset %d: %v", e.Offset, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

const (
	OpUploadPart = "upload-part"
	OpComplete   = "complete"
)

// SinkError 外部 sink (上传分片/完成归档) 失败
type SinkError struct {
	Op        string
	PartIndex int // Op 为 complete 时为 -1
	Range     types.ByteRange
	Offset    int64 // sink 调用失败时已从流中读取的字节数，包含失败的分片
	Err       error
}

func (e *SinkError) Error() string {
	if e.Op == OpComplete {
		return fmt.Sprintf("%s failed after %d bytes: %v", e.Op, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s failed for part %d (%s) at offset %d: %v", e.Op, e.PartIndex, e.Range.ContentRange(), e.Offset, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
