package treehash

import (
	"fmt"
	"io"

	"coldvault/pkg/types"
)

// Hasher 是增量式的 Tree Hash 计算器，实现了 io.Writer
// 写入的字节按 1 MiB 切成 Segment，每满一个 Segment 记录一个叶子摘要。
// 主要给服务端校验和本地预计算使用，上传主链路走 uploader.Driver。
type Hasher struct {
	buf     []byte
	leaves  []types.Digest
	written int64
}

func NewHasher() *Hasher {
	return &Hasher{buf: make([]byte, 0, types.SegmentSize)}
}

// Write 实现 io.Writer，永远不会返回错误
func (h *Hasher) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		room := types.SegmentSize - len(h.buf)
		take := min(room, len(p))
		h.buf = append(h.buf, p[:take]...)
		p = p[take:]
		if len(h.buf) == types.SegmentSize {
			h.leaves = append(h.leaves, SumSegment(h.buf))
			h.buf = h.buf[:0]
		}
	}
	h.written += int64(n)
	return n, nil
}

// Size 返回已经写入的字节数
func (h *Hasher) Size() int64 { return h.written }

// Leaves 返回目前为止 (包含未满的尾部 Segment) 的叶子摘要
func (h *Hasher) Leaves() []types.Digest {
	leaves := make([]types.Digest, len(h.leaves), len(h.leaves)+1)
	copy(leaves, h.leaves)
	if len(h.buf) > 0 {
		leaves = append(leaves, SumSegment(h.buf))
	}
	return leaves
}

// Sum 返回当前所有数据的 Tree Hash；没有写入任何数据时返回 ErrEmptySequence
// 调用 Sum 不会改变 Hasher 的状态，可以继续写入
func (h *Hasher) Sum() (types.Digest, error) {
	return Combine(h.Leaves())
}

func (h *Hasher) Reset() {
	h.buf = h.buf[:0]
	h.leaves = h.leaves[:0]
	h.written = 0
}

// SumReader 读完 r 并返回 Tree Hash 和字节数
func SumReader(r io.Reader) (types.Checksum, int64, error) {
	h := NewHasher()
	if _, err := io.CopyBuffer(h, r, make([]byte, types.SegmentSize)); err != nil {
		return "", h.Size(), fmt.Errorf("failed to read input: %w", err)
	}
	d, err := h.Sum()
	if err != nil {
		return "", 0, err
	}
	return d.Checksum(), h.Size(), nil
}

// SumBytes 是 SumReader 的内存版本
func SumBytes(data []byte) (types.Digest, error) {
	h := NewHasher()
	_, _ = h.Write(data)
	return h.Sum()
}
