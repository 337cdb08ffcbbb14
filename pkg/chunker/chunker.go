package chunker

import (
	"errors"
	"fmt"
	"io"

	"coldvault/pkg/treehash"
	"coldvault/pkg/types"
)

// Segment 是从流中按顺序切出的一个定长块 (最后一块可能更短)
type Segment struct {
	Offset int64 // 本块在文件中的起始偏移
	Data   []byte
	Digest types.Digest
}

func (s Segment) Len() int { return len(s.Data) }

// End 返回本块之后的下一个偏移
func (s Segment) End() int64 { return s.Offset + int64(len(s.Data)) }

// ReadError 记录读流失败时已经成功读到的偏移，方便排查
type ReadError struct {
	Offset int64
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read failed at offset %d: %v", e.Offset, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Segmenter 按固定 1 MiB 顺序读取字节流，每次产出一个带摘要的 Segment。
// 序列是惰性的、有限的，且不可重放。
type Segmenter struct {
	r      io.Reader
	size   int
	buf    []byte
	offset int64
	done   bool
	err    error
}

// NewSegmenter 使用协议规定的 SegmentSize
func NewSegmenter(r io.Reader) *Segmenter {
	return NewSegmenterSize(r, types.SegmentSize)
}

// NewSegmenterSize 允许指定块大小，只在测试里用更小的值
func NewSegmenterSize(r io.Reader, size int) *Segmenter {
	return &Segmenter{
		r:    r,
		size: size,
		buf:  make([]byte, size),
	}
}

// Offset 返回已经成功读取的字节数
func (s *Segmenter) Offset() int64 { return s.offset }

// Next 返回下一个 Segment。流结束时返回 io.EOF。
// 返回的 Data 只在下一次调用 Next 之前有效。
func (s *Segmenter) Next() (Segment, error) {
	if s.err != nil {
		return Segment{}, s.err
	}
	if s.done {
		return Segment{}, io.EOF
	}

	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		// 尾部不足 1 MiB，这是最后一块
		s.done = true
	case errors.Is(err, io.EOF):
		s.done = true
		return Segment{}, io.EOF
	default:
		s.err = &ReadError{Offset: s.offset, Err: err}
		return Segment{}, s.err
	}

	seg := Segment{
		Offset: s.offset,
		Data:   s.buf[:n],
		Digest: treehash.SumSegment(s.buf[:n]),
	}
	s.offset += int64(n)
	return seg, nil
}
