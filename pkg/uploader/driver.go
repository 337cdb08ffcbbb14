package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"coldvault/pkg/chunker"
	"coldvault/pkg/treehash"
	"coldvault/pkg/types"
	"coldvault/pkg/vault"
)

// State 是一次上传运行的状态
type State int

const (
	StateIdle State = iota
	StateReading
	StatePartReady
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StatePartReady:
		return "part-ready"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PartReceipt 是一个已成功提交的分片，调用方可用于日志或重试
type PartReceipt struct {
	Index    int
	Range    types.ByteRange
	Checksum types.Checksum
}

// Result 是一次成功上传的输出
type Result struct {
	Size     int64
	Checksum types.Checksum
	Parts    []PartReceipt
	Archive  *vault.Archive
}

// ProgressFunc 在每个 Segment 读完后回调
type ProgressFunc func(done, total int64)

type Option func(*Driver)

func WithProgress(fn ProgressFunc) Option {
	return func(d *Driver) { d.progress = fn }
}

// WithPartObserver 在每个分片提交成功后回调
func WithPartObserver(fn func(PartReceipt)) Option {
	return func(d *Driver) { d.onPart = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// Driver 把 Segmenter 和 Tree Hash Combiner 串起来，按分片驱动外部 sink。
// Driver 本身是无状态的，每次 Run 都有独立的运行状态，可以被多个 goroutine 复用。
type Driver struct {
	partSize int64
	progress ProgressFunc
	onPart   func(PartReceipt)
	logger   *slog.Logger
}

// NewDriver 校验分片大小。非法的分片大小属于调用方的编程错误，应在 CLI/配置层就被拦截。
func NewDriver(partSize int64, opts ...Option) (*Driver, error) {
	if err := types.ValidatePartSize(partSize); err != nil {
		return nil, err
	}
	d := &Driver{
		partSize: partSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Driver) PartSize() int64 { return d.partSize }

// run 是单次上传的全部可变状态，只有 Run 所在的 goroutine 会修改它
type run struct {
	state      State
	size       int64
	offset     int64
	prevOffset int64
	partIndex  int

	partDigests []types.Digest // 当前分片，每个分片边界清空
	fileDigests []types.Digest // 整个文件，用于最终的 Tree Hash
	buf         []byte         // 当前分片的原始数据，最多一个分片大小

	parts []PartReceipt
}

func (d *Driver) newRun(size int64) *run {
	return &run{
		state: StateReading,
		size:  size,
		buf:   make([]byte, 0, min(d.partSize, size)),
	}
}

// absorb 吸收一个 Segment: 两个摘要序列各追加一份，偏移前进，数据进入分片缓冲
func (r *run) absorb(seg chunker.Segment) {
	r.partDigests = append(r.partDigests, seg.Digest)
	r.fileDigests = append(r.fileDigests, seg.Digest)
	r.buf = append(r.buf, seg.Data...)
	r.offset += int64(seg.Len())
}

func (r *run) atBoundary(partSize int64) bool {
	return r.offset%partSize == 0 || r.offset == r.size
}

// releasePart 不论 sink 成功与否都要执行，缓冲区复用给下一个分片
func (r *run) releasePart() {
	r.buf = r.buf[:0]
	r.partDigests = r.partDigests[:0]
}

func (r *run) fail(err error) (*Result, error) {
	r.state = StateFailed
	r.releasePart()
	r.fileDigests = nil
	return nil, err
}

// Run 读取 r 直到 size 字节，按分片调用 sink.UploadPart，最后调用 sink.Complete。
// 分片与 Segment 严格按文件顺序处理；任何错误都会终止本次运行，不做重试。
func (d *Driver) Run(ctx context.Context, r io.Reader, size int64, sink vault.PartSink) (*Result, error) {
	if size == 0 {
		return nil, ErrEmptyArchive
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrSizeMismatch, size)
	}
	if err := types.CheckPartCount(size, d.partSize); err != nil {
		return nil, err
	}

	st := d.newRun(size)
	segs := chunker.NewSegmenter(r)

	for st.state == StateReading {
		// 只在 Segment 边界响应取消，此时缓冲区里只有完整的 Segment
		if err := ctx.Err(); err != nil {
			return st.fail(&StreamError{Offset: st.offset, Err: err})
		}

		seg, err := segs.Next()
		if errors.Is(err, io.EOF) {
			if st.offset == 0 {
				return st.fail(fmt.Errorf("%w: declared %d bytes but stream is empty", ErrEmptyArchive, size))
			}
			return st.fail(&StreamError{Offset: st.offset, Err: fmt.Errorf("%w: stream ended early, want %d bytes", ErrSizeMismatch, size)})
		}
		if err != nil {
			return st.fail(&StreamError{Offset: st.offset, Err: err})
		}
		if st.offset+int64(seg.Len()) > size {
			return st.fail(&StreamError{Offset: st.offset, Err: fmt.Errorf("%w: stream is longer than %d bytes", ErrSizeMismatch, size)})
		}

		st.absorb(seg)
		if d.progress != nil {
			d.progress(st.offset, size)
		}

		if st.atBoundary(d.partSize) {
			st.state = StatePartReady
			if err := d.submitPart(ctx, st, sink); err != nil {
				return st.fail(err)
			}
		}
	}

	// 流必须恰好在 size 处结束
	if _, err := segs.Next(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = fmt.Errorf("%w: stream is longer than %d bytes", ErrSizeMismatch, size)
		}
		return st.fail(&StreamError{Offset: st.offset, Err: err})
	}

	return d.finalize(ctx, st, sink)
}

// submitPart 处理 PartReady 状态
func (d *Driver) submitPart(ctx context.Context, st *run, sink vault.PartSink) error {
	defer st.releasePart()

	sum, err := treehash.Combine(st.partDigests)
	if err != nil {
		return err
	}
	part := vault.Part{
		Index:    st.partIndex,
		Range:    types.ByteRange{Start: st.prevOffset, Stop: st.offset - 1},
		Checksum: sum.Checksum(),
		Body:     st.buf,
	}

	if err := sink.UploadPart(ctx, part); err != nil {
		return &SinkError{
			Op:        OpUploadPart,
			PartIndex: part.Index,
			Range:     part.Range,
			Offset:    st.offset,
			Err:       err,
		}
	}

	d.logger.Debug("part uploaded",
		slog.Int("index", part.Index),
		slog.Int("length", len(part.Body)),
		slog.String("range", part.Range.ContentRange()),
		slog.Int64("size", st.size),
		slog.String("tree_hash", part.Checksum.String()),
	)

	receipt := PartReceipt{Index: part.Index, Range: part.Range, Checksum: part.Checksum}
	st.parts = append(st.parts, receipt)
	if d.onPart != nil {
		d.onPart(receipt)
	}

	st.prevOffset = st.offset
	st.partIndex++
	if st.offset == st.size {
		st.state = StateFinalizing
	} else {
		st.state = StateReading
	}
	return nil
}

// finalize 处理 Finalizing 状态
func (d *Driver) finalize(ctx context.Context, st *run, sink vault.PartSink) (*Result, error) {
	sum, err := treehash.Combine(st.fileDigests)
	if err != nil {
		return st.fail(err)
	}
	checksum := sum.Checksum()
	d.logger.Debug("archive tree hash", slog.String("tree_hash", checksum.String()), slog.Int64("size", st.size))

	archive, err := sink.Complete(ctx, st.size, checksum)
	if err != nil {
		return st.fail(&SinkError{Op: OpComplete, PartIndex: -1, Offset: st.offset, Err: err})
	}

	st.state = StateDone
	st.fileDigests = nil
	return &Result{
		Size:     st.size,
		Checksum: checksum,
		Parts:    st.parts,
		Archive:  archive,
	}, nil
}
