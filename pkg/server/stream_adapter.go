package server

import (
	"errors"
	"fmt"

	vaultrpc "coldvault/pkg/api/vaultrpc/v1"
)

var errProtocol = errors.New("protocol violation")

// =============================================================================
// 1. Part Adapter: gRPC Stream -> io.Reader
// =============================================================================

// PartStream 定义了 UploadPart 所需的最小集合，方便测试 Mock
type PartStream interface {
	Recv() (*vaultrpc.UploadPartRequest, error)
}

// PartStreamReader 将 UploadPart 流 (Header 之后的数据帧) 包装为 io.Reader
type PartStreamReader struct {
	stream      PartStream
	internalBuf []byte // 内部缓冲：存储从 Recv 拿到的、还没被 Read 读走的数据
	err         error  // 存储流的状态错误 (如 EOF)
}

func NewPartStreamReader(stream PartStream) *PartStreamReader {
	return &PartStreamReader{stream: stream}
}

// Read 实现了 io.Reader 接口
// 这是一个典型的“缓冲-消费”状态机
func (r *PartStreamReader) Read(p []byte) (int, error) {
	for len(r.internalBuf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		req, err := r.stream.Recv()
		if err != nil {
			r.err = err // 记住错误 (可能是 io.EOF)
			return 0, err
		}
		// Header 只能出现在第一帧
		if req.Header != nil {
			r.err = fmt.Errorf("%w: unexpected header frame", errProtocol)
			return 0, r.err
		}
		// 空帧直接跳过
		r.internalBuf = req.Data
	}

	copied := copy(p, r.internalBuf)
	r.internalBuf = r.internalBuf[copied:]
	return copied, nil
}

// =============================================================================
// 2. Retrieve Adapter: io.Writer -> gRPC Stream
// =============================================================================

// RetrieveStream 定义了 Retrieve 所需的最小集合
type RetrieveStream interface {
	Send(*vaultrpc.RetrieveResponse) error
}

// RetrieveStreamWriter 将 Retrieve 流包装为 io.Writer，每次 Write 发一帧
type RetrieveStreamWriter struct {
	stream RetrieveStream
}

func NewRetrieveStreamWriter(stream RetrieveStream) *RetrieveStreamWriter {
	return &RetrieveStreamWriter{stream: stream}
}

// Write 实现了 io.Writer 接口
// gRPC Send 会立刻序列化 p，所以这里不需要拷贝
func (w *RetrieveStreamWriter) Write(p []byte) (int, error) {
	if err := w.stream.Send(&vaultrpc.RetrieveResponse{Data: p}); err != nil {
		return 0, fmt.Errorf("grpc send failed: %w", err)
	}
	return len(p), nil
}
