package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	vaultrpc "coldvault/pkg/api/vaultrpc/v1"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// =============================================================================
// 1. Logging Interceptor (结构化日志)
// =============================================================================

// Interceptors 持有拦截器共用的 logger
type Interceptors struct {
	logger *slog.Logger
}

func NewInterceptors(logger *slog.Logger) *Interceptors {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptors{logger: logger}
}

// Unary 记录普通请求 (Initiate / Complete / Abort)
func (i *Interceptors) Unary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	i.logRPC(ctx, "unary", info.FullMethod, time.Since(start), err)
	return resp, err
}

// Stream 记录流式请求 (UploadPart / Retrieve)，附带帧数和载荷字节数
func (i *Interceptors) Stream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	cs := &countingStream{ServerStream: ss}
	err := handler(srv, cs)
	i.logRPC(ss.Context(), "stream", info.FullMethod, time.Since(start), err,
		slog.Int64("frames_in", cs.framesIn.Load()),
		slog.Int64("frames_out", cs.framesOut.Load()),
		slog.Int64("payload_bytes", cs.payload.Load()),
	)
	return err
}

func (i *Interceptors) logRPC(ctx context.Context, kind, method string, duration time.Duration, err error, extra ...slog.Attr) {
	code := status.Code(err)

	level := slog.LevelInfo
	switch code {
	case codes.OK:
	case codes.Internal, codes.Unknown, codes.DataLoss:
		// DataLoss 意味着客户端和服务端算出的 Tree Hash 不一致，需要人看
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("kind", kind),
		slog.String("method", method),
		slog.String("code", code.String()),
		slog.Duration("dur", duration),
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, slog.String("peer", p.Addr.String()))
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", status.Convert(err).Message()))
	}
	i.logger.LogAttrs(ctx, level, "rpc", append(attrs, extra...)...)
}

// countingStream 统计分片数据帧，Header 和 Manifest 帧不计入载荷
type countingStream struct {
	grpc.ServerStream
	framesIn  atomic.Int64
	framesOut atomic.Int64
	payload   atomic.Int64
}

func (s *countingStream) RecvMsg(m any) error {
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	s.framesIn.Add(1)
	if req, ok := m.(*vaultrpc.UploadPartRequest); ok {
		s.payload.Add(int64(len(req.Data)))
	}
	return nil
}

func (s *countingStream) SendMsg(m any) error {
	if err := s.ServerStream.SendMsg(m); err != nil {
		return err
	}
	s.framesOut.Add(1)
	if resp, ok := m.(*vaultrpc.RetrieveResponse); ok {
		s.payload.Add(int64(len(resp.Data)))
	}
	return nil
}

// =============================================================================
// 2. Recovery Interceptor
// =============================================================================

func (i *Interceptors) UnaryRecovery(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = i.recoverFromPanic(info.FullMethod, r)
		}
	}()
	return handler(ctx, req)
}

func (i *Interceptors) StreamRecovery(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = i.recoverFromPanic(info.FullMethod, r)
		}
	}()
	return handler(srv, ss)
}

func (i *Interceptors) recoverFromPanic(method string, p any) error {
	i.logger.Error("🔥 PANIC RECOVERED",
		slog.String("method", method),
		slog.Any("panic", p),
		slog.String("stack", string(debug.Stack())),
	)
	// 返回 Internal 给客户端，而不是直接断开连接
	return status.Errorf(codes.Internal, "internal server error: panic recovered")
}
