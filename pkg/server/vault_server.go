package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	vaultrpc "coldvault/pkg/api/vaultrpc/v1"
	"coldvault/pkg/meta"
	"coldvault/pkg/types"
	"coldvault/pkg/vault"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// 下载时每一帧的大小，远小于 gRPC 默认的 4 MiB 消息上限
const retrieveFrameSize = types.SegmentSize

// Catalog 是服务端可选的索引能力，meta.Repository 实现了它
type Catalog interface {
	SaveArchive(ctx context.Context, m *vault.Manifest) error
	RecordUpload(ctx context.Context, u *meta.UploadModel) error
}

// VaultServer 把 gRPC 请求转发给底层的 vault.Vault (disk 或 s3)
// 上传会话只保存在内存里，服务重启后客户端需要重新 Initiate
type VaultServer struct {
	vaultrpc.UnimplementedVaultServiceServer

	backend vault.Vault
	catalog Catalog
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	upload      vault.Upload
	vaultName   string
	description string
	partSize    int64

	mu    sync.Mutex
	parts map[int]vault.PartRecord
	bytes int64
}

// NewVaultServer catalog 可以为 nil
func NewVaultServer(backend vault.Vault, catalog Catalog, logger *slog.Logger) *VaultServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &VaultServer{
		backend:  backend,
		catalog:  catalog,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Register 把服务挂到 gRPC Server 上
func (s *VaultServer) Register(r grpc.ServiceRegistrar) {
	vaultrpc.RegisterVaultServiceServer(r, s)
}

func (s *VaultServer) lookup(uploadID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vault.ErrUploadNotFound, uploadID)
	}
	return sess, nil
}

func (s *VaultServer) drop(uploadID string) {
	s.mu.Lock()
	delete(s.sessions, uploadID)
	s.mu.Unlock()
}

// =============================================================================
// 1. InitiateUpload
// =============================================================================

func (s *VaultServer) InitiateUpload(ctx context.Context, req *vaultrpc.InitiateUploadRequest) (*vaultrpc.InitiateUploadResponse, error) {
	up, err := s.backend.Initiate(ctx, vault.InitiateInput{
		Vault:       req.Vault,
		Description: req.Description,
		PartSize:    req.PartSize,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	s.mu.Lock()
	s.sessions[up.ID()] = &session{
		upload:      up,
		vaultName:   req.Vault,
		description: req.Description,
		partSize:    req.PartSize,
		parts:       make(map[int]vault.PartRecord),
	}
	s.mu.Unlock()

	s.recordUpload(ctx, &meta.UploadModel{UploadID: up.ID(), Vault: req.Vault, Status: meta.UploadInProgress})
	return &vaultrpc.InitiateUploadResponse{UploadID: up.ID()}, nil
}

// =============================================================================
// 2. UploadPart (Client-Side Streaming)
// =============================================================================

// UploadPart 协议约定：第一帧必须是 Header，后续帧是分片数据
func (s *VaultServer) UploadPart(stream grpc.ClientStreamingServer[vaultrpc.UploadPartRequest, vaultrpc.UploadPartResponse]) error {
	ctx := stream.Context()

	// --- Step 1: 握手阶段 ---
	first, err := stream.Recv()
	if err == io.EOF {
		return status.Error(codes.InvalidArgument, "empty stream: expected header frame")
	}
	if err != nil {
		return status.Errorf(codes.Internal, "failed to receive header: %v", err)
	}
	h := first.Header
	if h == nil {
		return status.Error(codes.InvalidArgument, "protocol violation: first frame must be a part header")
	}

	sess, err := s.lookup(h.UploadID)
	if err != nil {
		return toStatus(err)
	}

	// 区间长度决定缓冲大小，先卡住上限，避免恶意请求撑爆内存
	if !h.Range.IsValid() || h.Range.Len() > sess.partSize {
		return status.Errorf(codes.InvalidArgument, "part %d: range %s exceeds part size %d", h.Index, h.Range, sess.partSize)
	}

	// --- Step 2: 接收数据 ---
	body := make([]byte, h.Range.Len())
	reader := NewPartStreamReader(stream)
	if _, err := io.ReadFull(reader, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return status.Errorf(codes.InvalidArgument, "part %d: stream ended before %d bytes", h.Index, h.Range.Len())
		}
		return toStatus(err)
	}
	// 多余的数据同样是协议错误
	var extra [1]byte
	if n, err := reader.Read(extra[:]); n > 0 {
		return status.Errorf(codes.InvalidArgument, "part %d: more data than range %s", h.Index, h.Range)
	} else if err != nil && err != io.EOF {
		return toStatus(err)
	}

	// --- Step 3: 交给底层存储 ---
	err = sess.upload.UploadPart(ctx, vault.Part{
		Index:    h.Index,
		Range:    h.Range,
		Checksum: h.Checksum,
		Body:     body,
	})
	if err != nil {
		return toStatus(err)
	}

	sess.mu.Lock()
	if _, seen := sess.parts[h.Index]; !seen {
		sess.bytes += h.Range.Len()
	}
	sess.parts[h.Index] = vault.PartRecord{Index: h.Index, Range: h.Range, Checksum: h.Checksum}
	committed := sess.bytes
	sess.mu.Unlock()

	s.recordUpload(ctx, &meta.UploadModel{UploadID: h.UploadID, Vault: sess.vaultName, Status: meta.UploadInProgress, Offset: committed})

	return stream.SendAndClose(&vaultrpc.UploadPartResponse{Index: h.Index, Checksum: h.Checksum})
}

// =============================================================================
// 3. CompleteUpload / AbortUpload
// =============================================================================

func (s *VaultServer) CompleteUpload(ctx context.Context, req *vaultrpc.CompleteUploadRequest) (*vaultrpc.CompleteUploadResponse, error) {
	sess, err := s.lookup(req.UploadID)
	if err != nil {
		return nil, toStatus(err)
	}

	archive, err := sess.upload.Complete(ctx, req.Size, req.Checksum)
	if err != nil {
		s.recordUpload(ctx, &meta.UploadModel{UploadID: req.UploadID, Vault: sess.vaultName, Status: meta.UploadFailed, Error: err.Error()})
		return nil, toStatus(err)
	}
	s.drop(req.UploadID)

	s.logger.Info("archive completed",
		slog.String("vault", archive.Vault),
		slog.String("archive_id", archive.ID),
		slog.Int64("size", archive.Size),
		slog.String("tree_hash", archive.TreeHash.Short()),
	)

	if s.catalog != nil {
		if err := s.catalog.SaveArchive(ctx, sess.manifest(archive)); err != nil {
			// 归档已经安全落盘，索引失败只记录日志
			s.logger.Warn("failed to save archive index", slog.String("archive_id", archive.ID), slog.String("err", err.Error()))
		}
	}
	s.recordUpload(ctx, &meta.UploadModel{UploadID: req.UploadID, Vault: sess.vaultName, Status: meta.UploadCompleted, Offset: req.Size, ArchiveID: archive.ID})

	return &vaultrpc.CompleteUploadResponse{
		ArchiveID: archive.ID,
		Vault:     archive.Vault,
		Size:      archive.Size,
		TreeHash:  archive.TreeHash,
		Location:  archive.Location,
	}, nil
}

func (s *VaultServer) AbortUpload(ctx context.Context, req *vaultrpc.AbortUploadRequest) (*vaultrpc.AbortUploadResponse, error) {
	sess, err := s.lookup(req.UploadID)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := sess.upload.Abort(ctx); err != nil {
		return nil, toStatus(err)
	}
	s.drop(req.UploadID)
	s.recordUpload(ctx, &meta.UploadModel{UploadID: req.UploadID, Vault: sess.vaultName, Status: meta.UploadAborted})
	return &vaultrpc.AbortUploadResponse{}, nil
}

// =============================================================================
// 4. Retrieve (Server-Side Streaming)
// =============================================================================

func (s *VaultServer) Retrieve(req *vaultrpc.RetrieveRequest, stream grpc.ServerStreamingServer[vaultrpc.RetrieveResponse]) error {
	r, ok := s.backend.(vault.Retriever)
	if !ok {
		return status.Error(codes.Unimplemented, "backend does not support retrieval")
	}

	rc, m, err := r.Retrieve(stream.Context(), req.Vault, req.ArchiveID)
	if err != nil {
		return toStatus(err)
	}
	defer rc.Close()

	if err := stream.Send(&vaultrpc.RetrieveResponse{Manifest: m}); err != nil {
		return err
	}

	// 包一层隐藏 *os.File 的 WriterTo，保证按 buf 大小分帧
	buf := make([]byte, retrieveFrameSize)
	if _, err := io.CopyBuffer(NewRetrieveStreamWriter(stream), struct{ io.Reader }{rc}, buf); err != nil {
		return status.Errorf(codes.Internal, "retrieve failed: %v", err)
	}
	return nil
}

// recordUpload 会话状态只是旁路记录，失败不影响请求
func (s *VaultServer) recordUpload(ctx context.Context, u *meta.UploadModel) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.RecordUpload(ctx, u); err != nil {
		s.logger.Warn("failed to record upload status", slog.String("upload_id", u.UploadID), slog.String("err", err.Error()))
	}
}

func (sess *session) manifest(a *vault.Archive) *vault.Manifest {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	m := &vault.Manifest{
		ArchiveID:   a.ID,
		Vault:       sess.vaultName,
		Description: sess.description,
		Size:        a.Size,
		PartSize:    sess.partSize,
		TreeHash:    a.TreeHash,
		CreatedAt:   time.Now().Unix(),
	}
	for _, p := range sess.parts {
		m.Parts = append(m.Parts, p)
	}
	m.SortParts()
	return m
}
