package client

import (
	"context"
	"fmt"
	"io"
	"strings"

	vaultrpc "coldvault/pkg/api/vaultrpc/v1"
	"coldvault/pkg/types"
	"coldvault/pkg/vault"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// 每个数据帧的大小，远小于 gRPC 默认的 4 MiB 消息上限
const frameSize = types.SegmentSize

// RemoteVault 通过 gRPC 把 vault.Vault 接口转发给 cv-server
type RemoteVault struct {
	client *VaultClient
}

func NewRemoteVault(c *VaultClient) *RemoteVault {
	return &RemoteVault{client: c}
}

func (v *RemoteVault) Initiate(ctx context.Context, in vault.InitiateInput) (vault.Upload, error) {
	resp, err := v.client.Vault.InitiateUpload(ctx, &vaultrpc.InitiateUploadRequest{
		Vault:       in.Vault,
		Description: in.Description,
		PartSize:    in.PartSize,
	})
	if err != nil {
		return nil, fromStatus(err)
	}
	return &remoteUpload{rpc: v.client.Vault, id: resp.UploadID}, nil
}

// Retrieve 第一帧是 Manifest，之后的帧通过返回的 ReadCloser 读出
func (v *RemoteVault) Retrieve(ctx context.Context, vaultName, archiveID string) (io.ReadCloser, *vault.Manifest, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := v.client.Vault.Retrieve(ctx, &vaultrpc.RetrieveRequest{Vault: vaultName, ArchiveID: archiveID})
	if err != nil {
		cancel()
		return nil, nil, fromStatus(err)
	}

	first, err := stream.Recv()
	if err != nil {
		cancel()
		if err == io.EOF {
			return nil, nil, fmt.Errorf("retrieve %s: server closed stream before manifest", archiveID)
		}
		return nil, nil, fromStatus(err)
	}
	if first.Manifest == nil {
		cancel()
		return nil, nil, fmt.Errorf("retrieve %s: first frame has no manifest", archiveID)
	}

	return &retrieveReader{stream: stream, cancel: cancel}, first.Manifest, nil
}

type remoteUpload struct {
	rpc vaultrpc.VaultServiceClient
	id  string
}

func (u *remoteUpload) ID() string { return u.id }

// UploadPart 每个分片一条流: Header 帧 + 按 frameSize 切开的数据帧
func (u *remoteUpload) UploadPart(ctx context.Context, part vault.Part) error {
	stream, err := u.rpc.UploadPart(ctx)
	if err != nil {
		return fromStatus(err)
	}

	header := &vaultrpc.UploadPartRequest{Header: &vaultrpc.PartHeader{
		UploadID: u.id,
		Index:    part.Index,
		Range:    part.Range,
		Checksum: part.Checksum,
	}}
	if err := stream.Send(header); err != nil {
		return sendError(stream, err)
	}

	for body := part.Body; len(body) > 0; {
		n := min(len(body), frameSize)
		if err := stream.Send(&vaultrpc.UploadPartRequest{Data: body[:n]}); err != nil {
			return sendError(stream, err)
		}
		body = body[n:]
	}

	if _, err := stream.CloseAndRecv(); err != nil {
		return fromStatus(err)
	}
	return nil
}

// sendError 服务端提前结束流时 Send 只会返回 io.EOF，真正的原因要从 CloseAndRecv 拿
func sendError(stream grpc.ClientStreamingClient[vaultrpc.UploadPartRequest, vaultrpc.UploadPartResponse], err error) error {
	if err == io.EOF {
		_, err = stream.CloseAndRecv()
	}
	return fromStatus(err)
}

func (u *remoteUpload) Complete(ctx context.Context, size int64, checksum types.Checksum) (*vault.Archive, error) {
	resp, err := u.rpc.CompleteUpload(ctx, &vaultrpc.CompleteUploadRequest{
		UploadID: u.id,
		Size:     size,
		Checksum: checksum,
	})
	if err != nil {
		return nil, fromStatus(err)
	}
	return &vault.Archive{
		ID:       resp.ArchiveID,
		Vault:    resp.Vault,
		Size:     resp.Size,
		TreeHash: resp.TreeHash,
		Location: resp.Location,
	}, nil
}

func (u *remoteUpload) Abort(ctx context.Context) error {
	_, err := u.rpc.AbortUpload(ctx, &vaultrpc.AbortUploadRequest{UploadID: u.id})
	return fromStatus(err)
}

// retrieveReader 将 Retrieve 流包装为 io.ReadCloser
type retrieveReader struct {
	stream grpc.ServerStreamingClient[vaultrpc.RetrieveResponse]
	cancel context.CancelFunc
	buf    []byte
	err    error
}

func (r *retrieveReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		resp, err := r.stream.Recv()
		if err != nil {
			if err != io.EOF {
				err = fromStatus(err)
			}
			r.err = err
			return 0, err
		}
		r.buf = resp.Data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *retrieveReader) Close() error {
	r.cancel()
	return nil
}

// fromStatus 把 gRPC 状态码还原成归档层的哨兵错误，方便上层用 errors.Is 判断
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	var sentinel error
	switch st.Code() {
	case codes.DataLoss:
		sentinel = vault.ErrChecksumMismatch
	case codes.NotFound:
		sentinel = vault.ErrNotFound
		if strings.Contains(st.Message(), vault.ErrUploadNotFound.Error()) {
			sentinel = vault.ErrUploadNotFound
		}
	case codes.FailedPrecondition:
		sentinel = vault.ErrUploadClosed
	case codes.InvalidArgument:
		for _, known := range []error{vault.ErrRangeInvalid, vault.ErrInvalidName, types.ErrInvalidPartSize, types.ErrInvalidChecksum, types.ErrTooManyParts} {
			if strings.Contains(st.Message(), known.Error()) {
				sentinel = known
				break
			}
		}
	case codes.Canceled:
		sentinel = context.Canceled
	case codes.DeadlineExceeded:
		sentinel = context.DeadlineExceeded
	}

	if sentinel == nil {
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
