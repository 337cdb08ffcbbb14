package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"coldvault/pkg/treehash"
	"coldvault/pkg/types"
	"coldvault/pkg/vault"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3 要求除最后一片外每片至少 5 MiB
const MinS3PartSize = 5 * types.MiB

const manifestSuffix = ".treehash.cbor"

// API 是 Adapter 用到的 S3 操作子集，*s3.Client 实现了它
type API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Adapter 实现了 vault.Vault 接口，使用 S3 Multipart Upload 作为归档后端
type Adapter struct {
	client API
	bucket string
	prefix string
}

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	Profile         string // ~/.aws/config 里的命名 profile
	AccessKeyID     string
	SecretAccessKey string
}

// NewAdapter 初始化 S3 客户端 (适配 AWS SDK v2 最新规范)
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	// 没有显式给出 Key 时走默认凭证链 (环境变量 / profile / IMDS)
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// 如果指定了 Endpoint (比如 MinIO 的 localhost:9000)，则覆盖默认值
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO 必须强制使用 Path Style
		o.UsePathStyle = true
	})

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)})
	if err != nil {
		_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(cfg.Bucket)})
		if err != nil {
			// 可能因为并发创建或权限问题报错，生产环境建议手动管理 Bucket
			slog.Warn("failed to ensure bucket exists", slog.String("bucket", cfg.Bucket), slog.String("err", err.Error()))
		}
	}

	return NewAdapterWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewAdapterWithClient 使用已经构造好的客户端，Bucket 需要已经存在
func NewAdapterWithClient(client API, bucket, prefix string) *Adapter {
	return &Adapter{client: client, bucket: bucket, prefix: prefix}
}

// objectKey Logic: prefix/vault/archive-id
func (a *Adapter) objectKey(vaultName, archiveID string) string {
	return path.Join(a.prefix, vaultName, archiveID)
}

func (a *Adapter) Initiate(ctx context.Context, in vault.InitiateInput) (vault.Upload, error) {
	if err := vault.ValidateName(in.Vault); err != nil {
		return nil, err
	}
	if err := types.ValidatePartSize(in.PartSize); err != nil {
		return nil, err
	}
	if in.PartSize < MinS3PartSize {
		return nil, fmt.Errorf("%w: s3 requires parts of at least %d bytes", types.ErrInvalidPartSize, int64(MinS3PartSize))
	}

	archiveID := uuid.NewString()
	key := a.objectKey(in.Vault, archiveID)

	resp, err := a.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"description": in.Description,
			"part-size":   strconv.FormatInt(in.PartSize, 10),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("s3 create multipart upload failed: %w", err)
	}

	return &upload{
		adapter:     a,
		uploadID:    aws.ToString(resp.UploadId),
		key:         key,
		archiveID:   archiveID,
		vaultName:   in.Vault,
		description: in.Description,
		partSize:    in.PartSize,
		parts:       make(map[int]completedPart),
	}, nil
}

// Retrieve 下载 Manifest 和归档数据
func (a *Adapter) Retrieve(ctx context.Context, vaultName, archiveID string) (io.ReadCloser, *vault.Manifest, error) {
	key := a.objectKey(vaultName, archiveID)

	mresp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key + manifestSuffix),
	})
	if err != nil {
		return nil, nil, mapNotFound(err)
	}
	raw, err := io.ReadAll(mresp.Body)
	mresp.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("s3 manifest read failed: %w", err)
	}
	m, err := vault.DecodeManifest(raw)
	if err != nil {
		return nil, nil, err
	}

	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, mapNotFound(err)
	}
	return resp.Body, m, nil
}

// 将 AWS 的 NoSuchKey 错误映射为我们自己的 ErrNotFound
func mapNotFound(err error) error {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return vault.ErrNotFound
	}
	return fmt.Errorf("s3 get failed: %w", err)
}

type completedPart struct {
	record vault.PartRecord
	etag   string
}

type upload struct {
	adapter     *Adapter
	uploadID    string
	key         string
	archiveID   string
	vaultName   string
	description string
	partSize    int64

	mu     sync.Mutex
	parts  map[int]completedPart
	closed bool
}

func (u *upload) ID() string { return u.uploadID }

// UploadPart 上传一个分片，S3 的 PartNumber 从 1 开始
func (u *upload) UploadPart(ctx context.Context, part vault.Part) error {
	if err := vault.CheckAlignment(part.Range, part.Index, u.partSize, len(part.Body)); err != nil {
		return err
	}
	// S3 不认识 Tree Hash，只能在发送前自己校验
	if err := vault.CheckPart(part.Body, part.Checksum); err != nil {
		return err
	}
	u.mu.Lock()
	closed := u.closed
	u.mu.Unlock()
	if closed {
		return vault.ErrUploadClosed
	}

	resp, err := u.adapter.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.adapter.bucket),
		Key:           aws.String(u.key),
		UploadId:      aws.String(u.uploadID),
		PartNumber:    aws.Int32(int32(part.Index + 1)),
		Body:          bytes.NewReader(part.Body),
		ContentLength: aws.Int64(int64(len(part.Body))),
	})
	if err != nil {
		return fmt.Errorf("s3 upload part %d failed: %w", part.Index+1, err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.parts[part.Index] = completedPart{
		record: vault.PartRecord{Index: part.Index, Range: part.Range, Checksum: part.Checksum},
		etag:   aws.ToString(resp.ETag),
	}
	return nil
}

// Complete 校验整体 Tree Hash，先写 Manifest sidecar 再完成 Multipart Upload
// 任何一步失败都保持上传为打开状态，调用方仍然可以 Abort
func (u *upload) Complete(ctx context.Context, size int64, checksum types.Checksum) (*vault.Archive, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, vault.ErrUploadClosed
	}

	m := &vault.Manifest{
		ArchiveID:   u.archiveID,
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

	completed := make([]s3types.CompletedPart, 0, len(indexes))
	for _, i := range indexes {
		p := u.parts[i]
		m.Parts = append(m.Parts, p.record)
		completed = append(completed, s3types.CompletedPart{
			ETag:       aws.String(p.etag),
			PartNumber: aws.Int32(int32(i + 1)),
		})
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := verifyTreeHash(m.Parts, checksum); err != nil {
		return nil, err
	}

	raw, err := vault.EncodeManifest(m)
	if err != nil {
		return nil, err
	}
	manifestKey := u.key + manifestSuffix
	_, err = u.adapter.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.adapter.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/cbor"),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 put manifest failed: %w", err)
	}

	_, err = u.adapter.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.adapter.bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(u.uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		// 没有数据对象的 sidecar 是孤儿，删掉它
		if _, delErr := u.adapter.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(u.adapter.bucket),
			Key:    aws.String(manifestKey),
		}); delErr != nil {
			slog.Warn("failed to delete orphan manifest", slog.String("key", manifestKey), slog.String("err", delErr.Error()))
		}
		return nil, fmt.Errorf("s3 complete multipart upload failed: %w", err)
	}
	u.closed = true

	return &vault.Archive{
		ID:       u.archiveID,
		Vault:    u.vaultName,
		Size:     size,
		TreeHash: checksum,
		Location: "s3://" + u.adapter.bucket + "/" + u.key,
	}, nil
}

// verifyTreeHash 用分片的 Tree Hash 重新合并出整体 Tree Hash
// 分片大小是 2 的幂个 MiB，每个分片正好是整棵树的一棵完整子树
func verifyTreeHash(parts []vault.PartRecord, claimed types.Checksum) error {
	digests := make([]types.Digest, 0, len(parts))
	for _, p := range parts {
		d, err := p.Checksum.Digest()
		if err != nil {
			return err
		}
		digests = append(digests, d)
	}
	got, err := treehash.Combine(digests)
	if err != nil {
		return fmt.Errorf("%w: no parts uploaded", vault.ErrRangeInvalid)
	}
	if got.Checksum() != claimed {
		return fmt.Errorf("%w: claimed %s, computed %s", vault.ErrChecksumMismatch, claimed.Short(), got.Checksum().Short())
	}
	return nil
}

func (u *upload) Abort(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	_, err := u.adapter.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.adapter.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
	if err != nil {
		return fmt.Errorf("s3 abort multipart upload failed: %w", err)
	}
	u.closed = true
	return nil
}
