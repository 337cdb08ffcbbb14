package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"coldvault/pkg/types"
	"coldvault/pkg/vault"

	"github.com/redis/go-redis/v9"
)

// Journal 是一个装饰器，它为底层的 vault.Vault 添加 Redis 记账层
//
//	cv:upload:<upload-id>               hash，field 为分片序号，value 为 "bytes start-stop/*;checksum"
//	cv:archive:<vault>:<tree-hash>      完成后的 archive id
//
// Redis 只是旁路记录，任何 Redis 错误都只打 Warning，不影响上传本身
type Journal struct {
	backend vault.Vault   // 被装饰的底层归档存储 (如 S3)
	client  *redis.Client // Redis 客户端
	ttl     time.Duration // 记录过期时间，0 表示不过期
	logger  *slog.Logger
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

func New(backend vault.Vault, cfg Config) (*Journal, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Journal{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		logger:  slog.Default(),
	}, nil
}

func (j *Journal) Close() error { return j.client.Close() }

func uploadKey(uploadID string) string {
	return "cv:upload:" + uploadID
}

func archiveKey(vaultName string, treeHash types.Checksum) string {
	return "cv:archive:" + vaultName + ":" + string(treeHash)
}

// Initiate 透传给底层存储，返回的 Upload 会把每一步记到 Redis
func (j *Journal) Initiate(ctx context.Context, in vault.InitiateInput) (vault.Upload, error) {
	up, err := j.backend.Initiate(ctx, in)
	if err != nil {
		return nil, err
	}
	j.warn(j.client.HSet(ctx, uploadKey(up.ID()), "vault", in.Vault, "part_size", in.PartSize).Err(), "initiate", up.ID())
	j.expire(ctx, uploadKey(up.ID()))
	return &journaledUpload{Upload: up, journal: j, vaultName: in.Vault}, nil
}

// Retrieve 透传。底层不支持读回时返回 ErrNotFound
func (j *Journal) Retrieve(ctx context.Context, vaultName, archiveID string) (io.ReadCloser, *vault.Manifest, error) {
	r, ok := j.backend.(vault.Retriever)
	if !ok {
		return nil, nil, fmt.Errorf("%w: backend does not support retrieval", vault.ErrNotFound)
	}
	return r.Retrieve(ctx, vaultName, archiveID)
}

// RecordArchive 记录 (vault, tree hash) -> archive id
func (j *Journal) RecordArchive(ctx context.Context, m *vault.Manifest) error {
	return j.client.Set(ctx, archiveKey(m.Vault, m.TreeHash), m.ArchiveID, j.ttl).Err()
}

// LookupArchive 查询同一 vault 里是否已有相同内容的归档
func (j *Journal) LookupArchive(ctx context.Context, vaultName string, treeHash types.Checksum) (string, bool, error) {
	id, err := j.client.Get(ctx, archiveKey(vaultName, treeHash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Parts 返回某次上传已经确认的分片，按序号排序
func (j *Journal) Parts(ctx context.Context, uploadID string) ([]vault.PartRecord, error) {
	fields, err := j.client.HGetAll(ctx, uploadKey(uploadID)).Result()
	if err != nil {
		return nil, err
	}

	var records []vault.PartRecord
	for field, value := range fields {
		index, err := strconv.Atoi(field)
		if err != nil {
			continue // vault / part_size 等元信息
		}
		rec, err := decodeReceipt(index, value)
		if err != nil {
			return nil, fmt.Errorf("corrupt journal entry %s[%s]: %w", uploadID, field, err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(a, b int) bool { return records[a].Index < records[b].Index })
	return records, nil
}

// receipt 的区间部分与上传时的 Content-Range 写法一致
func encodeReceipt(p vault.Part) string {
	return p.Range.ContentRange() + ";" + string(p.Checksum)
}

func decodeReceipt(index int, value string) (vault.PartRecord, error) {
	span, sum, ok := strings.Cut(value, ";")
	if !ok {
		return vault.PartRecord{}, fmt.Errorf("missing checksum in %q", value)
	}
	r, err := types.ParseContentRange(span)
	if err != nil {
		return vault.PartRecord{}, err
	}
	checksum, err := types.ParseChecksum(sum)
	if err != nil {
		return vault.PartRecord{}, err
	}
	return vault.PartRecord{Index: index, Range: r, Checksum: checksum}, nil
}

func (j *Journal) expire(ctx context.Context, key string) {
	if j.ttl > 0 {
		j.warn(j.client.Expire(ctx, key, j.ttl).Err(), "expire", key)
	}
}

// 缓存故障降级：Redis 挂了只打日志，上传继续
func (j *Journal) warn(err error, op, key string) {
	if err != nil {
		j.logger.Warn("redis journal error", slog.String("op", op), slog.String("key", key), slog.String("err", err.Error()))
	}
}

type journaledUpload struct {
	vault.Upload
	journal   *Journal
	vaultName string
}

func (u *journaledUpload) UploadPart(ctx context.Context, part vault.Part) error {
	if err := u.Upload.UploadPart(ctx, part); err != nil {
		return err
	}
	// 只有底层成功了，才写 Redis
	key := uploadKey(u.ID())
	u.journal.warn(u.journal.client.HSet(ctx, key, strconv.Itoa(part.Index), encodeReceipt(part)).Err(), "upload-part", key)
	return nil
}

func (u *journaledUpload) Complete(ctx context.Context, size int64, checksum types.Checksum) (*vault.Archive, error) {
	archive, err := u.Upload.Complete(ctx, size, checksum)
	if err != nil {
		return nil, err
	}

	key := archiveKey(u.vaultName, checksum)
	u.journal.warn(u.journal.client.Set(ctx, key, archive.ID, u.journal.ttl).Err(), "complete", key)
	u.journal.warn(u.journal.client.Del(ctx, uploadKey(u.ID())).Err(), "complete", uploadKey(u.ID()))
	return archive, nil
}

func (u *journaledUpload) Abort(ctx context.Context) error {
	err := u.Upload.Abort(ctx)
	u.journal.warn(u.journal.client.Del(ctx, uploadKey(u.ID())).Err(), "abort", uploadKey(u.ID()))
	return err
}
