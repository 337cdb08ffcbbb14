package s3

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coldvault/pkg/treehash"
	"coldvault/pkg/types"
	"coldvault/pkg/uploader"
	"coldvault/pkg/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 检查本地 MinIO 端口是否开放 (9000)
// 如果没开，跳过测试，避免报错干扰
func isMinIOAvailable(t *testing.T) bool {
	host := "localhost:9000"
	conn, err := net.DialTimeout("tcp", host, 1*time.Second)
	if err != nil {
		t.Logf("⚠️ MinIO not reachable at %s. Skipping integration tests.", host)
		return false
	}
	conn.Close()
	return true
}

func TestAdapter_ObjectKey(t *testing.T) {
	a := &Adapter{bucket: "b", prefix: "cold"}
	assert.Equal(t, "cold/photos/abc", a.objectKey("photos", "abc"))

	a.prefix = ""
	assert.Equal(t, "photos/abc", a.objectKey("photos", "abc"))
}

// 参数校验发生在任何网络调用之前，不需要真实的客户端
func TestAdapter_InitiateValidation(t *testing.T) {
	a := &Adapter{bucket: "b"}
	ctx := context.Background()

	_, err := a.Initiate(ctx, vault.InitiateInput{Vault: "bad/name", PartSize: 8 * types.MiB})
	assert.Error(t, err)

	_, err = a.Initiate(ctx, vault.InitiateInput{Vault: "ok", PartSize: 6 * types.MiB})
	assert.ErrorIs(t, err, types.ErrInvalidPartSize)

	_, err = a.Initiate(ctx, vault.InitiateInput{Vault: "ok", PartSize: 4 * types.MiB})
	assert.ErrorIs(t, err, types.ErrInvalidPartSize, "S3 不接受小于 5 MiB 的分片")
}

func TestS3Adapter_Integration(t *testing.T) {
	// A. 环境检查
	if !isMinIOAvailable(t) {
		t.Skip("Skipping S3 integration tests (MinIO down)")
	}

	// B. 初始化 Adapter
	// 使用 docker-compose.yaml 里的默认配置
	cfg := Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "coldvault-test-bucket",
		Prefix:          "it",
		AccessKeyID:     "admin",
		SecretAccessKey: "password",
	}

	ctx := context.Background()
	a, err := NewAdapter(ctx, cfg)
	require.NoError(t, err, "Failed to connect to MinIO")

	// C. 准备测试数据: 8 MiB 分片，共 2 片
	data := make([]byte, 9*types.MiB+17)
	_, err = rand.Read(data)
	require.NoError(t, err)

	var archiveID string

	t.Run("Upload", func(t *testing.T) {
		up, err := a.Initiate(ctx, vault.InitiateInput{Vault: "photos", Description: "it", PartSize: 8 * types.MiB})
		require.NoError(t, err)

		d, err := uploader.NewDriver(8 * types.MiB)
		require.NoError(t, err)
		res, err := d.Run(ctx, bytes.NewReader(data), int64(len(data)), up)
		require.NoError(t, err)
		require.NotNil(t, res.Archive)
		assert.Len(t, res.Parts, 2)
		archiveID = res.Archive.ID
	})

	t.Run("Retrieve", func(t *testing.T) {
		require.NotEmpty(t, archiveID)
		rc, m, err := a.Retrieve(ctx, "photos", archiveID)
		require.NoError(t, err)
		defer rc.Close()

		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, data, content, "Content read from S3 should match")
		assert.Len(t, m.Parts, 2)
		assert.NoError(t, m.Validate())
	})

	t.Run("NotFound", func(t *testing.T) {
		_, _, err := a.Retrieve(ctx, "photos", "does-not-exist")
		assert.ErrorIs(t, err, vault.ErrNotFound)
	})

	t.Run("Abort", func(t *testing.T) {
		up, err := a.Initiate(ctx, vault.InitiateInput{Vault: "photos", PartSize: 8 * types.MiB})
		require.NoError(t, err)
		assert.NoError(t, up.Abort(ctx))
		assert.NoError(t, up.Abort(ctx), "Abort 应该是幂等的")
	})
}

// 8 MiB 分片，返回完整数据和按分片切好的 vault.Part
func splitParts(t *testing.T, size int) ([]byte, []vault.Part) {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	const partSize = 8 * types.MiB
	var parts []vault.Part
	for i, start := 0, 0; start < size; i, start = i+1, start+partSize {
		end := min(start+partSize, size)
		sum, _, err := treehash.SumReader(bytes.NewReader(data[start:end]))
		require.NoError(t, err)
		parts = append(parts, vault.Part{
			Index:    i,
			Range:    types.ByteRange{Start: int64(start), Stop: int64(end) - 1},
			Checksum: sum,
			Body:     data[start:end],
		})
	}
	return data, parts
}

func TestAdapter_FakeRoundTrip(t *testing.T) {
	fake := newFakeS3()
	a := NewAdapterWithClient(fake, "b", "cold")
	ctx := context.Background()

	data := make([]byte, 17*types.MiB+5)
	_, err := rand.Read(data)
	require.NoError(t, err)

	up, err := a.Initiate(ctx, vault.InitiateInput{Vault: "photos", PartSize: 8 * types.MiB})
	require.NoError(t, err)
	d, err := uploader.NewDriver(8 * types.MiB)
	require.NoError(t, err)

	// Complete 里由分片 Tree Hash 合并出的整体值必须与 Driver 算出的一致
	res, err := d.Run(ctx, bytes.NewReader(data), int64(len(data)), up)
	require.NoError(t, err)
	require.NotNil(t, res.Archive)

	rc, m, err := a.Retrieve(ctx, "photos", res.Archive.ID)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, res.Checksum, m.TreeHash)
	assert.Len(t, m.Parts, 3)
}

func TestAdapter_UploadPartVerifiesChecksum(t *testing.T) {
	fake := newFakeS3()
	a := NewAdapterWithClient(fake, "b", "")
	ctx := context.Background()

	_, parts := splitParts(t, 6*types.MiB)
	up, err := a.Initiate(ctx, vault.InitiateInput{Vault: "v", PartSize: 8 * types.MiB})
	require.NoError(t, err)

	bad := parts[0]
	bad.Checksum = treehash.SumSegment([]byte("other")).Checksum()
	err = up.UploadPart(ctx, bad)
	assert.ErrorIs(t, err, vault.ErrChecksumMismatch)
	assert.Equal(t, 0, fake.partPuts, "校验失败的分片不能发给 S3")
}

func TestAdapter_CompleteVerifiesTreeHash(t *testing.T) {
	fake := newFakeS3()
	a := NewAdapterWithClient(fake, "b", "")
	ctx := context.Background()

	data, parts := splitParts(t, 9*types.MiB+3)
	up, err := a.Initiate(ctx, vault.InitiateInput{Vault: "v", PartSize: 8 * types.MiB})
	require.NoError(t, err)
	for _, p := range parts {
		require.NoError(t, up.UploadPart(ctx, p))
	}

	_, err = up.Complete(ctx, int64(len(data)), parts[0].Checksum)
	assert.ErrorIs(t, err, vault.ErrChecksumMismatch)

	// 失败后上传仍然打开，用正确的值可以完成
	whole, _, err := treehash.SumReader(bytes.NewReader(data))
	require.NoError(t, err)
	archive, err := up.Complete(ctx, int64(len(data)), whole)
	require.NoError(t, err)
	assert.True(t, fake.has(a.objectKey("v", archive.ID)+manifestSuffix))
}

func TestAdapter_ManifestFailureLeavesUploadAbortable(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("put failed")
	a := NewAdapterWithClient(fake, "b", "")
	ctx := context.Background()

	data, parts := splitParts(t, 3*types.MiB)
	up, err := a.Initiate(ctx, vault.InitiateInput{Vault: "v", PartSize: 8 * types.MiB})
	require.NoError(t, err)
	require.NoError(t, up.UploadPart(ctx, parts[0]))

	_, err = up.Complete(ctx, int64(len(data)), parts[0].Checksum)
	require.Error(t, err)

	// 数据对象没有被完成，Abort 真正清理了 Multipart Upload
	require.NoError(t, up.Abort(ctx))
	assert.Equal(t, []string{up.ID()}, fake.aborted)
	assert.Empty(t, fake.objects)
}

func TestAdapter_CompleteFailureRemovesManifest(t *testing.T) {
	fake := newFakeS3()
	fake.completeErr = errors.New("complete failed")
	a := NewAdapterWithClient(fake, "b", "")
	ctx := context.Background()

	data, parts := splitParts(t, 3*types.MiB)
	up, err := a.Initiate(ctx, vault.InitiateInput{Vault: "v", PartSize: 8 * types.MiB})
	require.NoError(t, err)
	require.NoError(t, up.UploadPart(ctx, parts[0]))

	_, err = up.Complete(ctx, int64(len(data)), parts[0].Checksum)
	require.Error(t, err)
	assert.Empty(t, fake.objects, "孤儿 sidecar 应该被删除")

	require.NoError(t, up.Abort(ctx))
	assert.Len(t, fake.aborted, 1)
}

// 指定的 profile 在 ~/.aws/config 里不存在时，初始化直接失败而不是静默回退到默认凭证
func TestNewAdapter_UnknownProfile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(cfgFile, []byte("[profile archive]\nregion = eu-west-1\n"), 0600))
	t.Setenv("AWS_CONFIG_FILE", cfgFile)
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")

	_, err := NewAdapter(context.Background(), Config{Region: "us-east-1", Bucket: "b", Profile: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to load SDK config")
}
