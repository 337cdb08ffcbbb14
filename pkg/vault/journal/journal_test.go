package journal

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"coldvault/pkg/treehash"
	"coldvault/pkg/types"
	"coldvault/pkg/uploader"
	"coldvault/pkg/vault"
	"coldvault/pkg/vault/disk"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceipt_Codec(t *testing.T) {
	sum := treehash.SumSegment([]byte("abc")).Checksum()
	p := vault.Part{Index: 3, Range: types.ByteRange{Start: 3 * types.MiB, Stop: 3*types.MiB + 2}, Checksum: sum}

	rec, err := decodeReceipt(3, encodeReceipt(p))
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Index)
	assert.Equal(t, p.Range, rec.Range)
	assert.Equal(t, sum, rec.Checksum)

	assert.Equal(t, "bytes 3145728-3145730/*;"+string(sum), encodeReceipt(p))

	for _, bad := range []string{"", "bytes 1-2/*", "bytes x-2/*;" + string(sum), "bytes 2-1/*;" + string(sum), "bytes 1-2/*;nothex"} {
		_, err := decodeReceipt(0, bad)
		assert.Error(t, err, "value %q", bad)
	}
}

func TestJournal_InvalidURL(t *testing.T) {
	_, err := New(nil, Config{RedisURL: "not-a-url"})
	assert.Error(t, err)
}

func TestJournal_Integration(t *testing.T) {
	// A. 环境检查: 确保 Redis 在运行
	redisAddr := "localhost:6379"
	conn, err := net.DialTimeout("tcp", redisAddr, 1*time.Second)
	if err != nil {
		t.Skipf("Skipping Redis integration test: %v", err)
	}
	conn.Close()

	// B. 初始化: 磁盘后端 + Redis 记账
	ctx := context.Background()
	backend, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)

	j, err := New(backend, Config{RedisURL: fmt.Sprintf("redis://%s/0", redisAddr), TTL: time.Minute})
	require.NoError(t, err)
	defer j.Close()

	// 每次用不同的 vault，避免历史数据干扰
	vaultName := "it-" + uuid.NewString()[:8]
	data := bytes.Repeat([]byte("journal"), types.MiB/2)

	t.Run("Parts recorded while uploading", func(t *testing.T) {
		up, err := j.Initiate(ctx, vault.InitiateInput{Vault: vaultName, PartSize: types.MiB})
		require.NoError(t, err)

		var seen []vault.PartRecord
		d, err := uploader.NewDriver(types.MiB, uploader.WithPartObserver(func(r uploader.PartReceipt) {
			recs, err := j.Parts(ctx, up.ID())
			require.NoError(t, err)
			seen = recs
		}))
		require.NoError(t, err)

		res, err := d.Run(ctx, bytes.NewReader(data), int64(len(data)), up)
		require.NoError(t, err)
		require.Len(t, res.Parts, 4)

		// 最后一个分片上传后，Redis 里应该有全部 4 条记录
		require.Len(t, seen, 4)
		for i, rec := range seen {
			assert.Equal(t, res.Parts[i].Checksum, rec.Checksum)
			assert.Equal(t, res.Parts[i].Range, rec.Range)
		}

		// Complete 之后上传记录被清理，归档记录可查
		recs, err := j.Parts(ctx, up.ID())
		require.NoError(t, err)
		assert.Empty(t, recs)

		id, found, err := j.LookupArchive(ctx, vaultName, res.Checksum)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, res.Archive.ID, id)
	})

	t.Run("Lookup miss", func(t *testing.T) {
		_, found, err := j.LookupArchive(ctx, vaultName, treehash.SumSegment(nil).Checksum())
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Catalog through uploader", func(t *testing.T) {
		up, err := uploader.New(j, types.MiB, j, nil)
		require.NoError(t, err)

		res, err := up.Upload(ctx, bytes.NewReader([]byte("tiny")), 4, uploader.Options{Vault: vaultName})
		require.NoError(t, err)

		id, found, err := j.LookupArchive(ctx, vaultName, res.Checksum)
		require.NoError(t, err)
		assert.True(t, found)
		require.NotNil(t, res.Archive)
		assert.Equal(t, res.Archive.ID, id)

		rc, m, err := j.Retrieve(ctx, vaultName, id)
		require.NoError(t, err)
		rc.Close()
		assert.Equal(t, res.Checksum, m.TreeHash)
	})
}
