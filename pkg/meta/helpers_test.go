package meta

import (
	"context"
	"testing"
	"time"

	"coldvault/pkg/treehash"
	"coldvault/pkg/types"
	"coldvault/pkg/vault"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// mockChecksum 生成合法的测试用 Tree Hash
func mockChecksum(input string) types.Checksum {
	return treehash.SumSegment([]byte(input)).Checksum()
}

// mockManifest 构造一个单分片的 Manifest
func mockManifest(id, vaultName, content string, createdAt int64) *vault.Manifest {
	sum := mockChecksum(content)
	return &vault.Manifest{
		ArchiveID: id,
		Vault:     vaultName,
		Size:      int64(len(content)),
		PartSize:  types.MiB,
		TreeHash:  sum,
		Parts: []vault.PartRecord{
			{Index: 0, Range: types.ByteRange{Start: 0, Stop: int64(len(content)) - 1}, Checksum: sum},
		},
		CreatedAt: createdAt,
	}
}

// mustSaveArchive 强制写入归档索引，失败则终止
func mustSaveArchive(t *testing.T, repo *Repository, m *vault.Manifest, msgAndArgs ...any) {
	t.Helper() // 关键：报错时回溯栈帧
	require.NoError(t, repo.SaveArchive(context.Background(), m), msgAndArgs...)
}

func now() int64 { return time.Now().Unix() }
