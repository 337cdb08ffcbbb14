package app

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"coldvault/pkg/client"
	"coldvault/pkg/server"
	"coldvault/pkg/types"
	"coldvault/pkg/uploader"
	"coldvault/pkg/vault"
	"coldvault/pkg/vault/disk"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitVault_Disk(t *testing.T) {
	// 1. Mock 配置
	viper.Reset()
	viper.Set("storage.type", "disk")
	viper.Set("storage.path", filepath.Join(t.TempDir(), "vault"))

	// 2. 调用私有函数 (因为我们在同一个包)
	v, closer, err := initVault(context.Background())

	// 3. 验证
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, &disk.Adapter{}, v)
}

func TestInitVault_S3_MissingBucket(t *testing.T) {
	viper.Reset()
	viper.Set("storage.type", "s3")
	// 故意不设置 bucket

	v, _, err := initVault(context.Background())
	assert.Error(t, err)
	assert.Nil(t, v)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestInitVault_Remote(t *testing.T) {
	// 起一个真实监听 TCP 端口的 cv-server
	backend, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := server.NewGRPCServer(server.NewVaultServer(backend, nil, nil))
	go func() { _ = gs.Serve(lis) }()
	defer gs.Stop()

	viper.Reset()
	viper.Set("storage.type", "remote")
	viper.Set("remote.addr", lis.Addr().String())

	v, closer, err := initVault(context.Background())
	require.NoError(t, err)
	require.NotNil(t, closer)
	defer closer()
	assert.IsType(t, &client.RemoteVault{}, v)
}

func TestInitVault_RemoteUnreachable(t *testing.T) {
	viper.Reset()
	viper.Set("storage.type", "remote")
	viper.Set("remote.addr", "127.0.0.1:1")

	// 启动时探活失败，而不是等到第一次上传
	v, closer, err := initVault(context.Background())
	assert.Error(t, err)
	assert.Nil(t, v)
	assert.Nil(t, closer)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestInitVault_UnknownType(t *testing.T) {
	viper.Reset()
	viper.Set("storage.type", "ftp") // 不支持的类型

	v, _, err := initVault(context.Background())
	assert.Error(t, err)
	assert.Nil(t, v)
	assert.Contains(t, err.Error(), "unsupported storage type")
}

func TestNewApp_DiskWithSQLite(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	viper.Set("storage.type", "disk")
	viper.Set("storage.path", filepath.Join(dir, "vault"))
	viper.Set("database.driver", "sqlite")
	viper.Set("database.dsn", filepath.Join(dir, "catalog.db"))
	viper.Set("upload.part_size_mb", 1)

	a, err := NewApp(context.Background(), nil)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Catalog)
	assert.Nil(t, a.Journal)
	assert.Same(t, a.Catalog, a.UploadCatalog())

	up, err := a.NewUploader(0)
	require.NoError(t, err)

	path := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("catalogued"), 0644))
	res, err := up.UploadFile(context.Background(), path, uploader.Options{Vault: "photos"})
	require.NoError(t, err)

	stored, err := a.Catalog.GetArchive(context.Background(), res.ArchiveID)
	require.NoError(t, err)
	assert.Equal(t, res.Checksum.String(), stored.TreeHash)

	_, err = a.Retriever()
	assert.NoError(t, err)
}

func TestNewApp_NoCatalog(t *testing.T) {
	viper.Reset()
	viper.Set("storage.path", filepath.Join(t.TempDir(), "vault"))
	viper.Set("database.driver", "none")

	a, err := NewApp(context.Background(), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Catalog)
	assert.Nil(t, a.UploadCatalog(), "no catalog must be a nil interface")

	_, err = a.NewUploader(3)
	assert.ErrorIs(t, err, types.ErrInvalidPartSize)
}

// fakeCatalog 用来验证 multiCatalog 的合并语义
type fakeCatalog struct {
	ids      map[string]string
	recorded int
	err      error
}

func (f *fakeCatalog) RecordArchive(ctx context.Context, m *vault.Manifest) error {
	f.recorded++
	return f.err
}

func (f *fakeCatalog) LookupArchive(ctx context.Context, vaultName string, treeHash types.Checksum) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	id, ok := f.ids[vaultName+"/"+treeHash.String()]
	return id, ok, nil
}

func TestMultiCatalog(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	broken := &fakeCatalog{err: boom}
	healthy := &fakeCatalog{ids: map[string]string{"v/abc": "archive-1"}}
	m := multiCatalog{broken, healthy}

	// 前一个出错不影响后一个命中
	id, found, err := m.LookupArchive(ctx, "v", "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "archive-1", id)

	// 都没命中时带上错误
	_, found, err = m.LookupArchive(ctx, "v", "zzz")
	assert.False(t, found)
	assert.ErrorIs(t, err, boom)

	// 写入时两边都写
	err = m.RecordArchive(ctx, &vault.Manifest{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, broken.recorded)
	assert.Equal(t, 1, healthy.recorded)
}
