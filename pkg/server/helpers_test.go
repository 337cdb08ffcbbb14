package server

import (
	"context"
	"fmt"
	"net"
	"testing"

	"coldvault/pkg/client"
	"coldvault/pkg/meta"
	"coldvault/pkg/vault"
	"coldvault/pkg/vault/disk"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	backend *disk.Adapter
	repo    *meta.Repository
	client  *client.VaultClient
	remote  *client.RemoteVault
}

// setupTestRepo 每个测试一个独立的内存 SQLite
func setupTestRepo(t *testing.T) *meta.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(meta.Models()...))
	return meta.NewRepository(metaDB)
}

// startServer 用 bufconn 在内存里起一个完整的 gRPC 服务
func startServer(t *testing.T, backend vault.Vault, catalog Catalog) *client.VaultClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	gs := NewGRPCServer(NewVaultServer(backend, catalog, nil))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	c, err := client.NewVaultClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	repo := setupTestRepo(t)

	c := startServer(t, backend, repo)
	return &testEnv{
		backend: backend,
		repo:    repo,
		client:  c,
		remote:  client.NewRemoteVault(c),
	}
}
