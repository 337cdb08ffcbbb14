// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"coldvault/pkg/client"
	"coldvault/pkg/meta"
	"coldvault/pkg/types"
	"coldvault/pkg/uploader"
	"coldvault/pkg/vault"
	"coldvault/pkg/vault/disk"
	"coldvault/pkg/vault/journal"
	"coldvault/pkg/vault/s3"

	"github.com/spf13/viper"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	Vault   vault.Vault
	Catalog *meta.Repository // database.driver=none 时为 nil
	Journal *journal.Journal // 没有配置 redis.url 时为 nil
	Logger  *slog.Logger

	closers []func() error
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Logger: logger}

	// 1. 初始化归档后端
	v, closer, err := initVault(ctx)
	if err != nil {
		return nil, err
	}
	a.Vault = v
	a.addCloser(closer)

	// 2. 可选: Redis 记账层 (装饰器)
	if url := viper.GetString("redis.url"); url != "" {
		j, err := journal.New(a.Vault, journal.Config{RedisURL: url, TTL: viper.GetDuration("redis.ttl")})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init redis journal: %w", err)
		}
		a.Vault = j
		a.Journal = j
		a.addCloser(j.Close)
	}

	// 3. 可选: SQL 索引
	db, err := initCatalog(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if db != nil {
		a.Catalog = meta.NewRepository(db)
		a.addCloser(db.Close)
	}

	return a, nil
}

func (a *App) addCloser(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close 按初始化的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// initVault 根据 storage.type 选择后端
func initVault(ctx context.Context) (vault.Vault, func() error, error) {
	storageType := viper.GetString("storage.type")

	switch storageType {
	case "disk", "":
		path := viper.GetString("storage.path")
		if path == "" {
			return nil, nil, fmt.Errorf("storage path not set")
		}
		v, err := disk.NewAdapter(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init storage: %w", err)
		}
		return v, nil, nil

	case "s3":
		cfg := s3.Config{
			Endpoint:        viper.GetString("s3.endpoint"),
			Region:          viper.GetString("s3.region"),
			Bucket:          viper.GetString("s3.bucket"),
			Prefix:          viper.GetString("s3.prefix"),
			Profile:         viper.GetString("s3.profile"),
			AccessKeyID:     viper.GetString("s3.access_key_id"),
			SecretAccessKey: viper.GetString("s3.secret_access_key"),
		}
		if cfg.Bucket == "" {
			return nil, nil, fmt.Errorf("s3 bucket is required")
		}
		v, err := s3.NewAdapter(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init s3 storage: %w", err)
		}
		return v, nil, nil

	case "remote":
		addr := viper.GetString("remote.addr")
		if addr == "" {
			return nil, nil, fmt.Errorf("remote addr is required")
		}
		c, err := client.NewVaultClient(addr)
		if err != nil {
			return nil, nil, err
		}
		// NewClient 是懒连接，启动时主动探活，避免读完整个文件才发现服务不在线
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.Ping(pingCtx); err != nil {
			c.Close()
			return nil, nil, fmt.Errorf("remote %s: %w", addr, err)
		}
		return client.NewRemoteVault(c), c.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// initCatalog database.driver=none 时返回 nil
func initCatalog(ctx context.Context) (*meta.DB, error) {
	driver := viper.GetString("database.driver")
	if driver == "none" {
		return nil, nil
	}
	db, err := meta.NewDB(ctx, meta.Config{
		Driver:   driver,
		DSN:      viper.GetString("database.dsn"),
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.dbname"),
		SSLMode:  viper.GetString("database.sslmode"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init catalog: %w", err)
	}
	return db, nil
}

// UploadCatalog 返回上传使用的 Catalog: SQL 和 Redis 同时存在时两边都写
func (a *App) UploadCatalog() uploader.Catalog {
	var cs multiCatalog
	if a.Journal != nil {
		cs = append(cs, a.Journal)
	}
	if a.Catalog != nil {
		cs = append(cs, a.Catalog)
	}
	switch len(cs) {
	case 0:
		return nil
	case 1:
		return cs[0]
	default:
		return cs
	}
}

// NewUploader 按 upload.part_size_mb 或 partSizeMB (>0 时优先) 构造上传器
func (a *App) NewUploader(partSizeMB int64) (*uploader.Uploader, error) {
	if partSizeMB <= 0 {
		partSizeMB = viper.GetInt64("upload.part_size_mb")
	}
	partSize, err := types.PartSizeFromMB(partSizeMB)
	if err != nil {
		return nil, err
	}
	return uploader.New(a.Vault, partSize, a.UploadCatalog(), a.Logger)
}

// Retriever 返回支持读回的后端
func (a *App) Retriever() (vault.Retriever, error) {
	r, ok := a.Vault.(vault.Retriever)
	if !ok {
		return nil, fmt.Errorf("storage type %q does not support retrieval", viper.GetString("storage.type"))
	}
	return r, nil
}

// multiCatalog 写入时全部写，查询时第一个命中即返回
type multiCatalog []uploader.Catalog

func (m multiCatalog) RecordArchive(ctx context.Context, manifest *vault.Manifest) error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.RecordArchive(ctx, manifest))
	}
	return errors.Join(errs...)
}

func (m multiCatalog) LookupArchive(ctx context.Context, vaultName string, treeHash types.Checksum) (string, bool, error) {
	var errs []error
	for _, c := range m {
		id, found, err := c.LookupArchive(ctx, vaultName, treeHash)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if found {
			return id, true, nil
		}
	}
	return "", false, errors.Join(errs...)
}

// NewLogger 日志写到 stderr；verbose 时打开 Debug 级别
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
