package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Dir 是工作目录下的配置目录
const Dir = ".cv"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.cv -> ~/.cv
		viper.AddConfigPath(".")
		viper.AddConfigPath(Dir)
		viper.AddConfigPath(filepath.Join(home, Dir))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (CV_S3_BUCKET -> s3.bucket)
	viper.SetEnvPrefix("CV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	// 提示信息走 stderr，stdout 留给命令本身的输出 (例如 cv treehash)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "⚠️  No config file found, using defaults/env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	// 上传默认值
	viper.SetDefault("upload.part_size_mb", 256)
	viper.SetDefault("upload.jobs", 4)
	viper.SetDefault("upload.description", "")

	// 存储默认值
	wd, _ := os.Getwd()
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(wd, Dir, "vault"))

	viper.SetDefault("s3.region", "us-east-1")

	viper.SetDefault("remote.addr", "localhost:8080")

	viper.SetDefault("redis.ttl", 24*time.Hour)

	// 数据库默认值: 本地 SQLite，服务端改成 postgres
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", filepath.Join(wd, Dir, "catalog.db"))
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("server.addr", ":8080")
}

// DefaultConfigYAML 是 cv init 写出的配置模板
const DefaultConfigYAML = `# coldvault configuration
upload:
  part_size_mb: 256   # 1-4096, power of two
  jobs: 4
storage:
  type: disk          # disk | s3 | remote
  path: .cv/vault
# s3:
#   endpoint: http://localhost:9000
#   region: us-east-1
#   bucket: coldvault
#   profile: default    # named profile from ~/.aws/config
#   access_key_id: admin
#   secret_access_key: password
# remote:
#   addr: localhost:8080
# redis:
#   url: redis://localhost:6379/0
#   ttl: 24h
database:
  driver: sqlite      # sqlite | postgres | none
  dsn: .cv/catalog.db
`
