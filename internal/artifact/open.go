package artifact

import (
	"context"
	"fmt"
	"strings"
)

// Config 后端选择与各后端参数
type Config struct {
	Backend     string   `toml:"backend"` // local / memory / s3 / postgres / b2
	LocalDir    string   `toml:"local_dir"`
	PostgresDSN string   `toml:"postgres_dsn"`
	S3          S3Config `toml:"s3"`
	B2          B2Config `toml:"b2"`
}

// Open 按配置创建存储后端
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "local":
		return NewLocalStore(cfg.LocalDir)
	case "memory":
		return NewMemoryStore(), nil
	case "s3", "minio":
		return NewS3Store(cfg.S3)
	case "postgres", "pg":
		return OpenPostgresStore(cfg.PostgresDSN)
	case "b2":
		return NewB2Store(ctx, cfg.B2)
	}
	return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
}
