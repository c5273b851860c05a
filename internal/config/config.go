package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"gradebridge/internal/artifact"
	"gradebridge/internal/classify"
)

// AppConfig 应用配置
type AppConfig struct {
	Server   ServerConfig    `toml:"server"`
	Data     DataConfig      `toml:"data"`
	Import   ImportConfig    `toml:"import"`
	Artifact artifact.Config `toml:"artifact"`
	Notify   NotifyConfig    `toml:"notify"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port    int  `toml:"port"`
	DevMode bool `toml:"dev_mode"`
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir string `toml:"data_dir"`
	DBFile  string `toml:"db_file"` // 相对 DataDir
}

// ImportConfig 导入限制
type ImportConfig struct {
	MaxBytes   int64  `toml:"max_bytes"`   // 解压后总字节数上限
	MaxEntries int    `toml:"max_entries"` // 文件条目数上限
	Policy     string `toml:"policy"`      // 清单无法校验的同名文件：unchanged / feedback
	TempDir    string `toml:"temp_dir"`    // 为空使用系统临时目录
}

// NotifyConfig 通知配置
type NotifyConfig struct {
	OutboxFile string `toml:"outbox_file"` // 相对 DataDir；为空只写日志
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	PortSpecified bool
	ConfigPath    string
	EnvFile       string // 实际读取的 .env，未读取时为空
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:    20261,
			DevMode: false,
		},
		Data: DataConfig{
			DataDir: "data",
			DBFile:  "gradebridge.db",
		},
		Import: ImportConfig{
			MaxBytes:   512 << 20,
			MaxEntries: 10000,
			Policy:     string(classify.PolicyUnchanged),
		},
		Artifact: artifact.Config{
			Backend:  "local",
			LocalDir: "artifacts",
		},
		Notify: NotifyConfig{
			OutboxFile: "outbox.db",
		},
	}
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func baseDir() string {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		return "."
	}
	return exeDir
}

// LoadConfigWithInfo 从可执行文件同目录的 config.toml 与 .env 加载配置
func LoadConfigWithInfo() (*AppConfig, LoadConfigInfo, error) {
	return LoadFrom(baseDir())
}

// LoadFrom 从指定目录加载 config.toml，再用 .env 与环境变量覆盖存储凭据
//
// 进程环境变量优先于 .env 中的同名变量。
func LoadFrom(dir string) (*AppConfig, LoadConfigInfo, error) {
	info := LoadConfigInfo{ConfigPath: filepath.Join(dir, "config.toml")}
	config := DefaultConfig()

	data, err := os.ReadFile(info.ConfigPath)
	switch {
	case err == nil:
		info.PortSpecified = isPortSpecifiedInToml(data)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, info, fmt.Errorf("parse %s: %w", info.ConfigPath, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// 配置文件不存在，使用默认配置
	default:
		return nil, info, err
	}

	envFile := filepath.Join(dir, ".env")
	dotenv, err := godotenv.Read(envFile)
	switch {
	case err == nil:
		info.EnvFile = envFile
	case errors.Is(err, os.ErrNotExist):
		dotenv = map[string]string{}
	default:
		return nil, info, fmt.Errorf("read %s: %w", envFile, err)
	}
	applyEnv(config, func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(dotenv[key])
	})

	switch classify.Policy(config.Import.Policy) {
	case classify.PolicyUnchanged, classify.PolicyFeedback:
	default:
		return nil, info, fmt.Errorf("import.policy must be %q or %q, got %q",
			classify.PolicyUnchanged, classify.PolicyFeedback, config.Import.Policy)
	}
	return config, info, nil
}

// applyEnv 环境变量覆盖（部署时的密钥不写进 config.toml）
func applyEnv(c *AppConfig, getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.Artifact.Backend, "ARTIFACT_BACKEND")
	set(&c.Artifact.PostgresDSN, "PG_DSN", "DATABASE_URL")

	set(&c.Artifact.S3.Endpoint, "ARTIFACT_S3_ENDPOINT")
	set(&c.Artifact.S3.Region, "ARTIFACT_S3_REGION")
	set(&c.Artifact.S3.AccessKey, "ARTIFACT_S3_ACCESS_KEY", "MINIO_ROOT_USER")
	set(&c.Artifact.S3.SecretKey, "ARTIFACT_S3_SECRET_KEY", "MINIO_ROOT_PASSWORD")
	set(&c.Artifact.S3.Bucket, "ARTIFACT_S3_BUCKET")
	if v := getenv("ARTIFACT_S3_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Artifact.S3.UseSSL = b
		}
	}

	set(&c.Artifact.B2.AccountID, "B2_ACCOUNT_ID")
	set(&c.Artifact.B2.AppKey, "B2_APP_KEY")
	set(&c.Artifact.B2.Bucket, "B2_BUCKET")

	if v := getenv("GRADEBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// LoadConfig 从 config.toml 加载配置
// 配置文件位于可执行文件同目录下
func LoadConfig() (*AppConfig, error) {
	config, _, err := LoadConfigWithInfo()
	return config, err
}

// SaveConfig 保存配置到 config.toml
func SaveConfig(config *AppConfig) error {
	return SaveTo(baseDir(), config)
}

// SaveTo 保存配置到指定目录
func SaveTo(dir string, config *AppConfig) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.toml"), data, 0644)
}

// EnsureDataDir 确保数据目录存在
// 相对路径以可执行文件所在目录为基准
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := config.Data.DataDir
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(baseDir(), dataDir)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}

	// 创建子目录
	subdirs := []string{"uploads", "exports", "tmp"}
	for _, subdir := range subdirs {
		path := filepath.Join(dataDir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", err
		}
	}

	return dataDir, nil
}

// Resolve 将相对 DataDir 的路径转换为绝对路径；空字符串原样返回
func Resolve(dataDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}
