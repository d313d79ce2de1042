package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 默认配置文件搜索路径（按优先级）
		home, err := ResolveUserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		// 1) 当前工作目录下 .kanban/config.json
		v.AddConfigPath(filepath.Join(".", ".kanban"))
		// 2) 当前工作目录 ./config.json
		v.AddConfigPath(".")
		// 3) 用户目录 ~/.kanban/config.json
		v.AddConfigPath(filepath.Join(home, ".kanban"))
		v.SetConfigName("config")
		v.SetConfigType("json")
	}

	v.SetEnvPrefix("KANBAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// 配置文件不存在，使用默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Storage.Path = ExpandUserPath(cfg.Storage.Path)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.path", filepath.Join("~", ".kanban", "tasks.csv"))
	v.SetDefault("storage.location", "Local")

	v.SetDefault("history.capacity", 0)

	v.SetDefault("gateway.host", "localhost")
	v.SetDefault("gateway.port", 8080)
	// Use time.Duration defaults; plain integers would become nanoseconds when unmarshaled.
	v.SetDefault("gateway.read_timeout", 30*time.Second)
	v.SetDefault("gateway.write_timeout", 30*time.Second)
	v.SetDefault("gateway.websocket_path", "/ws")
	v.SetDefault("gateway.watch", true)
	v.SetDefault("gateway.event_buffer", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.output_paths", []string{"stdout"})
}

// Save 保存配置到文件
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetDefaultConfigPath 获取默认配置文件路径
func GetDefaultConfigPath() (string, error) {
	home, err := ResolveUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".kanban", "config.json"), nil
}

// ResolveUserHomeDir returns the best-effort user home directory.
// On Windows, prefer USERPROFILE or HOMEDRIVE+HOMEPATH to avoid HOME drift.
func ResolveUserHomeDir() (string, error) {
	if runtime.GOOS == "windows" {
		if profile := strings.TrimSpace(os.Getenv("USERPROFILE")); profile != "" {
			return profile, nil
		}
		drive := strings.TrimSpace(os.Getenv("HOMEDRIVE"))
		path := strings.TrimSpace(os.Getenv("HOMEPATH"))
		if drive != "" && path != "" {
			return filepath.Clean(drive + path), nil
		}
	}
	return os.UserHomeDir()
}

// ExpandUserPath 把开头的 ~ 展开为用户目录，失败时原样返回
func ExpandUserPath(path string) string {
	p := strings.TrimSpace(path)
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return path
	}
	home, err := ResolveUserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, filepath.FromSlash(strings.TrimPrefix(p[1:], "/")))
}

// TimeLocation 解析 CSV 时间列使用的时区
func (c StorageConfig) TimeLocation() (*time.Location, error) {
	name := strings.TrimSpace(c.Location)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("storage location %q: %w", name, err)
	}
	return loc, nil
}

// Address 网关监听地址
func (c GatewayConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate 验证配置
func Validate(cfg *Config) error {
	if err := validateStorage(cfg); err != nil {
		return fmt.Errorf("storage config invalid: %w", err)
	}

	if cfg.History.Capacity < 0 {
		return fmt.Errorf("history config invalid: capacity must be non-negative")
	}

	if err := validateGateway(cfg); err != nil {
		return fmt.Errorf("gateway config invalid: %w", err)
	}

	return nil
}

// validateStorage 验证存储配置
func validateStorage(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case BackendFile, BackendSQLite:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("path is required for the %s backend", cfg.Storage.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("backend must be file, sqlite, or memory")
	}

	if _, err := cfg.Storage.TimeLocation(); err != nil {
		return err
	}
	return nil
}

// validateGateway 验证网关配置
func validateGateway(cfg *Config) error {
	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port must be between 1 and 65535")
	}

	if cfg.Gateway.ReadTimeout <= 0 {
		return fmt.Errorf("gateway read_timeout must be positive")
	}

	if cfg.Gateway.WriteTimeout <= 0 {
		return fmt.Errorf("gateway write_timeout must be positive")
	}

	if !strings.HasPrefix(cfg.Gateway.WebSocketPath, "/") {
		return fmt.Errorf("gateway websocket_path must start with '/'")
	}

	if cfg.Gateway.EventBuffer < 0 {
		return fmt.Errorf("gateway event_buffer must be non-negative")
	}

	return nil
}
