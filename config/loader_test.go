package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func minimalValidConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendFile,
			Path:    "/tmp/kanban/tasks.csv",
		},
		Gateway: GatewayConfig{
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			WebSocketPath: "/ws",
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Backend != BackendFile {
		t.Errorf("storage.backend = %q, want %q", cfg.Storage.Backend, BackendFile)
	}
	if filepath.Base(cfg.Storage.Path) != "tasks.csv" || cfg.Storage.Path[0] == '~' {
		t.Errorf("storage.path = %q, want expanded ~/.kanban/tasks.csv", cfg.Storage.Path)
	}
	if cfg.Gateway.Port != 8080 || cfg.Gateway.Host != "localhost" {
		t.Errorf("gateway address = %s", cfg.Gateway.Address())
	}
	if cfg.Gateway.WebSocketPath != "/ws" || !cfg.Gateway.Watch || cfg.Gateway.EventBuffer != 64 {
		t.Errorf("gateway defaults = %+v", cfg.Gateway)
	}
	if cfg.Log.Level != "info" || cfg.Log.Encoding != "console" {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
}

func TestSetDefaultsGatewayTimeoutUsesSecondGranularity(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("failed to unmarshal defaults: %v", err)
	}

	if cfg.Gateway.ReadTimeout != 30*time.Second {
		t.Fatalf("read timeout = %v, want 30s", cfg.Gateway.ReadTimeout)
	}
	if cfg.Gateway.WriteTimeout != 30*time.Second {
		t.Fatalf("write timeout = %v, want 30s", cfg.Gateway.WriteTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	configContent := `{
		"storage": {"backend": "SQLite", "path": "` + filepath.ToSlash(filepath.Join(dir, "tasks.db")) + `", "location": "UTC"},
		"history": {"capacity": 10},
		"gateway": {"host": "0.0.0.0", "port": 9090, "read_timeout": "5s", "watch": false}
	}`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("storage.backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.History.Capacity != 10 {
		t.Errorf("history.capacity = %d, want 10", cfg.History.Capacity)
	}
	if cfg.Gateway.Address() != "0.0.0.0:9090" {
		t.Errorf("gateway address = %s", cfg.Gateway.Address())
	}
	if cfg.Gateway.ReadTimeout != 5*time.Second {
		t.Errorf("read_timeout = %v, want 5s", cfg.Gateway.ReadTimeout)
	}
	if cfg.Gateway.Watch {
		t.Errorf("gateway.watch = true, want false")
	}
	// keys missing from the file keep their defaults
	if cfg.Gateway.WriteTimeout != 30*time.Second {
		t.Errorf("write_timeout = %v, want 30s", cfg.Gateway.WriteTimeout)
	}
	loc, err := cfg.Storage.TimeLocation()
	if err != nil || loc != time.UTC {
		t.Errorf("TimeLocation() = %v, %v", loc, err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KANBAN_STORAGE_BACKEND", "memory")
	t.Setenv("KANBAN_GATEWAY_PORT", "7070")
	t.Setenv("KANBAN_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("storage.backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Gateway.Port != 7070 {
		t.Errorf("gateway.port = %d, want 7070", cfg.Gateway.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadInvalidConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte(`{"storage": {"backend": "redis"}}`), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(configPath); err == nil {
		t.Fatalf("Load() error = nil, want invalid backend error")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "memory without path", mutate: func(c *Config) {
			c.Storage.Backend = BackendMemory
			c.Storage.Path = ""
		}},
		{name: "file without path", mutate: func(c *Config) { c.Storage.Path = " " }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "postgres" }, wantErr: true},
		{name: "bad location", mutate: func(c *Config) { c.Storage.Location = "Mars/Olympus" }, wantErr: true},
		{name: "negative capacity", mutate: func(c *Config) { c.History.Capacity = -1 }, wantErr: true},
		{name: "port out of range", mutate: func(c *Config) { c.Gateway.Port = 70000 }, wantErr: true},
		{name: "zero read timeout", mutate: func(c *Config) { c.Gateway.ReadTimeout = 0 }, wantErr: true},
		{name: "relative websocket path", mutate: func(c *Config) { c.Gateway.WebSocketPath = "ws" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := minimalValidConfig()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.History.Capacity = 5

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Gateway.Host != "127.0.0.1" || loaded.History.Capacity != 5 {
		t.Fatalf("loaded config = %+v", loaded)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path, err := GetDefaultConfigPath()
	if err != nil {
		t.Fatalf("GetDefaultConfigPath() error = %v", err)
	}
	if filepath.Base(path) != "config.json" || filepath.Base(filepath.Dir(path)) != ".kanban" {
		t.Fatalf("GetDefaultConfigPath() = %q", path)
	}
}

func TestExpandUserPath(t *testing.T) {
	home, err := ResolveUserHomeDir()
	if err != nil {
		t.Fatalf("failed to resolve home dir: %v", err)
	}

	tests := map[string]string{
		"~":               home,
		"~/.kanban/a.csv": filepath.Join(home, ".kanban", "a.csv"),
		"/abs/path.csv":   "/abs/path.csv",
		"relative/x.csv":  "relative/x.csv",
		"~other/x.csv":    "~other/x.csv",
		"":                "",
	}
	for in, want := range tests {
		if got := ExpandUserPath(in); got != want {
			t.Errorf("ExpandUserPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Backend != BackendFile {
		t.Errorf("storage.backend = %q, want default %q", cfg.Storage.Backend, BackendFile)
	}
}
