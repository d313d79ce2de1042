package config

import (
	"time"
)

// Config 是主配置结构
type Config struct {
	Storage StorageConfig `mapstructure:"storage" json:"storage"`
	History HistoryConfig `mapstructure:"history" json:"history"`
	Gateway GatewayConfig `mapstructure:"gateway" json:"gateway"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// StorageConfig 存储配置
type StorageConfig struct {
	Backend string `mapstructure:"backend" json:"backend"` // file, sqlite, memory
	Path    string `mapstructure:"path" json:"path"`
	// Location is the IANA zone used for the CSV time column.
	Location string `mapstructure:"location" json:"location"`
}

// HistoryConfig 浏览历史配置
type HistoryConfig struct {
	Capacity int `mapstructure:"capacity" json:"capacity"` // 0 = unbounded
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Host          string        `mapstructure:"host" json:"host"`
	Port          int           `mapstructure:"port" json:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	WebSocketPath string        `mapstructure:"websocket_path" json:"websocket_path"`
	Watch         bool          `mapstructure:"watch" json:"watch"`
	EventBuffer   int           `mapstructure:"event_buffer" json:"event_buffer"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string   `mapstructure:"level" json:"level"`
	Development bool     `mapstructure:"development" json:"development"`
	Encoding    string   `mapstructure:"encoding" json:"encoding"`
	OutputPaths []string `mapstructure:"output_paths" json:"output_paths"`
}
