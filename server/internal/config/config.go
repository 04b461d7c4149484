package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 传输方式
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Config 全局配置
type Config struct {
	API     APIConfig     `yaml:"api"`
	Stream  StreamConfig  `yaml:"stream"`
	Cache   CacheConfig   `yaml:"cache"`
	Relay   RelayConfig   `yaml:"relay"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig 是批量读取 / 变更接口（bulk-read、mutation collaborators）的配置。
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StreamConfig 推送连接配置
type StreamConfig struct {
	URL string `yaml:"url"`
	// Transport 决定连接实现：sse | websocket
	Transport         string        `yaml:"transport"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	Reconnect         bool          `yaml:"reconnect"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ReconnectBurst    int           `yaml:"reconnect_burst"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

type CacheConfig struct {
	// Path 为空时只用内存缓存；否则用 badger 做写穿透持久化。
	Path         string `yaml:"path"`
	JournalLimit int    `yaml:"journal_limit"`
}

type RelayConfig struct {
	Addr             string        `yaml:"addr"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	Heartbeat        time.Duration `yaml:"heartbeat"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

// Default 返回本地开发可直接运行的默认配置。
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			URL:               "http://localhost:8080/api/v1/events",
			Transport:         TransportSSE,
			HandshakeTimeout:  10 * time.Second,
			Reconnect:         true,
			ReconnectInterval: 2 * time.Second,
			ReconnectBurst:    3,
		},
		Cache: CacheConfig{
			JournalLimit: 1000,
		},
		Relay: RelayConfig{
			Addr:             ":8080",
			AllowedOrigins:   []string{"http://localhost:5173", "http://127.0.0.1:5173"},
			SubscriberBuffer: 64,
			Heartbeat:        15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
		},
	}
}

// Load 从文件加载配置；path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		fmt.Printf("📋 Loading config from: %s\n", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv 用环境变量覆盖部署相关的地址。
func (c *Config) applyEnv() {
	if v := os.Getenv("TODOSYNC_API_BASE_URL"); v != "" {
		fmt.Printf("🌐 Using TODOSYNC_API_BASE_URL from environment: %s\n", v)
		c.API.BaseURL = v
	}
	if v := os.Getenv("TODOSYNC_STREAM_URL"); v != "" {
		fmt.Printf("🌐 Using TODOSYNC_STREAM_URL from environment: %s\n", v)
		c.Stream.URL = v
	}
	if v := os.Getenv("TODOSYNC_TRANSPORT"); v != "" {
		fmt.Printf("🔌 Using TODOSYNC_TRANSPORT from environment: %s\n", v)
		c.Stream.Transport = v
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url is required")
	}
	c.Stream.Transport = strings.ToLower(strings.TrimSpace(c.Stream.Transport))
	switch c.Stream.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("unsupported stream.transport %q (want sse or websocket)", c.Stream.Transport)
	}
	if c.Stream.Reconnect && c.Stream.ReconnectInterval <= 0 {
		return fmt.Errorf("stream.reconnect_interval must be positive when reconnect is enabled")
	}
	if c.Stream.MaxAttempts < 0 {
		return fmt.Errorf("stream.max_attempts must not be negative")
	}
	if c.Cache.JournalLimit < 0 {
		return fmt.Errorf("cache.journal_limit must not be negative")
	}
	return nil
}

// Debug 表示是否打开逐条消息日志。
func (c *Config) Debug() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}
