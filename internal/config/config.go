package config

import (
	"time"

	"github.com/HMasataka/relay/internal/logging"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Hub      HubConfig      `json:"hub" yaml:"hub"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Upstream UpstreamConfig `json:"upstream" yaml:"upstream"`
	Logging  logging.Config `json:"logging" yaml:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	// AllowedOrigins restricts websocket upgrades; empty allows all.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	// ControlRateLimit is the per-IP request budget per minute on /realtime/*.
	ControlRateLimit int `json:"control_rate_limit" yaml:"control_rate_limit"`
}

// HubConfig represents realtime hub configuration
type HubConfig struct {
	DefaultRoom       string        `json:"default_room" yaml:"default_room"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	SendBufferSize    int           `json:"send_buffer_size" yaml:"send_buffer_size"`
	MaxMessageSize    int64         `json:"max_message_size" yaml:"max_message_size"`
	Workers           int           `json:"workers" yaml:"workers"`
	QueueSize         int           `json:"queue_size" yaml:"queue_size"`
	StoreTimeout      time.Duration `json:"store_timeout" yaml:"store_timeout"`
	ChatHistoryLimit  int64         `json:"chat_history_limit" yaml:"chat_history_limit"`
	ChatHistoryTTL    time.Duration `json:"chat_history_ttl" yaml:"chat_history_ttl"`
	CartTTL           time.Duration `json:"cart_ttl" yaml:"cart_ttl"`
	AIStatsTTL        time.Duration `json:"ai_stats_ttl" yaml:"ai_stats_ttl"`
	// SendTimeout bounds one enqueue on a client send buffer during fan-out.
	SendTimeout time.Duration `json:"send_timeout" yaml:"send_timeout"`
}

// RedisConfig represents the shared store and pub/sub bus connection
type RedisConfig struct {
	// Addr empty selects in-memory store and bus (single instance only).
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size"`
	Channel  string `json:"channel" yaml:"channel"`
}

// UpstreamConfig represents the external HTTP collaborators
type UpstreamConfig struct {
	AIBaseURL        string        `json:"ai_base_url" yaml:"ai_base_url"`
	OrderBaseURL     string        `json:"order_base_url" yaml:"order_base_url"`
	ActivityURL      string        `json:"activity_url" yaml:"activity_url"`
	ConnectTimeout   time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout      time.Duration `json:"read_timeout" yaml:"read_timeout"`
	FailureThreshold uint32        `json:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "localhost",
			Port:             3000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			ControlRateLimit: 600,
		},
		Hub: HubConfig{
			DefaultRoom:       "general",
			HeartbeatInterval: 30 * time.Second,
			SendBufferSize:    256,
			MaxMessageSize:    512 * 1024, // 512KB
			Workers:           8,
			QueueSize:         1024,
			StoreTimeout:      2 * time.Second,
			ChatHistoryLimit:  500,
			ChatHistoryTTL:    7 * 24 * time.Hour,
			CartTTL:           24 * time.Hour,
			AIStatsTTL:        30 * 24 * time.Hour,
			SendTimeout:       5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 20,
			Channel:  "realtime-events",
		},
		Upstream: UpstreamConfig{
			AIBaseURL:        "http://localhost:8084/api/ai",
			OrderBaseURL:     "http://localhost:8083/api/orders",
			ActivityURL:      "http://localhost:8090/api/activity/log",
			ConnectTimeout:   5 * time.Second,
			ReadTimeout:      10 * time.Second,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	if c.Hub.DefaultRoom == "" {
		return NewConfigError("hub.default_room", "default room is required")
	}

	if c.Hub.HeartbeatInterval <= 0 {
		return NewConfigError("hub.heartbeat_interval", "interval must be positive")
	}

	if c.Hub.SendBufferSize <= 0 {
		return NewConfigError("hub.send_buffer_size", "buffer size must be positive")
	}

	if c.Hub.Workers <= 0 {
		return NewConfigError("hub.workers", "at least one worker is required")
	}

	if c.Hub.QueueSize <= 0 {
		return NewConfigError("hub.queue_size", "queue size must be positive")
	}

	if c.Hub.ChatHistoryLimit <= 0 {
		return NewConfigError("hub.chat_history_limit", "limit must be positive")
	}

	if c.Hub.SendTimeout <= 0 {
		return NewConfigError("hub.send_timeout", "timeout must be positive")
	}

	if c.Redis.Channel == "" {
		return NewConfigError("redis.channel", "pub/sub channel is required")
	}

	if c.Upstream.ConnectTimeout <= 0 || c.Upstream.ReadTimeout <= 0 {
		return NewConfigError("upstream.timeouts", "upstream timeouts must be positive")
	}

	return nil
}
