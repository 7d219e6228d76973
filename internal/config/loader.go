package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// LoadOptions represents options for loading configuration
type LoadOptions struct {
	Path string
}

// Load loads configuration from various sources
func Load(opts ...LoadOptions) (*Config, error) {
	cfg := Default()

	var options LoadOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.Path != "" {
		if err := loadFromFile(cfg, options.Path); err != nil {
			return nil, err
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a file
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) {
	// Server configuration
	if host := os.Getenv("RELAY_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("RELAY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if origins := os.Getenv("RELAY_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	// Hub configuration
	if room := os.Getenv("RELAY_DEFAULT_ROOM"); room != "" {
		cfg.Hub.DefaultRoom = room
	}
	if interval := os.Getenv("RELAY_HEARTBEAT_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Hub.HeartbeatInterval = d
		}
	}
	if workers := os.Getenv("RELAY_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			cfg.Hub.Workers = n
		}
	}

	// Redis configuration
	if addr, ok := os.LookupEnv("RELAY_REDIS_ADDR"); ok {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("RELAY_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if channel := os.Getenv("RELAY_REDIS_CHANNEL"); channel != "" {
		cfg.Redis.Channel = channel
	}

	// Upstream configuration
	if u := os.Getenv("RELAY_AI_URL"); u != "" {
		cfg.Upstream.AIBaseURL = u
	}
	if u := os.Getenv("RELAY_ORDER_URL"); u != "" {
		cfg.Upstream.OrderBaseURL = u
	}
	if u := os.Getenv("RELAY_ACTIVITY_URL"); u != "" {
		cfg.Upstream.ActivityURL = u
	}

	// Logging configuration
	if level := os.Getenv("RELAY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("RELAY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s", e.Field, e.Message)
}
