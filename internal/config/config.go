package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Transport names accepted by VBOX_TRANSPORT.
const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Remote    RemoteConfig
	Progress  ProgressConfig
	Redis     RedisConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Breaker   BreakerConfig
}

// ServerConfig holds the bridge listen address.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// RemoteConfig holds the virtualization server connection settings.
type RemoteConfig struct {
	Endpoint    string        `envconfig:"VBOX_ENDPOINT" default:"localhost:18083"`
	Transport   string        `envconfig:"VBOX_TRANSPORT" default:"grpc"`
	User        string        `envconfig:"VBOX_USER"`
	Password    string        `envconfig:"VBOX_PASSWORD"`
	CallTimeout time.Duration `envconfig:"VBOX_CALL_TIMEOUT" default:"10s"`
	RetryMax    int           `envconfig:"VBOX_RETRY_MAX" default:"2"`
}

// ProgressConfig holds progress polling settings.
type ProgressConfig struct {
	Interval time.Duration `envconfig:"PROGRESS_INTERVAL" default:"500ms"`
}

// RedisConfig holds the shared snapshot/event/session store settings.
type RedisConfig struct {
	Addr        string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Enabled     bool          `envconfig:"REDIS_ENABLED" default:"false"`
	SnapshotTTL time.Duration `envconfig:"SNAPSHOT_TTL" default:"1h"`
	SessionTTL  time.Duration `envconfig:"SESSION_TTL" default:"24h"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig throttles bridge clients and outgoing transport calls.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// BreakerConfig holds circuit breaker settings for the transport.
type BreakerConfig struct {
	MaxFailures uint32        `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	Timeout     time.Duration `envconfig:"BREAKER_TIMEOUT" default:"10s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Remote: RemoteConfig{
			Endpoint:    "localhost:18083",
			Transport:   TransportGRPC,
			CallTimeout: 10 * time.Second,
			RetryMax:    2,
		},
		Progress: ProgressConfig{
			Interval: 500 * time.Millisecond,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			SnapshotTTL: time.Hour,
			SessionTTL:  24 * time.Hour,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     10 * time.Second,
		},
	}
}

// Validate checks values envconfig cannot check on its own.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Remote.Transport) {
	case TransportGRPC, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("VBOX_TRANSPORT: unknown transport %q", c.Remote.Transport))
	}
	if c.Remote.Endpoint == "" {
		errs = append(errs, errors.New("VBOX_ENDPOINT: must not be empty"))
	}
	if c.Remote.CallTimeout <= 0 {
		errs = append(errs, errors.New("VBOX_CALL_TIMEOUT: must be positive"))
	}
	if c.Remote.RetryMax < 0 {
		errs = append(errs, errors.New("VBOX_RETRY_MAX: must not be negative"))
	}
	if c.Progress.Interval <= 0 {
		errs = append(errs, errors.New("PROGRESS_INTERVAL: must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST: must be positive"))
	}
	if c.Breaker.Timeout <= 0 {
		errs = append(errs, errors.New("BREAKER_TIMEOUT: must be positive"))
	}
	return errors.Join(errs...)
}
