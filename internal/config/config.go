// Package config loads engine configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Planner   PlannerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// EngineConfig holds session engine configuration.
type EngineConfig struct {
	Shell             string        `envconfig:"SHELL_PATH" default:"/bin/bash"`
	Rows              uint16        `envconfig:"PTY_ROWS" default:"24"`
	Cols              uint16        `envconfig:"PTY_COLS" default:"80"`
	DetectTimeout     time.Duration `envconfig:"DETECT_TIMEOUT" default:"30s"`
	CaptureLimit      int           `envconfig:"CAPTURE_LIMIT" default:"1048576"`
	RingCapacity      int           `envconfig:"RING_CAPACITY" default:"1024"`
	SubscriberBuffer  int           `envconfig:"SUBSCRIBER_BUFFER" default:"256"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"30m"`
	ReapInterval      time.Duration `envconfig:"REAP_INTERVAL" default:"1m"`
	TerminateGrace    time.Duration `envconfig:"TERMINATE_GRACE" default:"5s"`
	MaxSessions       int           `envconfig:"MAX_SESSIONS" default:"32"`
	StartupGrace      time.Duration `envconfig:"STARTUP_GRACE" default:"500ms"`
}

// PlannerConfig holds the external planner service configuration.
type PlannerConfig struct {
	URL     string        `envconfig:"PLANNER_URL" default:""`
	Timeout time.Duration `envconfig:"PLANNER_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Engine: EngineConfig{
			Shell:            "/bin/bash",
			Rows:             24,
			Cols:             80,
			DetectTimeout:    30 * time.Second,
			CaptureLimit:     1 << 20,
			RingCapacity:     1024,
			SubscriberBuffer: 256,
			IdleTimeout:      30 * time.Minute,
			ReapInterval:     time.Minute,
			TerminateGrace:   5 * time.Second,
			MaxSessions:      32,
			StartupGrace:     500 * time.Millisecond,
		},
		Planner: PlannerConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
