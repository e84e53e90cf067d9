package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//	required: Must be provided (no default)
type Config struct {
	// Server basics
	Addr         string `env:"RT_ADDR" envDefault:":3002"`
	JWTSecret    string `env:"RT_JWT_SECRET,required"`
	NATSURL      string `env:"RT_NATS_URL" envDefault:"nats://localhost:4222"` // empty = standalone, no ingest
	DirectoryURL string `env:"RT_DIRECTORY_URL"` // empty = allow-all (dev only)

	// Directory lookups
	DirectoryTimeout time.Duration `env:"RT_DIRECTORY_TIMEOUT" envDefault:"3s"`

	// Fan-out workers
	WorkerPoolSize  int `env:"RT_WORKER_POOL_SIZE" envDefault:"8"`
	WorkerQueueSize int `env:"RT_WORKER_QUEUE_SIZE" envDefault:"1024"`

	// Per-connection limits
	SendBuffer   int `env:"RT_SEND_BUFFER" envDefault:"256"`
	MessageRate  int `env:"RT_MESSAGE_RATE" envDefault:"10"`   // sustained inbound messages/sec
	MessageBurst int `env:"RT_MESSAGE_BURST" envDefault:"100"` // inbound burst allowance

	// Keepalive
	PongWait     time.Duration `env:"RT_PONG_WAIT" envDefault:"60s"`
	SSEKeepalive time.Duration `env:"RT_SSE_KEEPALIVE" envDefault:"25s"`

	// Shutdown
	ShutdownGrace time.Duration `env:"RT_SHUTDOWN_GRACE" envDefault:"30s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
//
// Optional logger parameter for structured logging. If nil, logs to stdout.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	// Load .env file (optional - OK if it doesn't exist)
	// In production (Docker), we use environment variables directly
	// In development, .env file provides convenience
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		} else {
			fmt.Println("Info: No .env file found (using environment variables only)")
		}
	} else {
		if logger != nil {
			logger.Info().Msg("Loaded configuration from .env file")
		}
	}

	cfg := &Config{}

	// Parse environment variables into struct
	// This validates types and applies defaults
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("Configuration loaded and validated successfully")
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("RT_ADDR is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("RT_JWT_SECRET is required")
	}
	// Range checks
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("RT_WORKER_POOL_SIZE must be > 0, got %d", c.WorkerPoolSize)
	}
	if c.WorkerQueueSize < 1 {
		return fmt.Errorf("RT_WORKER_QUEUE_SIZE must be > 0, got %d", c.WorkerQueueSize)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("RT_SEND_BUFFER must be > 0, got %d", c.SendBuffer)
	}
	if c.MessageRate < 1 {
		return fmt.Errorf("RT_MESSAGE_RATE must be > 0, got %d", c.MessageRate)
	}
	if c.MessageBurst < c.MessageRate {
		return fmt.Errorf("RT_MESSAGE_BURST (%d) must be >= RT_MESSAGE_RATE (%d)",
			c.MessageBurst, c.MessageRate)
	}
	if c.PongWait < 5*time.Second {
		return fmt.Errorf("RT_PONG_WAIT must be >= 5s, got %s", c.PongWait)
	}
	if c.SSEKeepalive < time.Second {
		return fmt.Errorf("RT_SSE_KEEPALIVE must be >= 1s, got %s", c.SSEKeepalive)
	}

	// Enum checks
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs configuration using structured logging (Loki-compatible)
func (c *Config) LogConfig(logger zerolog.Logger) {
	directory := c.DirectoryURL
	if directory == "" {
		directory = "(allow-all)"
	}
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("nats_url", c.NATSURL).
		Str("directory_url", directory).
		Dur("directory_timeout", c.DirectoryTimeout).
		Int("worker_pool_size", c.WorkerPoolSize).
		Int("worker_queue_size", c.WorkerQueueSize).
		Int("send_buffer", c.SendBuffer).
		Int("message_rate", c.MessageRate).
		Int("message_burst", c.MessageBurst).
		Dur("pong_wait", c.PongWait).
		Dur("sse_keepalive", c.SSEKeepalive).
		Dur("shutdown_grace", c.ShutdownGrace).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
