// Package config loads replay-relay configuration from a .env file and the
// environment, following the same load-then-validate shape the rest of the
// codev WebSocket fleet uses.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable the core (Merger, Sender, DelayedStream,
// HeaderParser, resource guard) needs at construction time.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Listener
	Addr string `env:"REPLAY_ADDR" envDefault:":15000"`

	// Stream lifetime
	GracePeriod   time.Duration `env:"REPLAY_GRACE_PERIOD" envDefault:"30s"`
	MatchTimeout  time.Duration `env:"REPLAY_MATCH_TIMEOUT" envDefault:"6h"`
	DelaySeconds  int           `env:"REPLAY_DELAY_SECONDS" envDefault:"300"`
	DelayTickSize time.Duration `env:"REPLAY_DELAY_TICK" envDefault:"1s"`

	// Header parsing
	HeaderMaxBytes int `env:"REPLAY_HEADER_MAX_BYTES" envDefault:"1048576"`

	// Capacity per match
	MaxWritersPerMatch int `env:"REPLAY_MAX_WRITERS_PER_MATCH" envDefault:"4"`
	MaxReadersPerMatch int `env:"REPLAY_MAX_READERS_PER_MATCH" envDefault:"5000"`

	// Rate limiting (admission control)
	MaxWriterConnectsPerSec float64 `env:"REPLAY_MAX_WRITER_CONNECTS_PER_SEC" envDefault:"5"`
	MaxReaderConnectsPerSec float64 `env:"REPLAY_MAX_READER_CONNECTS_PER_SEC" envDefault:"200"`

	// Resource safety thresholds (container-aware)
	CPURejectThreshold float64 `env:"REPLAY_CPU_REJECT_THRESHOLD" envDefault:"85.0"`
	MemoryLimitBytes   int64   `env:"REPLAY_MEMORY_LIMIT_BYTES" envDefault:"536870912"`

	// Bookkeeping
	NATSUrl      string `env:"REPLAY_NATS_URL" envDefault:""`
	NATSSubject  string `env:"REPLAY_NATS_SAVED_SUBJECT" envDefault:"replay.saved"`
	BookkeeperOn bool   `env:"REPLAY_BOOKKEEPER_NATS_ENABLED" envDefault:"false"`

	// Metrics
	MetricsAddr string `env:"REPLAY_METRICS_ADDR" envDefault:":9102"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file and the environment.
// Priority: environment variables > .env file > struct defaults.
//
// The logger parameter is optional; pass nil before a structured logger
// exists yet (e.g. during early startup).
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for internally-inconsistent or nonsensical
// values before the server starts accepting connections.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("REPLAY_ADDR is required")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("REPLAY_GRACE_PERIOD must be >= 0, got %s", c.GracePeriod)
	}
	if c.DelaySeconds < 0 {
		return fmt.Errorf("REPLAY_DELAY_SECONDS must be >= 0, got %d", c.DelaySeconds)
	}
	if c.HeaderMaxBytes <= 0 {
		return fmt.Errorf("REPLAY_HEADER_MAX_BYTES must be > 0, got %d", c.HeaderMaxBytes)
	}
	if c.MaxWritersPerMatch < 1 {
		return fmt.Errorf("REPLAY_MAX_WRITERS_PER_MATCH must be > 0, got %d", c.MaxWritersPerMatch)
	}
	if c.CPURejectThreshold <= 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("REPLAY_CPU_REJECT_THRESHOLD must be > 0 and <= 100, got %.1f", c.CPURejectThreshold)
	}

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

// LogFields logs the loaded configuration as structured fields, Loki-style.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Dur("grace_period", c.GracePeriod).
		Dur("match_timeout", c.MatchTimeout).
		Int("delay_seconds", c.DelaySeconds).
		Int("header_max_bytes", c.HeaderMaxBytes).
		Int("max_writers_per_match", c.MaxWritersPerMatch).
		Int("max_readers_per_match", c.MaxReadersPerMatch).
		Float64("max_writer_connects_per_sec", c.MaxWriterConnectsPerSec).
		Float64("max_reader_connects_per_sec", c.MaxReaderConnectsPerSec).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("replay-relay configuration loaded")
}
