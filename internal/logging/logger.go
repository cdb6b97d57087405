// Package logging builds the structured zerolog.Logger used across the
// core, matching the shape and field conventions of the rest of the
// codev WebSocket fleet.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's level and output format.
type Config struct {
	Level  string // debug | info | warn | error
	Format string // json | pretty
}

// New builds a zerolog.Logger configured for structured, Loki-compatible
// JSON output (or a human-readable console format during local development).
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "replay-relay").
		Logger()
}
