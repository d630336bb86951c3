// Package logging builds the zerolog.Logger shared by the bus, recorder,
// and demo binary.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the output encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatPretty
)

// Config controls level and output format.
type Config struct {
	Level     zerolog.Level
	Format    Format
	Component string
}

// New builds a zerolog.Logger tagged with Config.Component.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout
	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		Level(cfg.Level).
		With().
		Timestamp().
		Caller().
		Str("component", cfg.Component).
		Logger()
}

// WithStack logs a recovered panic value at Error level along with the
// current stack trace and the given fields.
func WithStack(logger zerolog.Logger, recovered any, msg string, fields map[string]any) {
	event := logger.Error().
		Interface("panic", recovered).
		Str("stack", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
