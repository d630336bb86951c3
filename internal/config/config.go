// Package config loads cmd/busdemo's process configuration. The Bus
// and Recorder libraries themselves never read environment variables;
// this is demo-binary scaffolding only.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds cmd/busdemo's settings.
type Config struct {
	MetricsAddr   string `env:"BUSLINE_METRICS_ADDR" envDefault:":9090"`
	RecordingDir  string `env:"BUSLINE_RECORDING_DIR" envDefault:"./recordings"`
	LogLevel      string `env:"BUSLINE_LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"BUSLINE_LOG_FORMAT" envDefault:"json"`
	IndexInterval int    `env:"BUSLINE_INDEX_INTERVAL" envDefault:"1000"`
}

// Load reads a .env file if present, then environment variables, then
// validates the result.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MetricsAddr == "" {
		return fmt.Errorf("BUSLINE_METRICS_ADDR is required")
	}
	if c.RecordingDir == "" {
		return fmt.Errorf("BUSLINE_RECORDING_DIR is required")
	}
	if c.IndexInterval < 1 {
		return fmt.Errorf("BUSLINE_INDEX_INTERVAL must be > 0, got %d", c.IndexInterval)
	}
	valid := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !valid[c.LogLevel] {
		return fmt.Errorf("BUSLINE_LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	return nil
}

// LogConfig logs the resolved configuration once at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("metrics_addr", c.MetricsAddr).
		Str("recording_dir", c.RecordingDir).
		Int("index_interval", c.IndexInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
