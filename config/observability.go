package config

import (
	"log/slog"
	"strings"
)

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format selects the handler: json or text.
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Sanitize normalises logging configuration values.
func (l *LoggingConfig) Sanitize() {
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		l.Level = "info"
	}

	l.Format = strings.ToLower(strings.TrimSpace(l.Format))
	if l.Format != "text" {
		l.Format = "json"
	}
}

// SlogLevel maps the configured level onto slog.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
