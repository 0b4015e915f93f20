// Package logger builds the structured slog loggers used by npamcp.
//
// The MCP stdio transport owns stdout, so every logger built here writes to
// stderr unless an explicit Output is configured.
package logger

import (
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// LogFormat defines how log records are rendered
type LogFormat int

// Log format constants
const (
	TEXT LogFormat = iota
	JSON
)

// LevelDisabled is above every level slog emits, so nothing is written.
const LevelDisabled = slog.Level(64)

// Config holds configuration options for the logger
type Config struct {
	Level       slog.Level
	Format      LogFormat
	Output      io.Writer
	AddSource   bool
	DefaultTags map[string]interface{}
}

// DefaultConfig returns a default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:       slog.LevelInfo,
		Format:      TEXT,
		Output:      os.Stderr,
		DefaultTags: map[string]interface{}{"service": "npamcp"},
	}
}

// New creates a new slog.Logger with the given configuration
func New(config *Config) *slog.Logger {
	if config == nil {
		config = DefaultConfig()
	}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	if len(config.DefaultTags) > 0 {
		// Sorted so that repeated runs render tags in the same order.
		keys := make([]string, 0, len(config.DefaultTags))
		for k := range config.DefaultTags {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		args := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			args = append(args, k, config.DefaultTags[k])
		}
		logger = logger.With(args...)
	}
	return logger
}

// WithComponent returns a logger scoped to a named component. Nested
// components are joined with a dot, e.g. "policy.cleanup".
func WithComponent(logger *slog.Logger, components ...string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if len(components) == 0 {
		return logger
	}
	return logger.With("component", strings.Join(components, "."))
}

// ParseLevel converts a string level to a slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "DISABLED", "OFF":
		return LevelDisabled
	default:
		return slog.LevelInfo
	}
}

// ParseFormat converts "json" to JSON; anything else is TEXT.
func ParseFormat(format string) LogFormat {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return JSON
	}
	return TEXT
}

// Setup builds a logger from level/format strings and installs it as the
// slog default so that packages logging through slog.Default follow it.
func Setup(level, format string, out io.Writer) *slog.Logger {
	config := DefaultConfig()
	config.Level = ParseLevel(level)
	config.Format = ParseFormat(format)
	if out != nil {
		config.Output = out
	}

	l := New(config)
	slog.SetDefault(l)
	return l
}
