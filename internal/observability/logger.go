package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// NewLogger creates a new structured logger based on configuration.
func NewLogger(config LoggingConfig) *slog.Logger {
	var output io.Writer
	switch strings.ToLower(config.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return newLogger(config, output)
}

func newLogger(config LoggingConfig, output io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(config.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(config.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
