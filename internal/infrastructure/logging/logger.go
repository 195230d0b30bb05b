package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
)

// ServiceName is the service attribute on every log entry.
const ServiceName = "knxnetip"

// Logger wraps slog.Logger with the daemon's default fields.
//
// It satisfies the narrow Logger interfaces of the client, transport,
// management and bridge packages (Debug/Info/Warn/Error with key-value
// pairs), so one instance is injected everywhere.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the output named in cfg.
//
// Parameters:
//   - cfg: Logging configuration (level, format, output)
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	case "discard", "none":
		output = io.Discard
	default:
		output = os.Stdout
	}
	return NewWriter(cfg, version, output)
}

// NewWriter creates a Logger writing to w; cfg.Output is ignored.
func NewWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
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

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	connLogger := logger.With("component", "client")
//	connLogger.Info("connected") // Includes component=client
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default creates a logger for use before configuration is loaded:
// JSON on stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// CLI creates a text logger on stderr for interactive commands, so that
// stdout carries only command output.
func CLI(level string) *Logger {
	return New(config.LoggingConfig{
		Level:  level,
		Format: "text",
		Output: "stderr",
	}, "cli")
}
