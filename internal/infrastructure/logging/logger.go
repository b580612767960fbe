package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/config"
)

// ServiceName is attached to every entry as the "service" field.
const ServiceName = "senseme-bridge"

// Logger wraps slog.Logger. The level can be changed at runtime with
// SetLevel; loggers derived with With share the same level.
//
// All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New creates a Logger from cfg. Output "stdout" and "stderr" select the
// standard streams; anything else is treated as a file path opened for
// append. When the file cannot be opened the logger falls back to stderr
// and reports the failure as its first entry.
func New(cfg config.LoggingConfig, version string) *Logger {
	output, openErr := openOutput(cfg.Output)

	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})

	l := &Logger{Logger: slog.New(handler), level: level}
	if openErr != nil {
		l.Warn("log output unavailable, using stderr", "output", cfg.Output, "error", openErr)
	}
	return l
}

func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // operator-supplied path
	if err != nil {
		return os.Stderr, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// parseLevel maps debug/info/warn/error to slog levels, defaulting to info.
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

// SetLevel changes the minimum level for this logger and every logger
// derived from it.
func (l *Logger) SetLevel(level string) {
	if l.level != nil {
		l.level.Set(parseLevel(level))
	}
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	if l.level == nil {
		return slog.LevelInfo
	}
	return l.level.Level()
}

// With returns a Logger with additional default attributes.
//
//	connLogger := logger.With("component", "connection", "fan", "bedroom")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Component is shorthand for With("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default returns a JSON stdout logger at info level for use before
// configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
