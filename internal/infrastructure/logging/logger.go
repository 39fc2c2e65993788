package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
)

// Logger is the daemon's structured logger. It embeds slog.Logger, so
// the usual Info/Warn/Error key-value calls work directly, and every
// entry carries the service and version fields. Safe for concurrent
// use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the config file.
// Format json goes to machine collectors, text is for a terminal.
// Unrecognised values fall back to json on stdout at info level.
func New(cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(writerFor(cfg.Output), opts)
	default:
		handler = slog.NewJSONHandler(writerFor(cfg.Output), opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "powerwatch"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

func writerFor(output string) io.Writer {
	if strings.ToLower(output) == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}

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

// With returns a child logger with extra default attributes, typically
// a component tag:
//
//	log.With("component", "monitor")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the early-startup logger used before the config file has
// been read. JSON on stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
