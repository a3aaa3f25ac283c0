package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// ParseLevel maps a config level name to a slog level.
// logic: default to INFO. If level is invalid, fallback to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger that renders timestamped lines to w.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(NewLineHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Setup initializes the global logger. Every line goes to stdout and to each
// of the extra sinks (normally the append-only log file).
func Setup(level string, sinks ...io.Writer) {
	once.Do(func() {
		writers := append([]io.Writer{os.Stdout}, sinks...)
		logger = New(io.MultiWriter(writers...), level)
		slog.SetDefault(logger)
	})
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}
