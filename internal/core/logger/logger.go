package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Loaded concurrently by every query goroutine.
var defaultLogger atomic.Pointer[slog.Logger]

type ctxKey string

const (
	CommandIDKey ctxKey = "command_id"
	NetworkKey   ctxKey = "network"
)

// Init initializes the global structured logger on stdout
func Init(level slog.Level, format string) {
	InitWithWriter(level, format, os.Stdout)
}

// InitWithWriter initializes the global structured logger on w. The worker
// process logs to stderr since stdout carries its result stream.
func InitWithWriter(level slog.Level, format string, w io.Writer) {
	l := newLogger(level, format, w)
	defaultLogger.Store(l)
	slog.SetDefault(l)
}

func newLogger(level slog.Level, format string, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}

	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Get returns the default logger
func Get() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	// First use without Init: install a stdout text logger unless another
	// goroutine got there first.
	defaultLogger.CompareAndSwap(nil, newLogger(slog.LevelInfo, "text", os.Stdout))
	return defaultLogger.Load()
}

// WithCommand tags ctx so that context-aware log calls carry the command id.
func WithCommand(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CommandIDKey, id)
}

// WithNetwork tags ctx with the network being polled.
func WithNetwork(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, NetworkKey, name)
}

// WithContext returns a logger with context values
func WithContext(ctx context.Context) *slog.Logger {
	logger := Get()

	if id, ok := ctx.Value(CommandIDKey).(string); ok && id != "" {
		logger = logger.With("command_id", id)
	}
	if name, ok := ctx.Value(NetworkKey).(string); ok && name != "" {
		logger = logger.With("network", name)
	}

	return logger
}

// Info logs at Info level
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Error logs at Error level
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// Warn logs at Warn level
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Debug logs at Debug level
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// InfoContext logs at Info level with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

// ErrorContext logs at Error level with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}

// WarnContext logs at Warn level with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

// DebugContext logs at Debug level with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}
