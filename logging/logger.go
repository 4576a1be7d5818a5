package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging priority.
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// Logger is the structured logging capability.
type Logger interface {
	// Named returns a new Logger scoped to a narrower category.
	Named(category string) Logger
	// With returns a new Logger carrying the given key/value pairs.
	With(keysAndValues ...interface{}) Logger
	// Category returns the dotted category of the logger, "" for the root.
	Category() string
	// Enabled reports whether records at level would be emitted.
	Enabled(level Level) bool
	// Log emits a record at level.
	Log(level Level, msg string, keysAndValues ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sync flushes buffered records.
	Sync() error
}

func joinCategory(parent, child string) string {
	switch {
	case child == "":
		return parent
	case parent == "":
		return child
	default:
		return parent + "." + child
	}
}

// zapLogger is the real-sink variant.
type zapLogger struct {
	sugar    *zap.SugaredLogger
	category string
}

// NewZap wraps a zap logger. A nil logger yields a zap no-op core.
func NewZap(logger *zap.Logger) Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapLogger{sugar: logger.Sugar()}
}

func (l *zapLogger) Named(category string) Logger {
	if category == "" {
		return &zapLogger{sugar: l.sugar, category: l.category}
	}
	return &zapLogger{
		sugar:    l.sugar.Named(category),
		category: joinCategory(l.category, category),
	}
}

func (l *zapLogger) With(keysAndValues ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(keysAndValues...), category: l.category}
}

func (l *zapLogger) Category() string { return l.category }

func (l *zapLogger) Enabled(level Level) bool {
	return l.sugar.Desugar().Core().Enabled(level)
}

func (l *zapLogger) Log(level Level, msg string, keysAndValues ...interface{}) {
	l.sugar.Logw(level, msg, keysAndValues...)
}

func (l *zapLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Errorw(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *zapLogger) Sync() error {
	err := l.sugar.Sync()
	if err != nil && isConsoleSyncError(err) {
		return nil
	}
	return err
}

// Sync on a terminal or pipe returns EINVAL/ENOTTY on most platforms.
func isConsoleSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "inappropriate ioctl for device") ||
		strings.Contains(msg, "bad file descriptor")
}
