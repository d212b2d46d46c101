// Package logger provides the process-wide structured logger.
//
// Call sites pass a message followed by alternating keys and values:
//
//	logger.Info("Job completed", "job_id", id, "duration_ms", ms)
package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	base  *zap.Logger
	sugar *zap.SugaredLogger
)

// callerSkip points the reported caller past the package-level wrappers.
var callerSkip = zap.AddCallerSkip(1)

func init() {
	l, err := zap.NewDevelopment(callerSkip)
	if err != nil {
		l = zap.NewNop()
	}
	base = l
	sugar = l.Sugar()
}

// Init replaces the global logger. level is one of debug, info, warn, error.
// When jsonOutput is true the production (JSON) encoder is used.
func Init(level string, jsonOutput bool) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	var cfg zap.Config
	if jsonOutput {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build(callerSkip)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	mu.Lock()
	old := base
	base = l
	sugar = l.Sugar()
	mu.Unlock()

	_ = old.Sync()
	return nil
}

// SetLogger installs an already-built zap logger. Used by tests to capture output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	base = l
	sugar = l.Sugar()
	mu.Unlock()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Debug logs at debug level
func Debug(msg string, keysAndValues ...interface{}) {
	current().Debugw(msg, keysAndValues...)
}

// Info logs at info level
func Info(msg string, keysAndValues ...interface{}) {
	current().Infow(msg, keysAndValues...)
}

// Warn logs at warn level
func Warn(msg string, keysAndValues ...interface{}) {
	current().Warnw(msg, keysAndValues...)
}

// Error logs at error level
func Error(msg string, keysAndValues ...interface{}) {
	current().Errorw(msg, keysAndValues...)
}

// Sync flushes buffered log entries.
func Sync() error {
	mu.RLock()
	l := base
	mu.RUnlock()
	return l.Sync()
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
