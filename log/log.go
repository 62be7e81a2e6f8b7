// Package log is the process-wide structured logger. Call sites pass a message
// followed by alternating key/value pairs, e.g. log.Info("connected", "url", url).
package log

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

type Config struct {
	Level       string
	Development bool
	Encoding    string // "json" (default) or "console"
}

var current atomic.Pointer[zap.SugaredLogger]

func init() {
	l, err := build(Config{Level: string(InfoLevel)})
	if err != nil {
		l = zap.NewNop()
	}
	current.Store(l.Sugar())
}

// Init replaces the global logger.
func Init(cfg Config) error {
	l, err := build(cfg)
	if err != nil {
		return err
	}
	current.Store(l.Sugar())
	return nil
}

// SetLogger swaps the underlying zap logger, mostly for tests.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l.Sugar())
}

func L() *zap.SugaredLogger {
	return current.Load()
}

func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return L().With(keysAndValues...)
}

func Debug(msg string, keysAndValues ...interface{}) { L().Debugw(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...interface{})  { L().Infow(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...interface{})  { L().Warnw(msg, keysAndValues...) }
func Error(msg string, keysAndValues ...interface{}) { L().Errorw(msg, keysAndValues...) }
func Fatal(msg string, keysAndValues ...interface{}) { L().Fatalw(msg, keysAndValues...) }

// Log writes at a level chosen at runtime. Unknown levels log at info.
func Log(level Level, msg string, keysAndValues ...interface{}) {
	switch level {
	case DebugLevel:
		Debug(msg, keysAndValues...)
	case WarnLevel:
		Warn(msg, keysAndValues...)
	case ErrorLevel:
		Error(msg, keysAndValues...)
	default:
		Info(msg, keysAndValues...)
	}
}

func Sync() {
	_ = L().Sync()
}

func build(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}

	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || cfg.Level == "" {
		lvl = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	return zc.Build(zap.AddCallerSkip(1))
}
