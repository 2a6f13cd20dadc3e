// Package log is a thin package-level wrapper around a zap logger so that
// callers can write log.Error("msg", zap.Error(err)) without passing a logger
// through every constructor.
package log

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// Init replaces the process logger. json selects the production JSON encoder,
// otherwise a human readable console encoder is used. Output goes to stderr
// unless paths are given.
func Init(level string, json bool, paths ...string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}

	var cfg zap.Config
	if json {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if len(paths) > 0 {
		cfg.OutputPaths = paths
		cfg.ErrorOutputPaths = paths
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	logger.Store(l)
	return nil
}

// SetLogger installs l and returns a func restoring the previous logger.
func SetLogger(l *zap.Logger) (restore func()) {
	prev := logger.Swap(l.WithOptions(zap.AddCallerSkip(1)))
	return func() { logger.Store(prev) }
}

func L() *zap.Logger {
	return logger.Load()
}

func Sync() error {
	return logger.Load().Sync()
}

func Debug(msg string, fields ...zap.Field) {
	logger.Load().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	logger.Load().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	logger.Load().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	logger.Load().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	logger.Load().Fatal(msg, fields...)
}
