// Package logging builds the zap logger shared by every followermaze
// component and the per-component convention every call site logs through.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"followermaze/internal/config"
)

// New builds the root zap logger based on configuration settings. Components
// do not log through the root directly; they receive it scoped with
// Component so every line carries a "component" field instead of a
// hand-written string prefix on the message. cmd/followermaze itself logs
// its startup and shutdown lines through the root.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zap.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: cfg.Development,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "component",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// Component scopes logger to name, populating the "component" field (see
// NameKey above) on every line it emits. Every constructor in this module
// that takes a *zap.Logger expects one already scoped this way, e.g.
// logging.Component(root, "ioloop").
func Component(logger *zap.Logger, name string) *zap.Logger {
	return logger.Named(name)
}
