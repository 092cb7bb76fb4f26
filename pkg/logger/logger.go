// Package logger builds the structured, service-scoped loggers every
// arbtrie subsystem takes in its Config struct. It never exposes a global
// logger: callers construct one and thread it through to whichever
// blockfile/seg/session/trie component needs it.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option customizes the logger returned by New or NewDevelopment.
type Option func(*zap.Config)

// WithLevel overrides the minimum enabled log level.
func WithLevel(level zapcore.Level) Option {
	return func(c *zap.Config) {
		c.Level = zap.NewAtomicLevelAt(level)
	}
}

// New returns a production-configured, JSON-encoded sugared logger with a
// "service" field attached to every line it emits.
func New(service string, opts ...Option) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	base, err := cfg.Build()
	if err != nil {
		// Logging can't initialize; fall back to a no-op logger rather
		// than panic the caller during engine construction.
		base = zap.NewNop()
	}

	return base.Sugar().With("service", service)
}

// NewDevelopment returns a console-encoded, human-readable sugared logger,
// for interactive use where JSON lines are a liability, not a feature.
func NewDevelopment(service string, opts ...Option) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	base, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
	}

	return base.Sugar().With("service", service)
}

// Nop returns a logger that discards everything, for tests that don't
// care about log output.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
