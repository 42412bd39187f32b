// Package catlog wires up the daemon's loggers: a zap console logger
// for humans and a small CSV writer for the machine-readable match log.
package catlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the console logger used throughout the daemon. Debug mode
// lowers the level and enables caller annotation.
func New(debug bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg.DisableCaller = true
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// NewNop returns a logger that discards everything. Used by tests and
// as a fallback before configuration is loaded.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
