// Package logging builds the zap loggers used across the pipeline.
// Components receive a *zap.Logger and derive children with Named; the
// CLI decides the sinks (stderr for plain runs, file-only when the
// progress view owns the terminal).
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger writing to the given paths. With no
// paths it logs to stderr. verbose lowers the level to debug.
func New(verbose bool, paths ...string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if len(paths) > 0 {
		config.OutputPaths = paths
		config.ErrorOutputPaths = paths
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Nop returns a logger that discards everything. Used by tests and by
// components constructed without an explicit logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns logger unchanged, or a nop logger when nil. Lets
// constructors accept an optional logger without nil checks at every
// call site.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
