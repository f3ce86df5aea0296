// ABOUTME: Logger construction for the command-line tools
// ABOUTME: Production zap logger writing to a log file, and to stdout when the TUI is off
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where and how much to log
type Options struct {
	Level   string // debug, info, warn or error
	File    string // Log file; empty logs to stdout only
	Console bool   // Also log to stdout
}

// New builds a production logger. With the TUI running the terminal belongs to
// the status screen, so callers pass Console=false and read the file instead.
func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	var paths []string
	if opts.File != "" {
		paths = append(paths, opts.File)
	}
	if opts.Console || len(paths) == 0 {
		paths = append(paths, "stdout")
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = paths
	cfg.ErrorOutputPaths = paths
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
