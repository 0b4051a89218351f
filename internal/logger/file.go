package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions describes the rotated operational log file.
type FileOptions struct {
	// Path is the log file location; empty disables the file sink.
	Path string
	// MaxSizeMB is the size in megabytes after which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int
}

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
)

// NewWithFile creates a logger that writes to stdout and, when opts.Path is set,
// to a size-rotated file. The returned closer flushes and closes the file sink.
func NewWithFile(level zapcore.LevelEnabler, opts FileOptions, options ...zap.Option) (*zap.SugaredLogger, func() error) {
	if level == nil {
		level = defaultLevel
	}

	if opts.Path == "" {
		return New(level, options...), func() error { return nil }
	}

	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = defaultMaxSizeMB
	}

	if opts.MaxBackups <= 0 {
		opts.MaxBackups = defaultMaxBackups
	}

	//nolint:exhaustruct // Compression and age limits keep their defaults.
	rotator := &lumberjack.Logger{
		Filename:   filepath.Clean(opts.Path),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder(true), zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(consoleEncoder(false), zapcore.AddSync(rotator), level),
	)

	l := zap.New(core, options...).Sugar()

	return l, func() error {
		_ = l.Sync()

		return rotator.Close()
	}
}
