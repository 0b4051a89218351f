package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestFromContext_FallsBackToGlobal checks that a bare context yields the global logger.
func TestFromContext_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))

	named := WithName(context.Background(), "probe")
	require.NotSame(t, Logger(), FromContext(named))

	withKV := WithKV(named, "state", "Idle")
	require.NotSame(t, FromContext(named), FromContext(withKV))
}

// TestNewWithFile_WritesRotatedFile ensures the file sink receives log lines.
func TestNewWithFile_WritesRotatedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kiosk.log")

	l, closeFn := NewWithFile(zapcore.InfoLevel, FileOptions{Path: path})
	l.Infow("tick finished", "state", "WaitingForFaces")
	require.NoError(t, closeFn())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "tick finished")
	require.Contains(t, string(contents), "WaitingForFaces")
}
