package logger_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phrazzld/batchflow/internal/config"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		want  slog.Level
		known bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{" warn ", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			level, known := logger.ParseLevel(tc.name)
			assert.Equal(t, tc.want, level)
			assert.Equal(t, tc.known, known)
		})
	}
}

func TestSetupWritesJSONAtLevel(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	buf := logger.NewLogCapture(t)
	l, closeFn, err := logger.Setup(config.LogConfig{Level: "warn"}, buf)
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	l.Info("hidden")
	l.Warn("queue is full", "outstanding", 10)

	entries := buf.Entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "queue is full", entries[0]["msg"])
	assert.Equal(t, float64(10), entries[0]["outstanding"])
	assert.Same(t, l, slog.Default())
}

func TestSetupAppendsErrorsToErrorLog(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	errorLog := filepath.Join(t.TempDir(), "logs", "error_log.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(errorLog), 0o755))
	require.NoError(t, os.WriteFile(errorLog, []byte("{\"msg\":\"earlier run\"}\n"), 0o644))

	buf := logger.NewLogCapture(t)
	l, closeFn, err := logger.Setup(config.LogConfig{Level: "info", ErrorLog: errorLog}, buf)
	require.NoError(t, err)

	l.With("component", "tracker").Info("refreshed")
	l.With("component", "tracker").Error("status query failed", "handle", "batches/1")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(errorLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "error log is append-only and receives only errors")
	assert.Contains(t, lines[0], "earlier run")
	assert.Contains(t, lines[1], "status query failed")
	assert.Contains(t, lines[1], `"component":"tracker"`)

	assert.Equal(t, []string{"INFO refreshed", "ERROR status query failed"}, buf.Messages(t))
}

func TestFromContext(t *testing.T) {
	capture := logger.NewLogCapture(t)
	custom := capture.Logger

	assert.Same(t, slog.Default(), logger.FromContext(context.Background()))
	//nolint:staticcheck // nil context is handled explicitly
	assert.Same(t, slog.Default(), logger.FromContext(nil))

	ctx := logger.WithLogger(context.Background(), custom)
	assert.Same(t, custom, logger.FromContext(ctx))

	ctx = logger.WithRunID(ctx, "run-1")
	assert.Equal(t, "run-1", logger.RunID(ctx))
	logger.FromContext(ctx).Info("tagged")

	entries := capture.Find(t, "tagged")
	require.Len(t, entries, 1)
	assert.Equal(t, "run-1", entries[0]["run_id"])
}
