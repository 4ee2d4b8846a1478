package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/phrazzld/batchflow/internal/config"
)

// ParseLevel converts a configured level name into a slog.Level.
// Unknown names fall back to info.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Setup initializes and configures the application's logging system based on
// the provided configuration. It creates a structured JSON logger writing to
// out and, when cfg.ErrorLog is set, also appends every error-level record to
// that file. The returned close function releases the error log.
//
// The logger is also installed as the slog default.
func Setup(cfg config.LogConfig, out io.Writer) (*slog.Logger, func() error, error) {
	level, ok := ParseLevel(cfg.Level)
	if !ok {
		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.Level,
			"default_level", "info")
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(out, opts)
	closeFn := func() error { return nil }

	if cfg.ErrorLog != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.ErrorLog), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating error log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.ErrorLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening error log %s: %w", cfg.ErrorLog, err)
		}
		handler = NewErrorLogHandler(handler, f, slog.LevelError)
		closeFn = f.Close
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, closeFn, nil
}
