package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// ErrorLogHandler is a slog.Handler that forwards every record to a primary
// handler and additionally writes records at or above a threshold to an
// append-only error log. The error log always receives JSON.
type ErrorLogHandler struct {
	primary   slog.Handler
	errorLog  slog.Handler
	threshold slog.Level
}

// NewErrorLogHandler wraps primary, teeing records at threshold and above to out.
func NewErrorLogHandler(primary slog.Handler, out io.Writer, threshold slog.Level) *ErrorLogHandler {
	return &ErrorLogHandler{
		primary:   primary,
		errorLog:  slog.NewJSONHandler(out, &slog.HandlerOptions{Level: threshold}),
		threshold: threshold,
	}
}

// Enabled implements the slog.Handler interface.
func (h *ErrorLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || level >= h.threshold
}

// WithAttrs implements the slog.Handler interface.
func (h *ErrorLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrorLogHandler{
		primary:   h.primary.WithAttrs(attrs),
		errorLog:  h.errorLog.WithAttrs(attrs),
		threshold: h.threshold,
	}
}

// WithGroup implements the slog.Handler interface.
func (h *ErrorLogHandler) WithGroup(name string) slog.Handler {
	return &ErrorLogHandler{
		primary:   h.primary.WithGroup(name),
		errorLog:  h.errorLog.WithGroup(name),
		threshold: h.threshold,
	}
}

// Handle implements the slog.Handler interface.
func (h *ErrorLogHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	if h.primary.Enabled(ctx, record.Level) {
		errs = append(errs, h.primary.Handle(ctx, record.Clone()))
	}
	if record.Level >= h.threshold {
		errs = append(errs, h.errorLog.Handle(ctx, record.Clone()))
	}
	return errors.Join(errs...)
}
