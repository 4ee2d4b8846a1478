package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/batchflow/internal/generation"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/redact"
)

// classify translates an API error into the generation error taxonomy. The
// error text is redacted because request URLs can carry the API key.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := redact.Error(err)
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s: %s", generation.ErrQuotaExceeded, op, msg)
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %s: %s", generation.ErrBatchNotFound, op, msg)
		case apiErr.Code == http.StatusBadRequest,
			apiErr.Code == http.StatusUnauthorized,
			apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %s: %s", generation.ErrInvalidConfig, op, msg)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %s: %s", generation.ErrTransientFailure, op, msg)
		}
		return fmt.Errorf("%s: %s", op, msg)
	}
	// Transport-level failures carry no status code.
	return fmt.Errorf("%w: %s: %s", generation.ErrTransientFailure, op, msg)
}

// waiter is satisfied by *rate.Limiter.
type waiter interface {
	Wait(ctx context.Context) error
}

// retrier runs calls with pacing and exponential backoff.
type retrier struct {
	limiter    waiter
	maxRetries int
	baseDelay  time.Duration
	jitter     func() float64
	sleep      func(ctx context.Context, d time.Duration) error
}

// do calls fn until it succeeds, fails permanently, or retries run out.
// Only transient and quota errors are retried.
func (r *retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	log := logger.FromContext(ctx)

	for attempt := 0; ; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		err := classify(op, fn(ctx))
		if err == nil {
			if attempt > 0 {
				log.Debug("gemini call succeeded after retry",
					slog.String("op", op), slog.Int("attempt", attempt+1))
			}
			return nil
		}
		if !generation.IsTransient(err) {
			return err
		}
		if attempt >= r.maxRetries {
			log.Warn("maximum retry attempts reached",
				slog.String("op", op), slog.Int("max_retries", r.maxRetries))
			return err
		}

		// delay = baseDelay * 2^attempt * (0.5 + rand(0, 0.5))
		backoff := float64(r.baseDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + r.jitter()*0.5))
		log.Info("retrying gemini call after delay",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
