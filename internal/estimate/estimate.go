// Package estimate converts item content into cost units used to size
// batches against the capacity ceiling. The core treats an Estimator as an
// opaque pure function; model-specific tokenizers live behind it.
package estimate

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
)

// ErrEstimatorUnavailable is returned when an estimator cannot be initialised
// or reached. At startup it is a fatal configuration error.
var ErrEstimatorUnavailable = errors.New("cost estimator unavailable")

// Estimator returns the cost of text in model-specific units.
type Estimator interface {
	Estimate(ctx context.Context, text string) (int, error)
}

// Func adapts a plain function to the Estimator interface.
type Func func(ctx context.Context, text string) (int, error)

// Estimate implements Estimator.
func (f Func) Estimate(ctx context.Context, text string) (int, error) {
	return f(ctx, text)
}

// Heuristic approximates token counts as ceil(len(utf8 bytes)/BytesPerToken).
type Heuristic struct {
	BytesPerToken int
}

// NewHeuristic returns a Heuristic; bytesPerToken <= 0 defaults to 4.
func NewHeuristic(bytesPerToken int) Heuristic {
	if bytesPerToken <= 0 {
		bytesPerToken = 4
	}
	return Heuristic{BytesPerToken: bytesPerToken}
}

// Estimate implements Estimator.
func (h Heuristic) Estimate(ctx context.Context, text string) (int, error) {
	bpt := h.BytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	n := len(text)
	if n == 0 {
		return 0, nil
	}
	return (n + bpt - 1) / bpt, nil
}

// Cached memoises another estimator by content hash. Failures are not cached.
type Cached struct {
	next Estimator
	mu   sync.Mutex
	memo map[[sha256.Size]byte]int
}

// NewCached wraps next.
func NewCached(next Estimator) *Cached {
	return &Cached{next: next, memo: make(map[[sha256.Size]byte]int)}
}

// Estimate implements Estimator.
func (c *Cached) Estimate(ctx context.Context, text string) (int, error) {
	key := sha256.Sum256([]byte(text))

	c.mu.Lock()
	if v, ok := c.memo[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := c.next.Estimate(ctx, text)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.memo[key] = v
	c.mu.Unlock()
	return v, nil
}

// Reset drops every memoised estimate.
func (c *Cached) Reset() {
	c.mu.Lock()
	c.memo = make(map[[sha256.Size]byte]int)
	c.mu.Unlock()
}
