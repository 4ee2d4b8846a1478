// Package batch assembles the next batch of work items from the catalog
// under a capacity budget.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/batchflow/internal/catalog"
	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/estimate"
	"github.com/phrazzld/batchflow/internal/events"
	"github.com/phrazzld/batchflow/internal/platform/logger"
)

// Skip records an item passed over permanently during a build.
type Skip struct {
	Index  int
	ItemID string
	Reason string
}

// Result is the outcome of one build. Cursor is provisional until the caller
// commits it.
type Result struct {
	Items   []domain.WorkItem
	Cost    int
	Cursor  domain.Cursor
	Skipped []Skip
}

// Empty reports whether the build produced no items.
func (r Result) Empty() bool {
	return len(r.Items) == 0
}

// Builder walks the catalog from the cursor and accumulates items until the
// next one would exceed the available capacity or the item limit.
type Builder struct {
	reader    catalog.Reader
	estimator estimate.Estimator
	// overhead is the per-request system instruction cost.
	overhead int
	emitter  events.EventEmitter
}

// Option configures a Builder.
type Option func(*Builder)

// WithEmitter publishes item.skipped events.
func WithEmitter(e events.EventEmitter) Option {
	return func(b *Builder) { b.emitter = e }
}

// NewBuilder creates a Builder.
func NewBuilder(reader catalog.Reader, est estimate.Estimator, overhead int, opts ...Option) *Builder {
	b := &Builder{reader: reader, estimator: est, overhead: overhead}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build selects the next batch. An item is never split: if its cost does not
// fit, the build stops and the item stays unconsumed. Items that cannot be
// read or estimated are skipped and the cursor moves past them. Only context
// cancellation is returned as an error.
func (b *Builder) Build(
	ctx context.Context,
	ids []string,
	cursor domain.Cursor,
	available int,
	maxItems int,
) (Result, error) {
	log := logger.FromContext(ctx)
	res := Result{Cursor: cursor}

	if cursor.Exhausted || available <= 0 || maxItems <= 0 {
		return res, nil
	}

	for i := cursor.Next(); i < len(ids); i++ {
		if err := ctx.Err(); err != nil {
			return Result{Cursor: cursor}, err
		}
		if len(res.Items) >= maxItems {
			return res, nil
		}

		id := ids[i]
		item, err := b.reader.Read(ctx, id)
		if err == nil {
			err = item.Validate()
		}
		if err == nil {
			item.Cost, err = b.cost(ctx, item)
		}
		if err != nil {
			if ctx.Err() != nil {
				return Result{Cursor: cursor}, ctx.Err()
			}
			log.Error("skipping work item",
				slog.String("item_id", id),
				slog.Int("index", i),
				slog.String("error", err.Error()))
			res.Skipped = append(res.Skipped, Skip{Index: i, ItemID: id, Reason: err.Error()})
			res.Cursor = res.Cursor.Advance(i)
			b.emitSkipped(ctx, id, i, err)
			continue
		}

		if res.Cost+item.Cost > available {
			return res, nil
		}

		res.Items = append(res.Items, item)
		res.Cost += item.Cost
		res.Cursor = res.Cursor.Advance(i)
	}

	res.Cursor.Exhausted = true
	return res, nil
}

func (b *Builder) cost(ctx context.Context, item domain.WorkItem) (int, error) {
	n, err := b.estimator.Estimate(ctx, item.Content)
	if err != nil {
		return 0, fmt.Errorf("estimate %s: %w", item.ID, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("estimate %s: %w: negative cost %d", item.ID, domain.ErrValidation, n)
	}
	return b.overhead + n, nil
}

func (b *Builder) emitSkipped(ctx context.Context, id string, index int, cause error) {
	if b.emitter == nil {
		return
	}
	evt, err := events.NewItemSkippedEvent(id, index, cause)
	if err != nil {
		return
	}
	if err := b.emitter.EmitEvent(ctx, evt); err != nil && !errors.Is(err, context.Canceled) {
		logger.FromContext(ctx).Warn("failed to emit event",
			slog.String("type", evt.Type), slog.String("error", err.Error()))
	}
}
