// Package tracker keeps the submission state's view of in-flight batches in
// step with the execution service and computes the committed capacity.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/events"
	"github.com/phrazzld/batchflow/internal/generation"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/store"
)

// Tracker refreshes ACTIVE batch records.
type Tracker struct {
	service generation.Service
	states  store.SubmissionStateStore
	emitter events.EventEmitter
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithEmitter publishes batch.finished events.
func WithEmitter(e events.EventEmitter) Option {
	return func(t *Tracker) { t.emitter = e }
}

// WithClock overrides the time source used for FinishedAt.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker.
func New(service generation.Service, states store.SubmissionStateStore, opts ...Option) *Tracker {
	t := &Tracker{service: service, states: states, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Refresh queries the status of every ACTIVE batch. Terminal batches move to
// the finished set and stop counting. A failed query leaves the record as it
// was, and its cost still counts. The state is persisted afterwards; only a
// persistence failure (or cancellation) is returned as an error.
func (t *Tracker) Refresh(ctx context.Context, state *domain.SubmissionState) (int, error) {
	log := logger.FromContext(ctx)

	for _, handle := range state.ActiveHandles() {
		if err := ctx.Err(); err != nil {
			return state.OutstandingCost(), err
		}

		report, err := t.service.Status(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return state.OutstandingCost(), ctx.Err()
			}
			log.Error("batch status query failed, keeping committed cost",
				slog.String("handle", handle),
				slog.String("error", err.Error()))
			continue
		}

		rec := state.Batches[handle]
		switch report.Status.Phase() {
		case domain.PhaseTerminal:
			finished, _ := state.Finish(handle, report.Status, t.now().UTC())
			log.Info("batch finished",
				slog.String("handle", handle),
				slog.String("status", string(report.Status)),
				slog.Int("cost", finished.Cost),
				slog.Int("items", finished.ItemCount))
			t.emitFinished(ctx, finished)
		case domain.PhaseActive:
			if rec.Status != report.Status {
				log.Debug("batch status changed",
					slog.String("handle", handle),
					slog.String("from", string(rec.Status)),
					slog.String("to", string(report.Status)))
				rec.Status = report.Status
				state.Batches[handle] = rec
			}
		default:
			log.Warn("unrecognised batch status, treating as active",
				slog.String("handle", handle),
				slog.String("raw_state", report.RawState))
		}
	}

	if err := t.states.Save(ctx, state); err != nil {
		return state.OutstandingCost(), fmt.Errorf("persist submission state: %w", err)
	}
	return state.OutstandingCost(), nil
}

func (t *Tracker) emitFinished(ctx context.Context, r domain.BatchRecord) {
	if t.emitter == nil {
		return
	}
	evt, err := events.NewBatchFinishedEvent(r.Handle, string(r.Status), r.Cost)
	if err != nil {
		return
	}
	if err := t.emitter.EmitEvent(ctx, evt); err != nil && !errors.Is(err, context.Canceled) {
		logger.FromContext(ctx).Warn("failed to emit event",
			slog.String("type", evt.Type), slog.String("error", err.Error()))
	}
}

// Occupancy summarises committed capacity for progress reporting.
type Occupancy struct {
	ActiveBatches   int  `json:"active_batches"`
	Outstanding     int  `json:"outstanding_cost"`
	Ceiling         int  `json:"capacity_ceiling"`
	Available       int  `json:"available_capacity"`
	FinishedBatches int  `json:"finished_batches"`
	CursorIndex     int  `json:"cursor_index"`
	CatalogSize     int  `json:"catalog_size"`
	Exhausted       bool `json:"exhausted"`
}

// OccupancyOf reports the state's committed capacity against ceiling.
func OccupancyOf(state *domain.SubmissionState, ceiling int) Occupancy {
	out := state.OutstandingCost()
	avail := ceiling - out
	if avail < 0 {
		avail = 0
	}
	return Occupancy{
		ActiveBatches:   len(state.Batches),
		Outstanding:     out,
		Ceiling:         ceiling,
		Available:       avail,
		FinishedBatches: len(state.Finished),
		CursorIndex:     state.Cursor.Index,
		CatalogSize:     len(state.Catalog),
		Exhausted:       state.Cursor.Exhausted,
	}
}

// LogValue implements slog.LogValuer.
func (o Occupancy) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("active_batches", o.ActiveBatches),
		slog.Int("outstanding", o.Outstanding),
		slog.Int("ceiling", o.Ceiling),
		slog.Int("cursor", o.CursorIndex),
		slog.Int("catalog_size", o.CatalogSize),
		slog.Bool("exhausted", o.Exhausted),
	)
}
