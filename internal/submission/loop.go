package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/batchflow/internal/batch"
	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/events"
	"github.com/phrazzld/batchflow/internal/generation"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/store"
	"github.com/phrazzld/batchflow/internal/tracker"
)

// Phase is the loop's current activity.
type Phase string

// Loop phases.
const (
	PhaseScanning Phase = "SCANNING"
	PhaseBuilding Phase = "BUILDING"
	PhasePolling  Phase = "POLLING"
	PhaseDone     Phase = "DONE"
)

// Options tunes the loop.
type Options struct {
	// CapacityCeiling bounds the total cost of ACTIVE batches.
	CapacityCeiling int
	// MaxItemsPerBatch caps the requests in one batch.
	MaxItemsPerBatch int
	// PollInterval is the sleep between iterations.
	PollInterval time.Duration
	// MaxIterations stops the loop after that many iterations; 0 is unlimited.
	MaxIterations int
}

// Summary describes how a run ended.
type Summary struct {
	Phase      Phase
	Iterations int
	Submitted  int
	Skipped    int
	Occupancy  tracker.Occupancy
}

// Snapshot is the loop's live status, safe to read from other goroutines.
type Snapshot struct {
	Phase     Phase             `json:"phase"`
	Iteration int               `json:"iteration"`
	Occupancy tracker.Occupancy `json:"occupancy"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Loop is the submission loop. It is not safe for concurrent Run calls.
type Loop struct {
	states      store.SubmissionStateStore
	tracker     *tracker.Tracker
	builder     *batch.Builder
	service     generation.Service
	instruction generation.Instruction
	emitter     events.EventEmitter
	opts        Options
	now         func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

// Option configures a Loop.
type Option func(*Loop)

// WithEmitter publishes batch.submitted and item.skipped events.
func WithEmitter(e events.EventEmitter) Option {
	return func(l *Loop) { l.emitter = e }
}

// WithClock overrides the time source used for SubmittedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// NewLoop creates a Loop.
func NewLoop(
	states store.SubmissionStateStore,
	tr *tracker.Tracker,
	builder *batch.Builder,
	service generation.Service,
	in generation.Instruction,
	opts Options,
	options ...Option,
) *Loop {
	l := &Loop{
		states:      states,
		tracker:     tr,
		builder:     builder,
		service:     service,
		instruction: in,
		opts:        opts,
		now:         time.Now,
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// Snapshot returns the latest published status.
func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

func (l *Loop) publish(phase Phase, iteration int, state *domain.SubmissionState) {
	l.mu.Lock()
	l.snapshot = Snapshot{
		Phase:     phase,
		Iteration: iteration,
		Occupancy: tracker.OccupancyOf(state, l.opts.CapacityCeiling),
		UpdatedAt: l.now().UTC(),
	}
	l.mu.Unlock()
}

// Run drives state until the catalog is exhausted and no batch remains
// active, MaxIterations is reached, or ctx is cancelled. On cancellation the
// state is persisted and the returned error wraps context.Canceled.
// Any other error is a persistence failure.
func (l *Loop) Run(ctx context.Context, state *domain.SubmissionState) (Summary, error) {
	log := logger.FromContext(ctx)
	sum := Summary{}

	for {
		sum.Iterations++
		l.publish(PhaseScanning, sum.Iterations, state)

		outstanding, err := l.tracker.Refresh(ctx, state)
		if err != nil {
			return l.stop(ctx, state, sum, err)
		}

		if state.Done() {
			break
		}

		available := l.opts.CapacityCeiling - outstanding
		if available > 0 && !state.Cursor.Exhausted {
			l.publish(PhaseBuilding, sum.Iterations, state)
			n, skipped, err := l.admit(ctx, state, outstanding, available)
			sum.Submitted += n
			sum.Skipped += skipped
			if err != nil {
				return l.stop(ctx, state, sum, err)
			}
		}

		if state.Done() {
			break
		}

		l.publish(PhasePolling, sum.Iterations, state)
		occ := tracker.OccupancyOf(state, l.opts.CapacityCeiling)
		log.Info("submission progress",
			slog.Int("iteration", sum.Iterations),
			slog.Any("occupancy", occ),
			slog.Int("remaining", state.Cursor.Remaining(len(state.Catalog))))

		if l.opts.MaxIterations > 0 && sum.Iterations >= l.opts.MaxIterations {
			sum.Phase = PhasePolling
			sum.Occupancy = occ
			log.Info("iteration limit reached", slog.Int("iterations", sum.Iterations))
			return sum, nil
		}

		if err := sleep(ctx, l.opts.PollInterval); err != nil {
			return l.stop(ctx, state, sum, err)
		}
	}

	l.publish(PhaseDone, sum.Iterations, state)
	sum.Phase = PhaseDone
	sum.Occupancy = tracker.OccupancyOf(state, l.opts.CapacityCeiling)
	log.Info("submission complete",
		slog.Int("iterations", sum.Iterations),
		slog.Int("batches_submitted", sum.Submitted),
		slog.Int("finished_batches", len(state.Finished)))
	return sum, nil
}

// admit builds and submits at most one batch. It returns the number of
// batches submitted and items skipped.
func (l *Loop) admit(ctx context.Context, state *domain.SubmissionState, outstanding, available int) (int, int, error) {
	log := logger.FromContext(ctx)

	res, err := l.builder.Build(ctx, state.Catalog, state.Cursor, available, l.opts.MaxItemsPerBatch)
	if err != nil {
		return 0, 0, err
	}

	if res.Empty() {
		if res.Cursor == state.Cursor && outstanding == 0 && !res.Cursor.Exhausted {
			// Nothing in flight and the next item still does not fit: it can
			// never be admitted, so pass over it.
			res = l.skipOversized(ctx, state, res)
		}
		if res.Cursor == state.Cursor {
			return 0, len(res.Skipped), nil
		}
		state.Cursor = res.Cursor
		if err := l.states.Save(ctx, state); err != nil {
			return 0, len(res.Skipped), fmt.Errorf("persist submission state: %w", err)
		}
		return 0, len(res.Skipped), nil
	}

	desc := l.describe(res)
	sub, err := l.service.Submit(ctx, desc)
	if err != nil {
		if ctx.Err() != nil {
			return 0, len(res.Skipped), ctx.Err()
		}
		// The cursor stays where it was; the same items are retried next
		// iteration.
		log.Error("batch submission failed",
			slog.String("display_name", desc.DisplayName),
			slog.Int("items", len(res.Items)),
			slog.Int("cost", res.Cost),
			slog.Bool("transient", generation.IsTransient(err)),
			slog.String("error", err.Error()))
		return 0, len(res.Skipped), nil
	}

	status := sub.Status
	if status.Phase() != domain.PhaseActive {
		status = domain.BatchStatusPending
	}
	rec := domain.BatchRecord{
		Handle:      sub.Handle,
		Status:      status,
		Cost:        res.Cost,
		ItemCount:   len(res.Items),
		SubmittedAt: l.now().UTC(),
		Items:       desc.ItemIDs(),
		InputRef:    sub.InputRef,
	}
	if err := state.Track(rec); err != nil {
		log.Error("service returned an untrackable batch",
			slog.String("handle", sub.Handle),
			slog.String("error", err.Error()))
		return 0, len(res.Skipped), nil
	}
	state.Cursor = res.Cursor

	if err := l.states.Save(ctx, state); err != nil {
		return 1, len(res.Skipped), fmt.Errorf("persist submission state: %w", err)
	}

	log.Info("batch submitted",
		slog.String("handle", rec.Handle),
		slog.Int("items", rec.ItemCount),
		slog.Int("cost", rec.Cost),
		slog.Int("cursor", state.Cursor.Index))
	l.emit(ctx, func() (*events.LifecycleEvent, error) {
		return events.NewBatchSubmittedEvent(rec.Handle, rec.ItemCount, rec.Cost)
	})
	return 1, len(res.Skipped), nil
}

func (l *Loop) skipOversized(ctx context.Context, state *domain.SubmissionState, res batch.Result) batch.Result {
	idx := res.Cursor.Next()
	if idx >= len(state.Catalog) {
		res.Cursor.Exhausted = true
		return res
	}
	id := state.Catalog[idx]
	logger.FromContext(ctx).Error("work item exceeds the capacity ceiling, skipping",
		slog.String("item_id", id),
		slog.Int("index", idx),
		slog.Int("ceiling", l.opts.CapacityCeiling))
	res.Cursor = res.Cursor.Advance(idx)
	if idx == len(state.Catalog)-1 {
		res.Cursor.Exhausted = true
	}
	res.Skipped = append(res.Skipped, batch.Skip{Index: idx, ItemID: id, Reason: "exceeds capacity ceiling"})
	l.emit(ctx, func() (*events.LifecycleEvent, error) {
		return events.NewItemSkippedEvent(id, idx, errors.New("exceeds capacity ceiling"))
	})
	return res
}

func (l *Loop) describe(res batch.Result) generation.BatchDescriptor {
	name := l.instruction.Name
	if name == "" {
		name = "batchflow"
	}
	reqs := make([]generation.JobRequest, len(res.Items))
	for i, it := range res.Items {
		reqs[i] = generation.JobRequest{ItemID: it.ID, Payload: it.Content}
	}
	return generation.BatchDescriptor{
		DisplayName: fmt.Sprintf("%s-%s", name, uuid.NewString()),
		Instruction: l.instruction,
		Requests:    reqs,
	}
}

func (l *Loop) emit(ctx context.Context, build func() (*events.LifecycleEvent, error)) {
	if l.emitter == nil {
		return
	}
	evt, err := build()
	if err != nil {
		return
	}
	if err := l.emitter.EmitEvent(ctx, evt); err != nil && ctx.Err() == nil {
		logger.FromContext(ctx).Warn("failed to emit event",
			slog.String("type", evt.Type), slog.String("error", err.Error()))
	}
}

// stop ends a run early. Cancellation persists the state on a detached
// context so the cursor and batch records survive the shutdown.
func (l *Loop) stop(ctx context.Context, state *domain.SubmissionState, sum Summary, cause error) (Summary, error) {
	sum.Phase = l.Snapshot().Phase
	sum.Occupancy = tracker.OccupancyOf(state, l.opts.CapacityCeiling)

	if !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		return sum, cause
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := l.states.Save(saveCtx, state); err != nil {
		return sum, fmt.Errorf("persist submission state on shutdown: %w", err)
	}
	logger.FromContext(ctx).Info("submission loop stopped",
		slog.Int("iterations", sum.Iterations),
		slog.Int("cursor", state.Cursor.Index))
	return sum, fmt.Errorf("submission loop: %w", cause)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
