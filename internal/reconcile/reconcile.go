// Package reconcile collects the output of finished batches into the merged
// result store.
//
// A pass reads the submission state without modifying it, so it can run
// while the submission loop is live. Batches are visited in submission order.
// Each batch's records are merged into the result store before the batch is
// added to the processed-batch set, so a second pass over the same state does
// nothing.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/events"
	"github.com/phrazzld/batchflow/internal/generation"
	"github.com/phrazzld/batchflow/internal/platform/filestore"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/store"
)

// Report summarises one reconciliation pass.
type Report struct {
	// NoState is set when no submission state exists yet.
	NoState    bool `json:"no_state"`
	Candidates int  `json:"candidates"`
	// Reconciled counts done batches whose output was merged.
	Reconciled int `json:"reconciled"`
	// Unsuccessful counts terminal batches that did not succeed, marked processed.
	Unsuccessful int `json:"unsuccessful"`
	// NoOutput counts done batches whose output is missing, marked processed
	// with no results.
	NoOutput int `json:"no_output"`
	// Pending counts batches that are not terminal yet.
	Pending int `json:"pending"`
	// Failed counts batches left for the next pass after a query or fetch error.
	Failed  int `json:"failed"`
	Results int `json:"results"`
	Dropped int `json:"dropped"`
	// Added and TotalCount describe the result store after the pass.
	Added      int `json:"added"`
	TotalCount int `json:"total_count"`
}

// Reconciler runs reconciliation passes.
type Reconciler struct {
	service   generation.Service
	states    store.SubmissionStateStore
	processed store.ProcessedBatchStore
	results   store.ResultRepository
	lockPath  string
	emitter   events.EventEmitter
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLockFile guards each pass with an exclusive lock file.
func WithLockFile(path string) Option {
	return func(r *Reconciler) { r.lockPath = path }
}

// WithEmitter publishes batch.reconciled events.
func WithEmitter(e events.EventEmitter) Option {
	return func(r *Reconciler) { r.emitter = e }
}

// New creates a Reconciler.
func New(
	service generation.Service,
	states store.SubmissionStateStore,
	processed store.ProcessedBatchStore,
	results store.ResultRepository,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{service: service, states: states, processed: processed, results: results}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one pass. It fails with store.ErrLocked when another pass
// holds the lock file.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	log := logger.FromContext(ctx)
	var rep Report

	if r.lockPath != "" {
		lock, err := filestore.AcquireLock(r.lockPath)
		if err != nil {
			return rep, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Error("failed to release reconcile lock",
					slog.String("path", r.lockPath), slog.String("error", err.Error()))
			}
		}()
	}

	state, err := r.states.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrSubmissionStateNotFound) {
			log.Info("no submission state found, nothing to reconcile")
			rep.NoState = true
			return rep, nil
		}
		return rep, fmt.Errorf("load submission state: %w", err)
	}

	processed, err := r.processed.Load(ctx)
	if err != nil {
		return rep, fmt.Errorf("load processed batches: %w", err)
	}

	merged := false
	for _, handle := range state.KnownHandles() {
		if processed.Contains(handle) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Candidates++
		rec, _ := state.Record(handle)

		outcome, records, err := r.collect(ctx, handle)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Failed++
			log.Error("batch not reconciled, will retry next pass",
				slog.String("handle", handle), slog.String("error", err.Error()))
			continue
		case outcome.status.Phase() != domain.PhaseTerminal:
			rep.Pending++
			continue
		}

		rep.Results += len(records)
		rep.Dropped += outcome.dropped
		switch {
		case outcome.noOutput:
			rep.NoOutput++
		case outcome.status.IsSuccess():
			rep.Reconciled++
		default:
			rep.Unsuccessful++
			log.Warn("batch finished without output",
				slog.String("handle", handle), slog.String("status", string(outcome.status)))
		}

		if len(records) > 0 {
			sum, err := r.results.Merge(ctx, records)
			if err != nil {
				return rep, fmt.Errorf("merge results of %s: %w", handle, err)
			}
			rep.Added += sum.Added
			rep.TotalCount = sum.TotalCount
			merged = true
		}

		processed.Add(handle)
		if err := r.processed.Save(ctx, processed); err != nil {
			return rep, fmt.Errorf("persist processed batches: %w", err)
		}
		log.Info("batch reconciled",
			slog.String("handle", handle),
			slog.String("status", string(outcome.status)),
			slog.Int("items", rec.ItemCount),
			slog.Int("results", len(records)),
			slog.Int("dropped", outcome.dropped))
		r.emit(ctx, handle, outcome.status, len(records), outcome.dropped)
	}

	if !merged {
		rs, err := r.results.Load(ctx)
		if err != nil {
			return rep, fmt.Errorf("load result store: %w", err)
		}
		rep.TotalCount = rs.TotalCount
		log.Info("reconciliation complete, no new results", slog.Any("report", rep))
		return rep, nil
	}
	log.Info("reconciliation complete", slog.Any("report", rep))
	return rep, nil
}

type outcome struct {
	status   domain.BatchStatus
	dropped  int
	noOutput bool
}

// collect queries handle and, when it finished successfully, fetches and
// validates its output.
func (r *Reconciler) collect(ctx context.Context, handle string) (outcome, map[string]json.RawMessage, error) {
	log := logger.FromContext(ctx)

	report, err := r.service.Status(ctx, handle)
	if err != nil {
		return outcome{}, nil, fmt.Errorf("query status: %w", err)
	}
	out := outcome{status: report.Status}
	if !report.Status.IsSuccess() {
		return out, nil, nil
	}

	recs, err := r.service.FetchOutput(ctx, report.OutputRef)
	if errors.Is(err, generation.ErrNoOutput) {
		out.noOutput = true
		log.Error("finished batch has no output, marking processed",
			slog.String("handle", handle), slog.String("error", err.Error()))
		return out, nil, nil
	}
	if err != nil {
		return outcome{}, nil, fmt.Errorf("fetch output: %w", err)
	}

	results := make(map[string]json.RawMessage, len(recs))
	for _, rec := range recs {
		if rec.Err != "" || rec.ItemID == "" {
			out.dropped++
			log.Warn("dropping result record",
				slog.String("handle", handle),
				slog.String("item_id", rec.ItemID),
				slog.String("error", rec.Err))
			continue
		}
		payload, err := generation.ParsePayload(rec.Payload)
		if err != nil {
			out.dropped++
			log.Warn("dropping unparsable result",
				slog.String("handle", handle),
				slog.String("item_id", rec.ItemID),
				slog.String("error", err.Error()))
			continue
		}
		results[rec.ItemID] = payload
	}
	return out, results, nil
}

func (r *Reconciler) emit(ctx context.Context, handle string, status domain.BatchStatus, results, dropped int) {
	if r.emitter == nil {
		return
	}
	evt, err := events.NewBatchReconciledEvent(handle, string(status), results, dropped)
	if err != nil {
		return
	}
	if err := r.emitter.EmitEvent(ctx, evt); err != nil {
		logger.FromContext(ctx).Warn("failed to emit event",
			slog.String("type", evt.Type), slog.String("error", err.Error()))
	}
}
