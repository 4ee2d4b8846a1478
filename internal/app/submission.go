package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/batchflow/internal/api"
	"github.com/phrazzld/batchflow/internal/batch"
	"github.com/phrazzld/batchflow/internal/catalog"
	"github.com/phrazzld/batchflow/internal/config"
	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/events"
	"github.com/phrazzld/batchflow/internal/instruction"
	"github.com/phrazzld/batchflow/internal/platform/backend"
	"github.com/phrazzld/batchflow/internal/platform/filestore"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/store"
	"github.com/phrazzld/batchflow/internal/submission"
	"github.com/phrazzld/batchflow/internal/tracker"
)

// SubmissionOptions are the per-invocation switches of the submission command.
type SubmissionOptions struct {
	// RebuildCatalog discards the stored catalog and cursor and builds a new one.
	RebuildCatalog bool
}

// RunSubmission resumes or starts the submission loop and runs it until the
// catalog is drained and every batch has finished, the iteration limit is
// hit, or ctx is cancelled. Configuration problems wrap
// config.ErrInvalidConfig or estimate.ErrEstimatorUnavailable.
func RunSubmission(ctx context.Context, cfg *config.Config, opts SubmissionOptions) (submission.Summary, error) {
	log := logger.FromContext(ctx)
	var sum submission.Summary

	if err := config.EnsureDirs(cfg.Paths); err != nil {
		return sum, err
	}

	in, err := instruction.Load(cfg.Paths.InstructionFile)
	if err != nil {
		return sum, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	be, err := backend.New(ctx, cfg)
	if err != nil {
		return sum, err
	}

	overhead, err := instruction.Overhead(ctx, in, be.Estimator)
	if err != nil {
		return sum, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	states := filestore.NewSubmissionStateStore(cfg.Paths.SubmissionStateFile())
	state, err := prepareState(ctx, cfg, states, opts)
	if err != nil {
		return sum, err
	}

	progress := events.NewProgress()
	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(progress)

	reader := catalog.NewFileReader(cfg.Paths.SourceDir, cfg.Catalog.Extension)
	builder := batch.NewBuilder(reader, be.Estimator, overhead, batch.WithEmitter(emitter))
	tr := tracker.New(be.Service, states, tracker.WithEmitter(emitter))
	loop := submission.NewLoop(states, tr, builder, be.Service, in, submission.Options{
		CapacityCeiling:  cfg.Submission.CapacityCeiling,
		MaxItemsPerBatch: cfg.Submission.MaxItemsPerBatch,
		PollInterval:     cfg.Submission.PollInterval,
		MaxIterations:    cfg.Submission.MaxIterations,
	}, submission.WithEmitter(emitter))

	log.Info("starting submission loop",
		slog.Int("capacity_ceiling", cfg.Submission.CapacityCeiling),
		slog.Int("max_items_per_batch", cfg.Submission.MaxItemsPerBatch),
		slog.Int("instruction_overhead", overhead),
		slog.Int("catalog_size", len(state.Catalog)),
		slog.Int("cursor", state.Cursor.Index))

	if cfg.Status.Addr == "" {
		return loop.Run(ctx, state)
	}

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		defer stopServer()
		var err error
		sum, err = loop.Run(gctx, state)
		return err
	})
	g.Go(func() error {
		handler := api.NewStatusHandler(loop, progress, logger.RunID(ctx))
		return api.Serve(serverCtx, cfg.Status.Addr, api.NewRouter(handler))
	})

	return sum, g.Wait()
}

// prepareState loads the stored submission state, building a catalog when
// none exists yet or when a rebuild was requested.
func prepareState(
	ctx context.Context,
	cfg *config.Config,
	states store.SubmissionStateStore,
	opts SubmissionOptions,
) (*domain.SubmissionState, error) {
	log := logger.FromContext(ctx)

	state, err := states.Load(ctx)
	switch {
	case errors.Is(err, store.ErrSubmissionStateNotFound):
		state = domain.NewSubmissionState()
	case err != nil:
		return nil, fmt.Errorf("load submission state: %w", err)
	}

	if state.HasCatalog() && !opts.RebuildCatalog {
		log.Info("resuming submission state",
			slog.Int("catalog_size", len(state.Catalog)),
			slog.Int("cursor", state.Cursor.Index),
			slog.Int("active_batches", len(state.Batches)),
			slog.Int("finished_batches", len(state.Finished)))
		return state, nil
	}

	var rng *rand.Rand
	if cfg.Catalog.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Catalog.Seed))
	}
	ids, err := catalog.Build(ctx, catalog.Options{
		SourceDir:    cfg.Paths.SourceDir,
		MarkerDir:    cfg.Paths.MarkerDir,
		Extension:    cfg.Catalog.Extension,
		MarkerSuffix: cfg.Catalog.MarkerSuffix,
		Limit:        cfg.Catalog.Limit,
		Sample:       cfg.Catalog.Sample,
		Rand:         rng,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	if opts.RebuildCatalog && state.HasCatalog() {
		log.Warn("rebuilding catalog, cursor reset",
			slog.Int("previous_size", len(state.Catalog)),
			slog.Int("previous_cursor", state.Cursor.Index))
	}
	catalog.Reset(state, ids)
	if err := states.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save submission state: %w", err)
	}
	return state, nil
}
