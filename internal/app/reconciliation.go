package app

import (
	"context"
	"fmt"

	"github.com/phrazzld/batchflow/internal/config"
	"github.com/phrazzld/batchflow/internal/events"
	"github.com/phrazzld/batchflow/internal/platform/backend"
	"github.com/phrazzld/batchflow/internal/platform/filestore"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/platform/postgres"
	"github.com/phrazzld/batchflow/internal/reconcile"
	"github.com/phrazzld/batchflow/internal/store"
)

// RunReconciliation performs one reconciliation pass against the configured
// result store.
func RunReconciliation(ctx context.Context, cfg *config.Config) (reconcile.Report, error) {
	log := logger.FromContext(ctx)

	if err := config.EnsureDirs(cfg.Paths); err != nil {
		return reconcile.Report{}, err
	}

	be, err := backend.New(ctx, reconcileBackendConfig(cfg))
	if err != nil {
		return reconcile.Report{}, err
	}

	results, closeFn, err := openResultRepository(ctx, cfg.ResultStore, cfg.Paths)
	if err != nil {
		return reconcile.Report{}, err
	}
	defer func() {
		if err := closeFn(); err != nil {
			log.Error("failed to close result store", "error", err)
		}
	}()

	emitter := events.NewInMemoryEventEmitter(log)
	r := reconcile.New(
		be.Service,
		filestore.NewSubmissionStateStore(cfg.Paths.SubmissionStateFile()),
		filestore.NewProcessedBatchStore(cfg.Paths.ProcessedBatchesFile()),
		results,
		reconcile.WithLockFile(cfg.Paths.ReconcileLockFile()),
		reconcile.WithEmitter(emitter),
	)
	return r.Run(ctx)
}

// reconcileBackendConfig never asks for the remote token counter: a pass
// estimates nothing.
func reconcileBackendConfig(cfg *config.Config) *config.Config {
	c := *cfg
	c.Estimator.Kind = config.EstimatorHeuristic
	if c.Estimator.BytesPerToken <= 0 {
		c.Estimator.BytesPerToken = 4
	}
	return &c
}

func openResultRepository(
	ctx context.Context,
	cfg config.ResultStoreConfig,
	paths config.PathsConfig,
) (store.ResultRepository, func() error, error) {
	switch cfg.Driver {
	case config.DriverFile, "":
		return filestore.NewResultRepository(paths.ResultStoreFile()), func() error { return nil }, nil
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		return postgres.NewResultRepository(db), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown result store driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
}
