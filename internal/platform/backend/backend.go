// Package backend selects the batch service and cost estimator named by
// the configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/batchflow/internal/config"
	"github.com/phrazzld/batchflow/internal/estimate"
	"github.com/phrazzld/batchflow/internal/generation"
	"github.com/phrazzld/batchflow/internal/platform/dryrun"
	"github.com/phrazzld/batchflow/internal/platform/gemini"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/redact"
)

// Backend bundles the configured service and estimator.
type Backend struct {
	Service   generation.Service
	Estimator estimate.Estimator
}

// geminiFactory is replaced in tests.
var geminiFactory = func(ctx context.Context, cfg config.ServiceConfig) (generation.Service, prober, error) {
	svc, counter, err := gemini.NewBatchService(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return svc, counter, nil
}

type prober interface {
	estimate.Estimator
	Probe(ctx context.Context) error
}

// New builds the service and estimator. A remote estimator is probed once
// and wrapped in a cache; any failure here wraps
// estimate.ErrEstimatorUnavailable or config.ErrInvalidConfig so callers can
// treat it as a startup configuration error.
func New(ctx context.Context, cfg *config.Config) (*Backend, error) {
	log := logger.FromContext(ctx)
	var (
		b       Backend
		counter prober
	)

	switch cfg.Service.Backend {
	case config.BackendGemini:
		svc, c, err := geminiFactory(ctx, cfg.Service)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		b.Service, counter = svc, c
	case config.BackendDryRun:
		svc, err := dryrun.New(cfg.Paths.DryRunDir(), cfg.Service.DryRunPolls)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		b.Service = svc
	default:
		return nil, fmt.Errorf("%w: unknown service backend %q", config.ErrInvalidConfig, cfg.Service.Backend)
	}

	switch cfg.Estimator.Kind {
	case config.EstimatorGemini:
		if counter == nil {
			_, c, err := geminiFactory(ctx, cfg.Service)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", estimate.ErrEstimatorUnavailable, err)
			}
			counter = c
		}
		if err := counter.Probe(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", estimate.ErrEstimatorUnavailable, err)
		}
		b.Estimator = estimate.NewCached(counter)
	case config.EstimatorHeuristic:
		b.Estimator = estimate.NewHeuristic(cfg.Estimator.BytesPerToken)
	default:
		return nil, fmt.Errorf("%w: unknown estimator %q", config.ErrInvalidConfig, cfg.Estimator.Kind)
	}

	log.Info("backend ready",
		slog.String("service", cfg.Service.Backend),
		slog.String("estimator", cfg.Estimator.Kind),
		slog.String("model", cfg.Service.Model),
		slog.String("api_key", redact.Secret(cfg.Service.APIKey)))
	return &b, nil
}
