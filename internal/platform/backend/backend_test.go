package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/batchflow/internal/config"
	"github.com/phrazzld/batchflow/internal/estimate"
	"github.com/phrazzld/batchflow/internal/generation"
	"github.com/phrazzld/batchflow/internal/mocks"
	"github.com/phrazzld/batchflow/internal/platform/dryrun"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/redact"
)

type fakeCounter struct {
	probeErr error
	calls    int
}

func (f *fakeCounter) Estimate(ctx context.Context, text string) (int, error) {
	f.calls++
	return len(text), nil
}

func (f *fakeCounter) Probe(ctx context.Context) error { return f.probeErr }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Paths:     config.PathsConfig{StateDir: t.TempDir()},
		Service:   config.ServiceConfig{Backend: config.BackendDryRun, Model: "m", DryRunPolls: 1},
		Estimator: config.EstimatorConfig{Kind: config.EstimatorHeuristic, BytesPerToken: 4},
	}
}

func stubGemini(t *testing.T, counter *fakeCounter, err error) {
	t.Helper()
	orig := geminiFactory
	geminiFactory = func(ctx context.Context, cfg config.ServiceConfig) (generation.Service, prober, error) {
		if err != nil {
			return nil, nil, err
		}
		return mocks.NewMockBatchService(1), counter, nil
	}
	t.Cleanup(func() { geminiFactory = orig })
}

func TestNewDryRunHeuristic(t *testing.T) {
	b, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	assert.IsType(t, &dryrun.Service{}, b.Service)
	cost, err := b.Estimator.Estimate(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, 2, cost)
}

func TestNewGeminiEstimatorIsProbedAndCached(t *testing.T) {
	counter := &fakeCounter{}
	stubGemini(t, counter, nil)

	cfg := testConfig(t)
	cfg.Service.Backend = config.BackendGemini
	cfg.Estimator.Kind = config.EstimatorGemini

	b, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &estimate.Cached{}, b.Estimator)

	for i := 0; i < 3; i++ {
		_, err := b.Estimator.Estimate(context.Background(), "same text")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, counter.calls)
}

func TestNewReadyLogMasksAPIKey(t *testing.T) {
	stubGemini(t, &fakeCounter{}, nil)
	capture := logger.NewLogCapture(t)

	cfg := testConfig(t)
	cfg.Service.Backend = config.BackendGemini
	cfg.Service.APIKey = "AIzaSyA-very-secret-key-value-0123456789"

	_, err := New(capture.Context(context.Background()), cfg)
	require.NoError(t, err)

	ready := capture.Find(t, "backend ready")
	require.Len(t, ready, 1)
	assert.Equal(t, redact.RedactedCredentialPlaceholder, ready[0]["api_key"])
	for _, e := range capture.Entries(t) {
		for _, v := range e {
			assert.NotContains(t, fmt.Sprint(v), cfg.Service.APIKey)
		}
	}
}

func TestNewProbeFailureIsEstimatorUnavailable(t *testing.T) {
	stubGemini(t, &fakeCounter{probeErr: errors.New("403")}, nil)

	cfg := testConfig(t)
	cfg.Estimator.Kind = config.EstimatorGemini

	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, estimate.ErrEstimatorUnavailable)
}

func TestNewGeminiClientFailureIsConfigError(t *testing.T) {
	stubGemini(t, nil, errors.New("no api key"))

	cfg := testConfig(t)
	cfg.Service.Backend = config.BackendGemini

	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
