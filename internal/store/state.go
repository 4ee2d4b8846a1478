package store

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/batchflow/internal/domain"
)

// SubmissionStateStore persists the submission loop's state document.
// Version: 1.0
type SubmissionStateStore interface {
	// Load returns the persisted state, or ErrSubmissionStateNotFound if none
	// has been written yet.
	Load(ctx context.Context) (*domain.SubmissionState, error)

	// Save replaces the persisted state. Implementations must never leave a
	// partially written document behind.
	Save(ctx context.Context, state *domain.SubmissionState) error
}

// ProcessedBatchStore persists the reconciler's processed-batch set.
// Version: 1.0
type ProcessedBatchStore interface {
	// Load returns the persisted set, or an empty set if none exists.
	Load(ctx context.Context) (*domain.ProcessedBatchSet, error)

	// Save replaces the persisted set.
	Save(ctx context.Context, set *domain.ProcessedBatchSet) error
}

// ResultRepository holds the merged per-item results.
// Version: 1.0
type ResultRepository interface {
	// Merge applies updates with last-writer-wins semantics, refreshes the
	// store metadata and persists the result. It returns the merged store
	// summary.
	Merge(ctx context.Context, updates map[string]json.RawMessage) (*ResultSummary, error)

	// Load returns the whole result store.
	Load(ctx context.Context) (*domain.ResultStore, error)
}

// ResultSummary describes the result store after a merge.
type ResultSummary struct {
	Added      int
	Updated    int
	TotalCount int
}
