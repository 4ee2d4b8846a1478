package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/store"
)

// SubmissionStateStore implements store.SubmissionStateStore on a single file.
type SubmissionStateStore struct {
	path string
	now  func() time.Time
}

var _ store.SubmissionStateStore = (*SubmissionStateStore)(nil)

// NewSubmissionStateStore creates a store backed by path.
func NewSubmissionStateStore(path string) *SubmissionStateStore {
	return &SubmissionStateStore{path: path, now: time.Now}
}

// Path returns the backing file.
func (s *SubmissionStateStore) Path() string { return s.path }

// Load implements store.SubmissionStateStore.
func (s *SubmissionStateStore) Load(ctx context.Context) (*domain.SubmissionState, error) {
	var state domain.SubmissionState
	if err := ReadJSON(s.path, &state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", store.ErrSubmissionStateNotFound, s.path)
		}
		return nil, store.NewStoreError("submission state", "load", s.path, err)
	}
	if err := state.Normalize(); err != nil {
		return nil, store.NewStoreError("submission state", "load", s.path, err)
	}
	return &state, nil
}

// Save implements store.SubmissionStateStore.
func (s *SubmissionStateStore) Save(ctx context.Context, state *domain.SubmissionState) error {
	state.SchemaVersion = domain.SubmissionStateVersion
	state.UpdatedAt = s.now().UTC()
	if err := WriteJSON(ctx, s.path, state); err != nil {
		return store.NewStoreError("submission state", "save", s.path, err)
	}
	return nil
}

// ProcessedBatchStore implements store.ProcessedBatchStore on a single file.
type ProcessedBatchStore struct {
	path string
}

var _ store.ProcessedBatchStore = (*ProcessedBatchStore)(nil)

// NewProcessedBatchStore creates a store backed by path.
func NewProcessedBatchStore(path string) *ProcessedBatchStore {
	return &ProcessedBatchStore{path: path}
}

// Load implements store.ProcessedBatchStore. A missing file is an empty set.
func (s *ProcessedBatchStore) Load(ctx context.Context) (*domain.ProcessedBatchSet, error) {
	set := domain.NewProcessedBatchSet()
	if err := ReadJSON(s.path, set); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewProcessedBatchSet(), nil
		}
		return nil, store.NewStoreError("processed batches", "load", s.path, err)
	}
	return set, nil
}

// Save implements store.ProcessedBatchStore.
func (s *ProcessedBatchStore) Save(ctx context.Context, set *domain.ProcessedBatchSet) error {
	if err := WriteJSON(ctx, s.path, set); err != nil {
		return store.NewStoreError("processed batches", "save", s.path, err)
	}
	return nil
}

// ResultRepository implements store.ResultRepository on a single JSON file.
// The whole document is rewritten on every merge.
type ResultRepository struct {
	path string
	now  func() time.Time
}

var _ store.ResultRepository = (*ResultRepository)(nil)

// NewResultRepository creates a repository backed by path.
func NewResultRepository(path string) *ResultRepository {
	return &ResultRepository{path: path, now: time.Now}
}

// Load implements store.ResultRepository. A missing file is an empty store.
func (r *ResultRepository) Load(ctx context.Context) (*domain.ResultStore, error) {
	var rs domain.ResultStore
	if err := ReadJSON(r.path, &rs); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewResultStore(), nil
		}
		return nil, store.NewStoreError("result store", "load", r.path, err)
	}
	if err := rs.Normalize(); err != nil {
		return nil, store.NewStoreError("result store", "load", r.path, err)
	}
	return &rs, nil
}

// Merge implements store.ResultRepository.
func (r *ResultRepository) Merge(ctx context.Context, updates map[string]json.RawMessage) (*store.ResultSummary, error) {
	rs, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	added := rs.Merge(updates, r.now())
	if err := WriteJSON(ctx, r.path, rs); err != nil {
		return nil, store.NewStoreError("result store", "save", r.path, err)
	}
	return &store.ResultSummary{
		Added:      added,
		Updated:    len(updates) - added,
		TotalCount: rs.TotalCount,
	}, nil
}
