package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/store"
)

// MockStateStore implements store.SubmissionStateStore in memory. Saved
// states are deep-copied through JSON so tests observe exactly what would
// have been written to disk.
type MockStateStore struct {
	// SaveErr, when set, is returned by every Save.
	SaveErr error

	mu    sync.Mutex
	data  []byte
	Saves int
}

// Load implements store.SubmissionStateStore.
func (m *MockStateStore) Load(ctx context.Context) (*domain.SubmissionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, store.ErrSubmissionStateNotFound
	}
	var s domain.SubmissionState
	if err := json.Unmarshal(m.data, &s); err != nil {
		return nil, err
	}
	if err := s.Normalize(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save implements store.SubmissionStateStore.
func (m *MockStateStore) Save(ctx context.Context, state *domain.SubmissionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}

// Saved returns the last saved state, or nil.
func (m *MockStateStore) Saved() *domain.SubmissionState {
	s, err := m.Load(context.Background())
	if err != nil {
		return nil
	}
	return s
}
