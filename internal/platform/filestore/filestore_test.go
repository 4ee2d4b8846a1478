package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")
	ctx := context.Background()

	require.NoError(t, WriteJSON(ctx, path, map[string]int{"v": 1}))
	require.NoError(t, WriteJSON(ctx, path, map[string]int{"v": 2}))

	var got map[string]int
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, 2, got["v"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestWriteJSONCancelledLeavesOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, WriteJSON(context.Background(), path, map[string]int{"v": 1}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WriteJSON(ctx, path, map[string]int{"v": 2}), context.Canceled)

	var got map[string]int
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, 1, got["v"])
}

func TestReadJSONErrors(t *testing.T) {
	dir := t.TempDir()

	var v map[string]any
	assert.ErrorIs(t, ReadJSON(filepath.Join(dir, "missing.json"), &v), store.ErrNotFound)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{truncated"), 0o644))
	assert.ErrorIs(t, ReadJSON(bad, &v), store.ErrCorrupt)
}

func TestSubmissionStateStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSubmissionStateStore(filepath.Join(t.TempDir(), "submission_state.json"))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, store.ErrSubmissionStateNotFound)

	state := domain.NewSubmissionState()
	state.ResetCatalog([]string{"a", "b", "c"})
	state.Cursor = state.Cursor.Advance(1)
	require.NoError(t, state.Track(domain.BatchRecord{
		Handle:      "batches/1",
		Status:      domain.BatchStatusPending,
		Cost:        20,
		ItemCount:   2,
		Items:       []string{"a", "b"},
		SubmittedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.Save(ctx, state))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Catalog, loaded.Catalog)
	assert.Equal(t, 1, loaded.Cursor.Index)
	assert.Equal(t, 20, loaded.OutstandingCost())
	assert.Equal(t, domain.SubmissionStateVersion, loaded.SchemaVersion)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestSubmissionStateStoreRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submission_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 99}`), 0o644))

	_, err := NewSubmissionStateStore(path).Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnsupportedSchema)
}

func TestProcessedBatchStore(t *testing.T) {
	ctx := context.Background()
	s := NewProcessedBatchStore(filepath.Join(t.TempDir(), "processed_batches.json"))

	set, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())

	set.Add("batches/2")
	set.Add("batches/1")
	require.NoError(t, s.Save(ctx, set))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"batches/1", "batches/2"}, loaded.Handles())
}

func TestResultRepositoryMerge(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "merged_results.json")
	repo := NewResultRepository(path)

	summary, err := repo.Merge(ctx, map[string]json.RawMessage{
		"a": json.RawMessage(`{"segments":[]}`),
		"b": json.RawMessage(`{"segments":[1]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, &store.ResultSummary{Added: 2, Updated: 0, TotalCount: 2}, summary)

	summary, err = repo.Merge(ctx, map[string]json.RawMessage{
		"b": json.RawMessage(`{"segments":[2]}`),
		"c": json.RawMessage(`{"segments":[3]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, &store.ResultSummary{Added: 1, Updated: 1, TotalCount: 3}, summary)

	rs, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"segments":[2]}`, string(rs.Results["b"]))
	assert.Equal(t, 3, rs.TotalCount)
	assert.False(t, rs.LastUpdated.IsZero())
}

func TestLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".reconcile.lock")

	lock, err := AcquireLock(path)
	require.NoError(t, err)

	_, err = AcquireLock(path)
	assert.ErrorIs(t, err, store.ErrLocked)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())

	again, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}
