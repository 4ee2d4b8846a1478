package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/events"
	"github.com/phrazzld/batchflow/internal/generation"
	"github.com/phrazzld/batchflow/internal/mocks"
	"github.com/phrazzld/batchflow/internal/platform/logger"
)

func stateWith(records ...domain.BatchRecord) *domain.SubmissionState {
	s := domain.NewSubmissionState()
	for _, r := range records {
		s.Batches[r.Handle] = r
	}
	return s
}

func TestRefresh(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	statuses := map[string]generation.StatusReport{
		"b-run":  {Status: domain.BatchStatusRunning},
		"b-done": {Status: domain.BatchStatusDone, OutputRef: "out"},
		"b-fail": {Status: domain.BatchStatusFailed},
		"b-odd":  {Status: domain.BatchStatus("paused"), RawState: "JOB_STATE_PAUSED"},
	}
	svc := &mocks.MockBatchService{
		StatusFn: func(ctx context.Context, handle string) (generation.StatusReport, error) {
			if handle == "b-err" {
				return generation.StatusReport{}, errors.New("connection reset")
			}
			return statuses[handle], nil
		},
	}
	states := &mocks.MockStateStore{}
	progress := events.NewProgress()
	emitter := events.NewInMemoryEventEmitter(nil)
	emitter.RegisterHandler(progress)

	tr := New(svc, states, WithEmitter(emitter), WithClock(func() time.Time { return fixed }))

	state := stateWith(
		domain.BatchRecord{Handle: "b-run", Status: domain.BatchStatusPending, Cost: 10},
		domain.BatchRecord{Handle: "b-done", Status: domain.BatchStatusRunning, Cost: 20},
		domain.BatchRecord{Handle: "b-fail", Status: domain.BatchStatusRunning, Cost: 40},
		domain.BatchRecord{Handle: "b-err", Status: domain.BatchStatusRunning, Cost: 80},
		domain.BatchRecord{Handle: "b-odd", Status: domain.BatchStatusRunning, Cost: 160},
	)

	capture := logger.NewLogCapture(t)
	total, err := tr.Refresh(capture.Context(context.Background()), state)
	require.NoError(t, err)

	assert.Equal(t, 10+80+160, total, "active, failed-query and unknown batches all count")
	assert.ElementsMatch(t, []string{"b-run", "b-err", "b-odd"}, state.ActiveHandles())
	assert.Equal(t, domain.BatchStatusRunning, state.Batches["b-run"].Status)

	require.Contains(t, state.Finished, "b-done")
	assert.Equal(t, domain.BatchStatusDone, state.Finished["b-done"].Status)
	assert.Equal(t, fixed, *state.Finished["b-done"].FinishedAt)
	assert.Equal(t, domain.BatchStatusFailed, state.Finished["b-fail"].Status)

	assert.Equal(t, 2, progress.Snapshot().Finished)
	assert.Equal(t, 1, progress.Snapshot().Failed)

	saved := states.Saved()
	require.NotNil(t, saved)
	assert.Len(t, saved.Batches, 3)
	assert.Len(t, saved.Finished, 2)

	failed := capture.Find(t, "batch status query failed, keeping committed cost")
	require.Len(t, failed, 1)
	assert.Equal(t, "ERROR", failed[0]["level"])
	assert.Equal(t, "b-err", failed[0]["handle"])
}

func TestRefresh_TerminalRecordsAreNotRecounted(t *testing.T) {
	svc := mocks.NewMockBatchService(0)
	states := &mocks.MockStateStore{}
	tr := New(svc, states)
	ctx := context.Background()

	sub, err := svc.Submit(ctx, generation.BatchDescriptor{Requests: []generation.JobRequest{{ItemID: "a", Payload: "x"}}})
	require.NoError(t, err)
	state := stateWith(domain.BatchRecord{Handle: sub.Handle, Status: sub.Status, Cost: 7})

	total, err := tr.Refresh(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	total, err = tr.Refresh(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Len(t, svc.Calls.Status, 1, "finished batches are not queried again")
}

func TestRefresh_PersistFailure(t *testing.T) {
	svc := mocks.NewMockBatchService(0)
	states := &mocks.MockStateStore{SaveErr: errors.New("disk full")}

	_, err := New(svc, states).Refresh(context.Background(), domain.NewSubmissionState())
	assert.ErrorContains(t, err, "disk full")
}

func TestRefresh_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state := stateWith(domain.BatchRecord{Handle: "b", Status: domain.BatchStatusRunning, Cost: 5})
	svc := mocks.NewMockBatchService(0)

	total, err := New(svc, &mocks.MockStateStore{}).Refresh(ctx, state)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, total)
}

func TestOccupancyOf(t *testing.T) {
	state := stateWith(
		domain.BatchRecord{Handle: "a", Cost: 30},
		domain.BatchRecord{Handle: "b", Cost: 90},
	)
	state.ResetCatalog([]string{"x", "y", "z"})
	state.Cursor = domain.Cursor{Index: 1}

	o := OccupancyOf(state, 100)
	assert.Equal(t, Occupancy{
		ActiveBatches: 2,
		Outstanding:   120,
		Ceiling:       100,
		Available:     0,
		CursorIndex:   1,
		CatalogSize:   3,
	}, o)
}
