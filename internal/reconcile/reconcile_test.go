package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/events"
	"github.com/phrazzld/batchflow/internal/generation"
	"github.com/phrazzld/batchflow/internal/mocks"
	"github.com/phrazzld/batchflow/internal/platform/filestore"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/store"
)

type env struct {
	dir       string
	states    *filestore.SubmissionStateStore
	processed *filestore.ProcessedBatchStore
	results   *filestore.ResultRepository
	svc       *mocks.MockBatchService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	return &env{
		dir:       dir,
		states:    filestore.NewSubmissionStateStore(filepath.Join(dir, "submission_state.json")),
		processed: filestore.NewProcessedBatchStore(filepath.Join(dir, "processed_batches.json")),
		results:   filestore.NewResultRepository(filepath.Join(dir, "merged_results.json")),
		svc:       mocks.NewMockBatchService(0),
	}
}

func (e *env) reconciler(opts ...Option) *Reconciler {
	return New(e.svc, e.states, e.processed, e.results, opts...)
}

// submit creates a batch in the mock service and records it in state.
func (e *env) submit(t *testing.T, state *domain.SubmissionState, ids ...string) string {
	t.Helper()
	reqs := make([]generation.JobRequest, len(ids))
	for i, id := range ids {
		reqs[i] = generation.JobRequest{ItemID: id, Payload: "text"}
	}
	sub, err := e.svc.Submit(context.Background(), generation.BatchDescriptor{Requests: reqs})
	require.NoError(t, err)
	require.NoError(t, state.Track(domain.BatchRecord{
		Handle: sub.Handle, Status: sub.Status, Cost: 1,
		ItemCount: len(ids), Items: ids, SubmittedAt: time.Now(),
	}))
	return sub.Handle
}

func TestRun_NoStateIsNoOp(t *testing.T) {
	e := newEnv(t)
	rep, err := e.reconciler().Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.NoState)
	assert.Empty(t, e.svc.Calls.Status)
}

func TestRun_MergesFinishedBatchesOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	state := domain.NewSubmissionState()
	h1 := e.submit(t, state, "a", "b")
	h2 := e.submit(t, state, "c")
	// h1 was already observed terminal by the submission loop.
	_, ok := state.Finish(h1, domain.BatchStatusDone, time.Now())
	require.True(t, ok)
	require.NoError(t, e.states.Save(ctx, state))

	prog := events.NewProgress()
	emitter := events.NewInMemoryEventEmitter(nil)
	emitter.RegisterHandler(prog)
	r := e.reconciler(WithLockFile(filepath.Join(e.dir, ".reconcile.lock")), WithEmitter(emitter))

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Candidates)
	assert.Equal(t, 2, rep.Reconciled)
	assert.Equal(t, 3, rep.Results)
	assert.Equal(t, 3, rep.Added)
	assert.Equal(t, 3, rep.TotalCount)
	assert.Equal(t, 2, prog.Snapshot().Reconciled)

	rs, err := e.results.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, rs.IDs())
	assert.JSONEq(t, `{"item":"c"}`, string(rs.Results["c"]))

	set, err := e.processed.Load(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{h1, h2}, set.Handles())

	before := rs.LastUpdated
	fetches := len(e.svc.Calls.Fetched)

	rep, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Candidates)
	assert.Equal(t, 3, rep.TotalCount)
	assert.Len(t, e.svc.Calls.Fetched, fetches, "processed batches are not fetched again")

	rs, err = e.results.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, rs.LastUpdated, "an empty pass leaves the store untouched")
}

func TestRun_PendingAndUnsuccessfulBatches(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.svc.PollsToFinish = 100

	state := domain.NewSubmissionState()
	running := e.submit(t, state, "a")
	expired := e.submit(t, state, "b")
	e.svc.SetStatus(expired, domain.BatchStatusExpired)
	require.NoError(t, e.states.Save(ctx, state))

	rep, err := e.reconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pending)
	assert.Equal(t, 1, rep.Unsuccessful)
	assert.Equal(t, 0, rep.Results)

	set, err := e.processed.Load(ctx)
	require.NoError(t, err)
	assert.True(t, set.Contains(expired))
	assert.False(t, set.Contains(running))
}

func TestRun_FetchFailureLeavesBatchUnprocessed(t *testing.T) {
	capture := logger.NewLogCapture(t)
	ctx := capture.Context(context.Background())
	e := newEnv(t)
	state := domain.NewSubmissionState()
	h := e.submit(t, state, "a")
	require.NoError(t, e.states.Save(ctx, state))

	e.svc.FetchOutputFn = func(ctx context.Context, ref string) ([]generation.OutputRecord, error) {
		return nil, generation.ErrTransientFailure
	}
	rep, err := e.reconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Contains(t, capture.Messages(t), "ERROR batch not reconciled, will retry next pass")

	set, err := e.processed.Load(ctx)
	require.NoError(t, err)
	assert.False(t, set.Contains(h))

	e.svc.FetchOutputFn = nil
	rep, err = e.reconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reconciled)
	assert.Equal(t, 1, rep.TotalCount)
}

func TestRun_DropsInvalidRecords(t *testing.T) {
	capture := logger.NewLogCapture(t)
	ctx := capture.Context(context.Background())
	e := newEnv(t)
	state := domain.NewSubmissionState()
	e.submit(t, state, "good", "fenced", "broken", "errored")
	require.NoError(t, e.states.Save(ctx, state))

	e.svc.OutputFn = func(d generation.BatchDescriptor) []generation.OutputRecord {
		return []generation.OutputRecord{
			{ItemID: "good", Payload: json.RawMessage(`{"labels": [1, 2]}`)},
			{ItemID: "fenced", Payload: json.RawMessage("```json\n{\"labels\":[]}\n```")},
			{ItemID: "broken", Payload: json.RawMessage(`{"labels": [`)},
			{ItemID: "errored", Err: "service error 500: internal"},
			{Payload: json.RawMessage(`{}`)},
		}
	}

	rep, err := e.reconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Results)
	assert.Equal(t, 3, rep.Dropped)

	rs, err := e.results.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fenced", "good"}, rs.IDs())
	assert.Equal(t, `{"labels":[1,2]}`, string(rs.Results["good"]))

	assert.Len(t, capture.Find(t, "dropping unparsable result"), 1)
	dropped := capture.Find(t, "dropping result record")
	require.Len(t, dropped, 2)
	assert.Equal(t, "errored", dropped[0]["item_id"])
}

func TestRun_LaterBatchWins(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, filestore.WriteJSON(ctx, filepath.Join(e.dir, "merged_results.json"), &domain.ResultStore{
		SchemaVersion: domain.ResultStoreVersion,
		Results:       map[string]json.RawMessage{"a": json.RawMessage(`{"old":true}`)},
		TotalCount:    1,
	}))

	state := domain.NewSubmissionState()
	e.submit(t, state, "a")
	require.NoError(t, e.states.Save(ctx, state))

	rep, err := e.reconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Added)
	assert.Equal(t, 1, rep.TotalCount)

	rs, err := e.results.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"item":"a"}`, string(rs.Results["a"]))
}

func TestRun_LockExcludesConcurrentPass(t *testing.T) {
	e := newEnv(t)
	lockPath := filepath.Join(e.dir, ".reconcile.lock")
	held, err := filestore.AcquireLock(lockPath)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	_, err = e.reconciler(WithLockFile(lockPath)).Run(context.Background())
	assert.True(t, errors.Is(err, store.ErrLocked))
}

func TestRun_StatusErrorIsRetried(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	state := domain.NewSubmissionState()
	e.submit(t, state, "a")
	require.NoError(t, e.states.Save(ctx, state))

	e.svc.StatusFn = func(ctx context.Context, handle string) (generation.StatusReport, error) {
		return generation.StatusReport{}, errors.New("503 from upstream")
	}
	rep, err := e.reconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 0, rep.TotalCount)
}

func TestRun_DoneWithoutOutputIsMarkedProcessed(t *testing.T) {
	capture := logger.NewLogCapture(t)
	ctx := capture.Context(context.Background())
	e := newEnv(t)
	state := domain.NewSubmissionState()
	h := e.submit(t, state, "a")
	require.NoError(t, e.states.Save(ctx, state))

	e.svc.StatusFn = func(ctx context.Context, handle string) (generation.StatusReport, error) {
		return generation.StatusReport{Status: domain.BatchStatusDone, RawState: "JOB_STATE_SUCCEEDED"}, nil
	}
	e.svc.FetchOutputFn = func(ctx context.Context, ref string) ([]generation.OutputRecord, error) {
		return nil, generation.ErrNoOutput
	}
	r := e.reconciler()

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.NoOutput)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, 0, rep.Results)
	assert.Contains(t, capture.Messages(t), "ERROR finished batch has no output, marking processed")

	set, err := e.processed.Load(ctx)
	require.NoError(t, err)
	assert.True(t, set.Contains(h))

	rep, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Candidates)
	assert.Len(t, e.svc.Calls.Fetched, 1, "a batch without output is not fetched again")
}

func TestRun_LaterSubmissionWinsWithinPass(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := domain.NewSubmissionState()
	require.NoError(t, state.Track(domain.BatchRecord{
		Handle: "batches/zzz", Cost: 1, ItemCount: 1, Items: []string{"a"}, SubmittedAt: t0,
	}))
	require.NoError(t, state.Track(domain.BatchRecord{
		Handle: "batches/aaa", Cost: 1, ItemCount: 1, Items: []string{"a"}, SubmittedAt: t0.Add(time.Hour),
	}))
	require.NoError(t, e.states.Save(ctx, state))

	e.svc.StatusFn = func(ctx context.Context, handle string) (generation.StatusReport, error) {
		return generation.StatusReport{Status: domain.BatchStatusDone, OutputRef: "output/" + handle}, nil
	}
	e.svc.FetchOutputFn = func(ctx context.Context, ref string) ([]generation.OutputRecord, error) {
		payload, err := json.Marshal(map[string]string{"from": ref})
		require.NoError(t, err)
		return []generation.OutputRecord{{ItemID: "a", Payload: payload}}, nil
	}

	rep, err := e.reconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Reconciled)
	assert.Equal(t, 1, rep.TotalCount)
	assert.Equal(t, []string{"output/batches/zzz", "output/batches/aaa"}, e.svc.Calls.Fetched)

	rs, err := e.results.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"output/batches/aaa"}`, string(rs.Results["a"]))
}

// flakyProcessedStore lets ok saves through and fails the rest.
type flakyProcessedStore struct {
	store.ProcessedBatchStore
	ok int
}

func (s *flakyProcessedStore) Save(ctx context.Context, set *domain.ProcessedBatchSet) error {
	if s.ok == 0 {
		return errors.New("disk full")
	}
	s.ok--
	return s.ProcessedBatchStore.Save(ctx, set)
}

func TestRun_ResultsAreStoredBeforeBatchIsMarkedProcessed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	t0 := time.Now().Add(-time.Hour)
	state := domain.NewSubmissionState()
	h1 := e.submit(t, state, "a")
	h2 := e.submit(t, state, "b")
	for i, h := range []string{h1, h2} {
		rec, ok := state.Record(h)
		require.True(t, ok)
		rec.SubmittedAt = t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, state.Track(rec))
	}
	require.NoError(t, e.states.Save(ctx, state))

	processed := &flakyProcessedStore{ProcessedBatchStore: e.processed, ok: 1}
	r := New(e.svc, e.states, processed, e.results)

	rep, err := r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist processed batches")
	assert.Equal(t, 2, rep.Added)

	rs, err := e.results.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rs.IDs(), "the second batch's results are stored even though its handle was not recorded")

	set, err := e.processed.Load(ctx)
	require.NoError(t, err)
	assert.True(t, set.Contains(h1))
	assert.False(t, set.Contains(h2))

	rep, err = e.reconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 0, rep.Added)
	assert.Equal(t, 2, rep.TotalCount)
}
