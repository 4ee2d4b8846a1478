package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/generation"
)

// MockBatchService implements generation.Service for testing.
//
// Without overrides, a submitted batch reports running for PollsToFinish
// status calls and then FinalStatus (default done). Its output echoes every
// request as {"item": "<id>"} unless OutputFn is set.
type MockBatchService struct {
	SubmitFn      func(ctx context.Context, batch generation.BatchDescriptor) (generation.Submission, error)
	StatusFn      func(ctx context.Context, handle string) (generation.StatusReport, error)
	FetchOutputFn func(ctx context.Context, outputRef string) ([]generation.OutputRecord, error)

	// OutputFn renders the output of a finished batch.
	OutputFn func(batch generation.BatchDescriptor) []generation.OutputRecord

	PollsToFinish int
	FinalStatus   domain.BatchStatus

	mu      sync.Mutex
	next    int
	batches map[string]*mockBatch

	// Call tracking for verification
	Calls struct {
		mu        sync.Mutex
		Submitted []generation.BatchDescriptor
		Status    []string
		Fetched   []string
	}
}

type mockBatch struct {
	desc   generation.BatchDescriptor
	polls  int
	status domain.BatchStatus
}

// NewMockBatchService returns a service whose batches finish after polls
// status queries.
func NewMockBatchService(polls int) *MockBatchService {
	return &MockBatchService{PollsToFinish: polls}
}

// Submit implements generation.Service.
func (m *MockBatchService) Submit(ctx context.Context, batch generation.BatchDescriptor) (generation.Submission, error) {
	m.Calls.mu.Lock()
	m.Calls.Submitted = append(m.Calls.Submitted, batch)
	m.Calls.mu.Unlock()

	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, batch)
	}
	if len(batch.Requests) == 0 {
		return generation.Submission{}, generation.ErrEmptyBatch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batches == nil {
		m.batches = make(map[string]*mockBatch)
	}
	m.next++
	handle := fmt.Sprintf("batches/mock-%03d", m.next)
	m.batches[handle] = &mockBatch{desc: batch, status: domain.BatchStatusPending}

	return generation.Submission{
		Handle:   handle,
		Status:   domain.BatchStatusPending,
		InputRef: "files/" + handle,
	}, nil
}

// Status implements generation.Service.
func (m *MockBatchService) Status(ctx context.Context, handle string) (generation.StatusReport, error) {
	m.Calls.mu.Lock()
	m.Calls.Status = append(m.Calls.Status, handle)
	m.Calls.mu.Unlock()

	if m.StatusFn != nil {
		return m.StatusFn(ctx, handle)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[handle]
	if !ok {
		return generation.StatusReport{}, fmt.Errorf("%w: %s", generation.ErrBatchNotFound, handle)
	}
	if !b.status.IsTerminal() {
		b.polls++
		b.status = domain.BatchStatusRunning
		if b.polls > m.PollsToFinish {
			b.status = m.FinalStatus
			if b.status == "" {
				b.status = domain.BatchStatusDone
			}
		}
	}

	report := generation.StatusReport{Status: b.status, RawState: string(b.status)}
	if b.status.IsSuccess() {
		report.OutputRef = "output/" + handle
	}
	return report, nil
}

// FetchOutput implements generation.Service.
func (m *MockBatchService) FetchOutput(ctx context.Context, outputRef string) ([]generation.OutputRecord, error) {
	m.Calls.mu.Lock()
	m.Calls.Fetched = append(m.Calls.Fetched, outputRef)
	m.Calls.mu.Unlock()

	if m.FetchOutputFn != nil {
		return m.FetchOutputFn(ctx, outputRef)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	handle := outputRef[len("output/"):]
	b, ok := m.batches[handle]
	if !ok || !b.status.IsSuccess() {
		return nil, fmt.Errorf("%w: %s", generation.ErrNoOutput, outputRef)
	}
	if m.OutputFn != nil {
		return m.OutputFn(b.desc), nil
	}

	out := make([]generation.OutputRecord, 0, len(b.desc.Requests))
	for _, r := range b.desc.Requests {
		payload, _ := json.Marshal(map[string]string{"item": r.ItemID})
		out = append(out, generation.OutputRecord{ItemID: r.ItemID, Payload: payload})
	}
	return out, nil
}

// SetStatus forces the status of a submitted batch.
func (m *MockBatchService) SetStatus(handle string, status domain.BatchStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[handle]; ok {
		b.status = status
	}
}

// SubmitCount returns the number of Submit calls.
func (m *MockBatchService) SubmitCount() int {
	m.Calls.mu.Lock()
	defer m.Calls.mu.Unlock()
	return len(m.Calls.Submitted)
}

// SubmittedItems returns the item identities of every Submit call in order.
func (m *MockBatchService) SubmittedItems() [][]string {
	m.Calls.mu.Lock()
	defer m.Calls.mu.Unlock()
	out := make([][]string, len(m.Calls.Submitted))
	for i, d := range m.Calls.Submitted {
		out[i] = d.ItemIDs()
	}
	return out
}
