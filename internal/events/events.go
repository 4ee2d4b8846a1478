package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types.
const (
	TypeBatchSubmitted  = "batch.submitted"
	TypeBatchFinished   = "batch.finished"
	TypeBatchReconciled = "batch.reconciled"
	TypeItemSkipped     = "item.skipped"
)

// LifecycleEvent is a single notification about a batch or work item.
type LifecycleEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	// Payload contains the type-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *LifecycleEvent) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewLifecycleEvent creates a LifecycleEvent with the specified type and payload.
func NewLifecycleEvent(eventType string, payload interface{}) (*LifecycleEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &LifecycleEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payloadBytes,
		CreatedAt: time.Now(),
	}, nil
}

// BatchSubmitted is the payload of TypeBatchSubmitted.
type BatchSubmitted struct {
	Handle    string `json:"handle"`
	ItemCount int    `json:"item_count"`
	Cost      int    `json:"cost"`
}

// BatchFinished is the payload of TypeBatchFinished.
type BatchFinished struct {
	Handle string `json:"handle"`
	Status string `json:"status"`
	Cost   int    `json:"cost"`
}

// BatchReconciled is the payload of TypeBatchReconciled.
type BatchReconciled struct {
	Handle  string `json:"handle"`
	Status  string `json:"status"`
	Results int    `json:"results"`
	Dropped int    `json:"dropped"`
}

// ItemSkipped is the payload of TypeItemSkipped.
type ItemSkipped struct {
	ItemID string `json:"item_id"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// NewBatchSubmittedEvent builds a TypeBatchSubmitted event.
func NewBatchSubmittedEvent(handle string, items, cost int) (*LifecycleEvent, error) {
	return NewLifecycleEvent(TypeBatchSubmitted, BatchSubmitted{Handle: handle, ItemCount: items, Cost: cost})
}

// NewBatchFinishedEvent builds a TypeBatchFinished event.
func NewBatchFinishedEvent(handle, status string, cost int) (*LifecycleEvent, error) {
	return NewLifecycleEvent(TypeBatchFinished, BatchFinished{Handle: handle, Status: status, Cost: cost})
}

// NewBatchReconciledEvent builds a TypeBatchReconciled event.
func NewBatchReconciledEvent(handle, status string, results, dropped int) (*LifecycleEvent, error) {
	return NewLifecycleEvent(TypeBatchReconciled, BatchReconciled{
		Handle: handle, Status: status, Results: results, Dropped: dropped,
	})
}

// NewItemSkippedEvent builds a TypeItemSkipped event.
func NewItemSkippedEvent(itemID string, index int, cause error) (*LifecycleEvent, error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return NewLifecycleEvent(TypeItemSkipped, ItemSkipped{ItemID: itemID, Index: index, Reason: reason})
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *LifecycleEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *LifecycleEvent) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *LifecycleEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *LifecycleEvent) error
}
