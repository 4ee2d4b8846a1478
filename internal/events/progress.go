package events

import (
	"context"
	"sync"
)

// Counters is a snapshot of lifecycle totals.
type Counters struct {
	Submitted      int    `json:"batches_submitted"`
	ItemsSubmitted int    `json:"items_submitted"`
	Finished       int    `json:"batches_finished"`
	Failed         int    `json:"batches_failed"`
	Reconciled     int    `json:"batches_reconciled"`
	ResultsMerged  int    `json:"results_merged"`
	ItemsSkipped   int    `json:"items_skipped"`
	LastEventType  string `json:"last_event_type,omitempty"`
}

// Progress is an EventHandler that aggregates lifecycle counters.
type Progress struct {
	mu sync.Mutex
	c  Counters
}

// NewProgress returns an empty Progress handler.
func NewProgress() *Progress {
	return &Progress{}
}

// HandleEvent implements EventHandler.
func (p *Progress) HandleEvent(ctx context.Context, event *LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Type {
	case TypeBatchSubmitted:
		var pl BatchSubmitted
		if err := event.UnmarshalPayload(&pl); err != nil {
			return err
		}
		p.c.Submitted++
		p.c.ItemsSubmitted += pl.ItemCount
	case TypeBatchFinished:
		var pl BatchFinished
		if err := event.UnmarshalPayload(&pl); err != nil {
			return err
		}
		p.c.Finished++
		if pl.Status != "done" {
			p.c.Failed++
		}
	case TypeBatchReconciled:
		var pl BatchReconciled
		if err := event.UnmarshalPayload(&pl); err != nil {
			return err
		}
		p.c.Reconciled++
		p.c.ResultsMerged += pl.Results
	case TypeItemSkipped:
		p.c.ItemsSkipped++
	default:
		return nil
	}
	p.c.LastEventType = event.Type
	return nil
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.c
}
