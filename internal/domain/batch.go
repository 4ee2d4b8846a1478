package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus is the lifecycle status of a submitted batch as reported by the
// execution service, normalised to the internal vocabulary.
type BatchStatus string

// Possible batch status values
const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusRunning    BatchStatus = "running"
	BatchStatusCompleting BatchStatus = "completing"
	BatchStatusDone       BatchStatus = "done"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusCancelled  BatchStatus = "cancelled"
	BatchStatusExpired    BatchStatus = "expired"
)

// BatchPhase collapses the status vocabulary into the two states the
// admission logic cares about.
type BatchPhase int

const (
	// PhaseUnknown is reported for statuses outside the vocabulary.
	// Callers treat it like PhaseActive.
	PhaseUnknown BatchPhase = iota
	PhaseActive
	PhaseTerminal
)

func (p BatchPhase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// ParseBatchStatus converts s into a BatchStatus.
func ParseBatchStatus(s string) (BatchStatus, error) {
	status := BatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if status.Phase() == PhaseUnknown {
		return status, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}

// Phase maps the status onto the ACTIVE/TERMINAL lattice.
func (s BatchStatus) Phase() BatchPhase {
	switch s {
	case BatchStatusPending, BatchStatusRunning, BatchStatusCompleting:
		return PhaseActive
	case BatchStatusDone, BatchStatusFailed, BatchStatusCancelled, BatchStatusExpired:
		return PhaseTerminal
	default:
		return PhaseUnknown
	}
}

// IsTerminal reports whether no further progress will occur for the batch.
func (s BatchStatus) IsTerminal() bool {
	return s.Phase() == PhaseTerminal
}

// IsSuccess reports whether the batch finished and produced output.
func (s BatchStatus) IsSuccess() bool {
	return s == BatchStatusDone
}

// BatchRecord tracks one submitted batch.
type BatchRecord struct {
	Handle      string      `json:"handle"`
	Status      BatchStatus `json:"status"`
	Cost        int         `json:"cost"`
	ItemCount   int         `json:"item_count"`
	SubmittedAt time.Time   `json:"submitted_at"`
	// Items lists the identities submitted in this batch, in request order.
	Items []string `json:"items,omitempty"`
	// InputRef is the service-side reference of the uploaded request file.
	InputRef string `json:"input_ref,omitempty"`
	// FinishedAt is set when the record was first observed terminal.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Validate checks that the record can be tracked.
func (r BatchRecord) Validate() error {
	if strings.TrimSpace(r.Handle) == "" {
		return ErrEmptyHandle
	}
	if r.Cost < 0 {
		return fmt.Errorf("%w: batch %s has negative cost %d", ErrValidation, r.Handle, r.Cost)
	}
	if r.ItemCount != len(r.Items) && len(r.Items) > 0 {
		return fmt.Errorf("%w: batch %s item count %d does not match %d items",
			ErrValidation, r.Handle, r.ItemCount, len(r.Items))
	}
	return nil
}
