package generation

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/batchflow/internal/domain"
)

// Service is the asynchronous batch-execution service.
// Version: 1.0
type Service interface {
	// Submit uploads the requests and creates a batch. The returned handle is
	// opaque and is the only way to refer to the batch afterwards.
	Submit(ctx context.Context, batch BatchDescriptor) (Submission, error)

	// Status reports the current status of a batch. OutputRef is set once
	// the batch has finished successfully.
	Status(ctx context.Context, handle string) (StatusReport, error)

	// FetchOutput downloads and decodes the result file of a finished batch.
	// Individual undecodable records are returned with Err set instead of
	// failing the whole call.
	FetchOutput(ctx context.Context, outputRef string) ([]OutputRecord, error)
}

// Instruction is the fixed system instruction sent with every job request.
type Instruction struct {
	Name             string  `yaml:"name" json:"name"`
	SystemPrompt     string  `yaml:"system_prompt" json:"system_prompt"`
	ResponseMIMEType string  `yaml:"response_mime_type" json:"response_mime_type"`
	Temperature      float32 `yaml:"temperature" json:"temperature"`
}

// JobRequest is one item's request inside a batch.
type JobRequest struct {
	ItemID  string
	Payload string
}

// BatchDescriptor is everything the service needs to run one batch.
type BatchDescriptor struct {
	DisplayName string
	Instruction Instruction
	Requests    []JobRequest
}

// ItemIDs returns the request identities in order.
func (d BatchDescriptor) ItemIDs() []string {
	ids := make([]string, len(d.Requests))
	for i, r := range d.Requests {
		ids[i] = r.ItemID
	}
	return ids
}

// Submission is the service's acknowledgement of an accepted batch.
type Submission struct {
	Handle   string
	Status   domain.BatchStatus
	InputRef string
}

// StatusReport is a single status observation.
type StatusReport struct {
	Status domain.BatchStatus
	// RawState is the service's own status string, kept for diagnostics.
	RawState  string
	OutputRef string
}

// OutputRecord is one item's result from a finished batch.
type OutputRecord struct {
	ItemID  string
	Payload json.RawMessage
	Err     string
}
