package gemini

import (
	"strings"

	"google.golang.org/genai"

	"github.com/phrazzld/batchflow/internal/domain"
)

// mapState converts a job state into the internal status vocabulary.
// Unrecognised states map to an unknown status, which callers treat as
// active.
func mapState(state genai.JobState) domain.BatchStatus {
	s := strings.ToUpper(string(state))
	s = strings.TrimPrefix(s, "JOB_STATE_")
	s = strings.TrimPrefix(s, "BATCH_STATE_")

	switch s {
	case "PENDING", "QUEUED":
		return domain.BatchStatusPending
	case "RUNNING", "UPDATING", "PAUSED":
		return domain.BatchStatusRunning
	case "CANCELLING":
		return domain.BatchStatusCompleting
	case "SUCCEEDED", "PARTIALLY_SUCCEEDED":
		return domain.BatchStatusDone
	case "FAILED":
		return domain.BatchStatusFailed
	case "CANCELLED":
		return domain.BatchStatusCancelled
	case "EXPIRED":
		return domain.BatchStatusExpired
	default:
		return domain.BatchStatus(strings.ToLower(s))
	}
}
