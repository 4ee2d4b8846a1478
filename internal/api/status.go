package api

import (
	"net/http"
	"time"

	"github.com/phrazzld/batchflow/internal/events"
	"github.com/phrazzld/batchflow/internal/submission"
	"github.com/phrazzld/batchflow/internal/tracker"
)

// LoopSource exposes the live state of the submission loop.
type LoopSource interface {
	Snapshot() submission.Snapshot
}

// CounterSource exposes lifecycle counters.
type CounterSource interface {
	Snapshot() events.Counters
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	RunID     string            `json:"run_id,omitempty"`
	Phase     submission.Phase  `json:"phase"`
	Iteration int               `json:"iteration"`
	Occupancy tracker.Occupancy `json:"occupancy"`
	Counters  events.Counters   `json:"counters"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// StatusHandler serves loop progress.
type StatusHandler struct {
	loop     LoopSource
	counters CounterSource
	runID    string
}

// NewStatusHandler creates a StatusHandler. counters may be nil.
func NewStatusHandler(loop LoopSource, counters CounterSource, runID string) *StatusHandler {
	return &StatusHandler{loop: loop, counters: counters, runID: runID}
}

// Status handles GET /status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.loop.Snapshot()
	if snap.Phase == "" {
		RespondWithError(w, http.StatusServiceUnavailable, "submission loop has not started")
		return
	}
	resp := StatusResponse{
		RunID:     h.runID,
		Phase:     snap.Phase,
		Iteration: snap.Iteration,
		Occupancy: snap.Occupancy,
		UpdatedAt: snap.UpdatedAt,
	}
	if h.counters != nil {
		resp.Counters = h.counters.Snapshot()
	}
	RespondWithJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
