package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ResultStoreVersion is the schema version written by this build.
const ResultStoreVersion = 1

// ResultStore maps work item identities to their structured output.
type ResultStore struct {
	SchemaVersion int                        `json:"schema_version"`
	Results       map[string]json.RawMessage `json:"results"`
	LastUpdated   time.Time                  `json:"last_updated"`
	TotalCount    int                        `json:"total_count"`
}

// NewResultStore returns an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		SchemaVersion: ResultStoreVersion,
		Results:       make(map[string]json.RawMessage),
	}
}

// Normalize upgrades a freshly decoded document to the current schema.
func (r *ResultStore) Normalize() error {
	if r.SchemaVersion > ResultStoreVersion {
		return fmt.Errorf("%w: result store version %d (max %d)",
			ErrUnsupportedSchema, r.SchemaVersion, ResultStoreVersion)
	}
	r.SchemaVersion = ResultStoreVersion
	if r.Results == nil {
		r.Results = make(map[string]json.RawMessage)
	}
	r.TotalCount = len(r.Results)
	return nil
}

// Merge applies updates with last-writer-wins semantics and refreshes the
// metadata. It returns the number of identities that were new to the store.
func (r *ResultStore) Merge(updates map[string]json.RawMessage, now time.Time) int {
	if r.Results == nil {
		r.Results = make(map[string]json.RawMessage, len(updates))
	}
	added := 0
	for id, payload := range updates {
		if _, ok := r.Results[id]; !ok {
			added++
		}
		r.Results[id] = payload
	}
	r.TotalCount = len(r.Results)
	r.LastUpdated = now.UTC()
	return added
}

// IDs returns the stored identities in sorted order.
func (r *ResultStore) IDs() []string {
	ids := make([]string, 0, len(r.Results))
	for id := range r.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
