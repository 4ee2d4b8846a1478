package domain

import (
	"fmt"
	"sort"
	"time"
)

// SubmissionStateVersion is the schema version written by this build.
const SubmissionStateVersion = 1

// SubmissionState is the single document the submission loop restarts from.
// Batches holds ACTIVE records only; records observed terminal move to
// Finished, where they no longer count toward outstanding cost.
type SubmissionState struct {
	SchemaVersion int                    `json:"schema_version"`
	Cursor        Cursor                 `json:"cursor"`
	Catalog       []string               `json:"catalog"`
	Batches       map[string]BatchRecord `json:"batches"`
	Finished      map[string]BatchRecord `json:"finished,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// NewSubmissionState returns an empty state with no catalog.
func NewSubmissionState() *SubmissionState {
	return &SubmissionState{
		SchemaVersion: SubmissionStateVersion,
		Cursor:        NewCursor(),
		Catalog:       []string{},
		Batches:       make(map[string]BatchRecord),
		Finished:      make(map[string]BatchRecord),
	}
}

// Normalize upgrades a freshly decoded document to the current schema.
// Documents without a version are the legacy layout and are accepted as is.
func (s *SubmissionState) Normalize() error {
	if s.SchemaVersion > SubmissionStateVersion {
		return fmt.Errorf("%w: submission state version %d (max %d)",
			ErrUnsupportedSchema, s.SchemaVersion, SubmissionStateVersion)
	}
	s.SchemaVersion = SubmissionStateVersion
	if s.Catalog == nil {
		s.Catalog = []string{}
	}
	if s.Batches == nil {
		s.Batches = make(map[string]BatchRecord)
	}
	if s.Finished == nil {
		s.Finished = make(map[string]BatchRecord)
	}
	if s.Cursor.Index < CursorStart {
		s.Cursor.Index = CursorStart
	}
	return nil
}

// HasCatalog reports whether a catalog has been built for this state.
func (s *SubmissionState) HasCatalog() bool {
	return len(s.Catalog) > 0
}

// ResetCatalog installs a new catalog and starts a fresh pass over it.
func (s *SubmissionState) ResetCatalog(catalog []string) {
	s.Catalog = append([]string(nil), catalog...)
	s.Cursor = NewCursor()
}

// Track adds an ACTIVE record.
func (s *SubmissionState) Track(r BatchRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, done := s.Finished[r.Handle]; done {
		return fmt.Errorf("%w: batch %s already finished", ErrValidation, r.Handle)
	}
	s.Batches[r.Handle] = r
	return nil
}

// Finish moves the record for handle out of the ACTIVE set. It is a no-op for
// handles that are not tracked.
func (s *SubmissionState) Finish(handle string, status BatchStatus, at time.Time) (BatchRecord, bool) {
	r, ok := s.Batches[handle]
	if !ok {
		return BatchRecord{}, false
	}
	delete(s.Batches, handle)
	r.Status = status
	r.FinishedAt = &at
	s.Finished[handle] = r
	return r, true
}

// OutstandingCost sums the committed cost of all ACTIVE records.
func (s *SubmissionState) OutstandingCost() int {
	total := 0
	for _, r := range s.Batches {
		total += r.Cost
	}
	return total
}

// Done reports whether the catalog is exhausted and nothing is in flight.
func (s *SubmissionState) Done() bool {
	return s.Cursor.Exhausted && len(s.Batches) == 0
}

// ActiveHandles returns the handles of ACTIVE records in sorted order.
func (s *SubmissionState) ActiveHandles() []string {
	return sortedKeys(s.Batches)
}

// KnownHandles returns every handle the state has recorded, active or
// finished, ordered by submission time with ties broken by handle.
func (s *SubmissionState) KnownHandles() []string {
	all := make([]BatchRecord, 0, len(s.Batches)+len(s.Finished))
	for h, r := range s.Finished {
		if _, active := s.Batches[h]; active {
			continue
		}
		r.Handle = h
		all = append(all, r)
	}
	for h, r := range s.Batches {
		r.Handle = h
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].SubmittedAt.Equal(all[j].SubmittedAt) {
			return all[i].SubmittedAt.Before(all[j].SubmittedAt)
		}
		return all[i].Handle < all[j].Handle
	})
	handles := make([]string, len(all))
	for i, r := range all {
		handles[i] = r.Handle
	}
	return handles
}

// Record looks up a handle in either set.
func (s *SubmissionState) Record(handle string) (BatchRecord, bool) {
	if r, ok := s.Batches[handle]; ok {
		return r, true
	}
	r, ok := s.Finished[handle]
	return r, ok
}

func sortedKeys(m map[string]BatchRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
