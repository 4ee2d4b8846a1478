package domain

import (
	"encoding/json"
	"sort"
)

// ProcessedBatchSet is the set of batch handles whose results have been
// merged. It is persisted as a sorted JSON array.
type ProcessedBatchSet struct {
	handles map[string]struct{}
}

// NewProcessedBatchSet returns a set containing handles.
func NewProcessedBatchSet(handles ...string) *ProcessedBatchSet {
	s := &ProcessedBatchSet{handles: make(map[string]struct{}, len(handles))}
	for _, h := range handles {
		s.Add(h)
	}
	return s
}

// Add inserts handle and reports whether it was newly added.
func (s *ProcessedBatchSet) Add(handle string) bool {
	if s.handles == nil {
		s.handles = make(map[string]struct{})
	}
	if _, ok := s.handles[handle]; ok {
		return false
	}
	s.handles[handle] = struct{}{}
	return true
}

// Contains reports whether handle has been processed.
func (s *ProcessedBatchSet) Contains(handle string) bool {
	_, ok := s.handles[handle]
	return ok
}

// Len returns the number of processed handles.
func (s *ProcessedBatchSet) Len() int {
	return len(s.handles)
}

// Handles returns the processed handles in sorted order.
func (s *ProcessedBatchSet) Handles() []string {
	out := make([]string, 0, len(s.handles))
	for h := range s.handles {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON implements json.Marshaler.
func (s *ProcessedBatchSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Handles())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ProcessedBatchSet) UnmarshalJSON(data []byte) error {
	var handles []string
	if err := json.Unmarshal(data, &handles); err != nil {
		return err
	}
	s.handles = make(map[string]struct{}, len(handles))
	for _, h := range handles {
		s.handles[h] = struct{}{}
	}
	return nil
}
