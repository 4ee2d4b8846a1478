package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// WorkItem is a single unit of text submitted as one job request.
// ID is the stable identity used as the request key and the result key.
type WorkItem struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Content string `json:"-"`
	// Cost is the estimated cost units including the system instruction.
	// Zero means not yet estimated.
	Cost int `json:"cost,omitempty"`
}

// ItemIDFromPath derives the stable identity of a catalog entry: the file
// name without its extension.
func ItemIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Validate checks that the item can be rendered into a job request.
func (w WorkItem) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return fmt.Errorf("%w: work item ID cannot be empty", ErrValidation)
	}
	if w.Content == "" {
		return fmt.Errorf("%w: work item %s", ErrEmptyContent, w.ID)
	}
	return nil
}
