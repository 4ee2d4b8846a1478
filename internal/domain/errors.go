// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain record fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyContent is returned when a work item has no content to submit.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrEmptyHandle is returned when a batch record has no service handle.
	ErrEmptyHandle = errors.New("batch handle cannot be empty")

	// ErrUnknownStatus is returned when a status string is not part of the
	// batch status vocabulary.
	ErrUnknownStatus = errors.New("unknown batch status")

	// ErrUnsupportedSchema is returned when a persisted document was written
	// by a newer schema version than this build understands.
	ErrUnsupportedSchema = errors.New("unsupported schema version")
)
