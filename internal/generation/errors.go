package generation

import "errors"

// Common errors returned by Service implementations
var (
	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error from batch service")

	// ErrQuotaExceeded is returned when the service refuses work because a
	// quota or rate limit was hit. It is transient from the loop's point of view.
	ErrQuotaExceeded = errors.New("batch service quota exceeded")

	// ErrInvalidResponse is returned when a service response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from batch service")

	// ErrInvalidConfig is returned when the service configuration is invalid
	ErrInvalidConfig = errors.New("invalid batch service configuration")

	// ErrBatchNotFound is returned when the service does not know a handle
	ErrBatchNotFound = errors.New("batch not found")

	// ErrNoOutput is returned when a finished batch has no output to fetch
	ErrNoOutput = errors.New("batch has no output")

	// ErrEmptyBatch is returned when a descriptor without requests is submitted
	ErrEmptyBatch = errors.New("batch has no requests")
)

// IsTransient reports whether err is worth retrying on a later iteration.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFailure) || errors.Is(err, ErrQuotaExceeded)
}
