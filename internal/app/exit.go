package app

import (
	"context"
	"errors"

	"github.com/phrazzld/batchflow/internal/config"
	"github.com/phrazzld/batchflow/internal/estimate"
	"github.com/phrazzld/batchflow/internal/instruction"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
)

// ExitCode maps a run error onto the process exit code. Cancellation is a
// normal stop.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitOK
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, estimate.ErrEstimatorUnavailable),
		errors.Is(err, instruction.ErrInvalidInstruction):
		return ExitConfig
	default:
		return ExitFailure
	}
}
