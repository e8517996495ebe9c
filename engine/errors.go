package engine

import (
	"errors"
	"fmt"
)

// ErrMaxSteps marks a run that exhausted its step budget before reaching a
// terminal node.
var ErrMaxSteps = errors.New("max steps reached")

// RunError reports a failed run. It wraps the failure cause and carries the
// run id so callers can fetch the partial record, including the step log up
// to the failure, from the run store.
type RunError struct {
	// RunID identifies the failed run.
	RunID string
	// Err is the failure cause.
	Err error
}

// Error implements error.
func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed: %v", e.RunID, e.Err)
}

// Unwrap returns the failure cause so errors.Is and errors.As see through
// the run wrapper.
func (e *RunError) Unwrap() error {
	return e.Err
}
