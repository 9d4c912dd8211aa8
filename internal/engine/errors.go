package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled marks a run stopped by its context.
	ErrCancelled = errors.New("run cancelled")
	// ErrNotTriggerable is returned when a document has triggers but none
	// matches the requested start origin.
	ErrNotTriggerable = errors.New("pipeline has no matching trigger")
)

// RunnerError is a step failure: the runner returned an error or panicked,
// or the step could not be dispatched.
type RunnerError struct {
	UID    string
	Origin string
	Err    error
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("step %s (%s): %v", e.UID, e.Origin, e.Err)
}

func (e *RunnerError) Unwrap() error { return e.Err }
