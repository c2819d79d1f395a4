package engine

import (
	"errors"
	"fmt"
)

var (
	ErrOOMKilled = errors.New("oom killed")
	ErrTimedOut  = errors.New("timed out")
)

// StepFailedError is returned by engines when a step's process exits
// non-zero. The exit code is the only detail reported.
type StepFailedError struct {
	ExitCode int
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step failed with exit code %d", e.ExitCode)
}
