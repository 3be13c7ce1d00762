package simulator

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunch is returned when the simulator could not be started
	ErrLaunch = errors.New("failed to launch simulator")
	// ErrTimedOut is carried by runs stopped after exceeding their timeout
	ErrTimedOut = errors.New("simulator timed out")
	// ErrKilled is carried by runs stopped through Cancel or their context
	ErrKilled = errors.New("simulator killed")
	// ErrMissingOutput is carried by runs that exited cleanly without
	// writing a non-empty raw file
	ErrMissingOutput = errors.New("simulator produced no raw output")
)

// ExitError describes a run that did not complete. Code is the exit
// status, or -1 when the process was stopped by a signal. Stderr holds the
// captured standard error with surrounding whitespace trimmed.
type ExitError struct {
	Code   int
	Stderr string
	Err    error // ErrTimedOut, ErrKilled, ErrMissingOutput or nil
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("simulator exited with status %d", e.Code)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
