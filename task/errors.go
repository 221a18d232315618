package task

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by repository lookups for unknown task IDs.
	ErrNotFound = errors.New("task not found")

	// ErrNoTask is returned by ClaimNext when the backlog holds nothing
	// eligible. Workers treat it as "poll again later", not as a failure.
	ErrNoTask = errors.New("no claimable task")

	// ErrInvalidTransition rejects lifecycle moves the state machine forbids,
	// including every write against a terminal record.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTerminal rejects progress or result writes against a record that
	// already reached a terminal state.
	ErrTerminal = errors.New("task already terminal")
)

// TransientError marks an execution failure worth retrying: the input and
// configuration are fine, the attempt hit a passing condition (storage
// timeout, engine busy, resource pressure). Anything not wrapped this way is
// treated as fatal.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as recoverable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked recoverable. Cancellation is
// never transient, whatever it wraps.
func IsTransient(err error) bool {
	if IsCancellation(err) {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}

// IsCancellation reports whether err stems from the task's context being
// cancelled, which finalizes as CANCELLED rather than FAILED.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
