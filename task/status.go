package task

import "fmt"

// Status is the lifecycle state of a task record.
type Status string

const (
	// StatusPending means the record sits in the backlog awaiting a claim.
	StatusPending Status = "PENDING"

	// StatusProcessing means exactly one worker holds the record.
	StatusProcessing Status = "PROCESSING"

	// StatusCompleted is terminal: the output reference is stored and valid.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed is terminal: the error message names the first fatal or
	// retry-exhausting failure.
	StatusFailed Status = "FAILED"

	// StatusCancelled is terminal: the caller withdrew the task. Not a
	// failure, so it never carries an error message.
	StatusCancelled Status = "CANCELLED"
)

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the five lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle permits moving to target.
// Claiming is PENDING→PROCESSING; a recoverable failure re-enqueues with
// PROCESSING→PENDING; cancellation preempts either non-terminal state.
// Terminal states admit nothing.
func (s Status) CanTransition(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusProcessing || target == StatusCancelled
	case StatusProcessing:
		return target == StatusCompleted || target == StatusFailed ||
			target == StatusPending || target == StatusCancelled
	default:
		return false
	}
}

// ValidateTransition returns a wrapped ErrInvalidTransition naming both
// states when the lifecycle forbids moving to target.
func (s Status) ValidateTransition(target Status) error {
	if !s.CanTransition(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, target)
	}
	return nil
}
