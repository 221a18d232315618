package task

import (
	"context"
	"time"
)

// Repository is the persistence port for task records and their operation
// logs. Implementations must make ClaimNext atomic: when N workers race for
// one eligible record, exactly one receives it and the rest get ErrNoTask
// (or a different record). All mutating methods go through the record's
// lifecycle methods, so the state machine holds in every backend.
type Repository interface {
	// Create persists a new PENDING record and enqueues it.
	Create(ctx context.Context, t *Task) error

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns every known record, newest first.
	List(ctx context.Context) ([]*Task, error)

	// ClaimNext atomically hands the oldest eligible PENDING record to
	// workerID, moving it to PROCESSING. ErrNoTask when nothing is eligible.
	ClaimNext(ctx context.Context, workerID string) (*Task, error)

	// UpdateProgress records a progress sample for a PROCESSING record.
	UpdateProgress(ctx context.Context, id string, progress float64) error

	// Complete finalizes the record as COMPLETED with its result payload.
	Complete(ctx context.Context, id string, res Result) error

	// Fail finalizes the record as FAILED with a non-empty message.
	Fail(ctx context.Context, id string, errMsg string) error

	// Requeue returns a PROCESSING record to the backlog for retry, held
	// until notBefore.
	Requeue(ctx context.Context, id string, errMsg string, notBefore time.Time) error

	// Cancel moves a non-terminal record to CANCELLED.
	Cancel(ctx context.Context, id string) error

	// AppendLog appends one stage outcome to the task's operation log.
	AppendLog(ctx context.Context, entry LogEntry) error

	// LogEntries returns the task's operation log in append order.
	LogEntries(ctx context.Context, taskID string) ([]LogEntry, error)
}
