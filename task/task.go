// Package task defines the task record, its lifecycle state machine, the
// repository port that persists it, and the execution error taxonomy the
// dispatcher classifies failures with.
package task

import (
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"mediaforge/operation"
)

// Task is one submitted transformation job. The record is created PENDING by
// the submission path and afterwards mutated only through the lifecycle
// methods below, which enforce the state machine; repositories persist
// whatever the methods produced.
type Task struct {
	ID           string           `json:"id"`
	Type         operation.Type   `json:"type"`
	Status       Status           `json:"status"`
	Config       operation.Config `json:"config"`
	InputRefs    []string         `json:"inputRefs"`
	OutputRef    string           `json:"outputRef,omitempty"`
	Progress     float64          `json:"progress"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Result       *Result          `json:"result,omitempty"`
	RetryCount   int              `json:"retryCount"`
	LastError    string           `json:"lastError,omitempty"`
	WorkerID     string           `json:"workerId,omitempty"`
	NotBefore    time.Time        `json:"notBefore,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	CompletedAt  time.Time        `json:"completedAt,omitempty"`
}

// Result is the payload of a COMPLETED task. It is mutually exclusive with
// ErrorMessage; the lifecycle methods maintain that.
type Result struct {
	OutputRef   string  `json:"outputRef"`
	DownloadURL string  `json:"downloadUrl,omitempty"`
	Stages      int     `json:"stages"`
	Elapsed     float64 `json:"elapsedSeconds"`
}

// New builds a PENDING record for a validated configuration.
func New(cfg operation.Config, inputRefs []string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        fmt.Sprintf("%s_%d", shortuuid.New(), now.Unix()),
		Type:      cfg.Type,
		Status:    StatusPending,
		Config:    cfg,
		InputRefs: inputRefs,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the record reached a final state.
func (t *Task) Terminal() bool { return t.Status.Terminal() }

// Eligible reports whether the backlog may hand the record out at now:
// PENDING and past any backoff hold.
func (t *Task) Eligible(now time.Time) bool {
	return t.Status == StatusPending && !now.Before(t.NotBefore)
}

// Claim moves the record to PROCESSING under the given worker identity.
// Repositories must apply it atomically so that of N concurrent claims on
// one record exactly one succeeds.
func (t *Task) Claim(workerID string, now time.Time) error {
	if err := t.Status.ValidateTransition(StatusProcessing); err != nil {
		return err
	}
	t.Status = StatusProcessing
	t.WorkerID = workerID
	t.UpdatedAt = now
	return nil
}

// SetProgress records a progress sample. Samples are accepted only while
// PROCESSING; values below the stored progress are dropped so the reported
// value never regresses.
func (t *Task) SetProgress(v float64, now time.Time) error {
	if t.Status.Terminal() {
		return ErrTerminal
	}
	if t.Status != StatusProcessing {
		return fmt.Errorf("progress while %s: %w", t.Status, ErrInvalidTransition)
	}
	if v < 0 || v > 100 {
		return fmt.Errorf("progress %v outside [0,100]", v)
	}
	if v > t.Progress {
		t.Progress = v
		t.UpdatedAt = now
	}
	return nil
}

// Complete finalizes a successful run. Progress pins to 100 and any error
// from earlier attempts is cleared.
func (t *Task) Complete(res Result, now time.Time) error {
	if err := t.Status.ValidateTransition(StatusCompleted); err != nil {
		return err
	}
	t.Status = StatusCompleted
	t.Result = &res
	t.OutputRef = res.OutputRef
	t.Progress = 100
	t.ErrorMessage = ""
	t.LastError = ""
	t.CompletedAt = now
	t.UpdatedAt = now
	return nil
}

// Fail finalizes a fatal or retry-exhausted run. A FAILED record always
// carries a non-empty message.
func (t *Task) Fail(msg string, now time.Time) error {
	if err := t.Status.ValidateTransition(StatusFailed); err != nil {
		return err
	}
	if msg == "" {
		return fmt.Errorf("failing task %s without an error message", t.ID)
	}
	t.Status = StatusFailed
	t.ErrorMessage = msg
	t.Result = nil
	t.CompletedAt = now
	t.UpdatedAt = now
	return nil
}

// Cancel withdraws the task from either non-terminal state. Cancellation is
// not a failure: no error message is recorded.
func (t *Task) Cancel(now time.Time) error {
	if err := t.Status.ValidateTransition(StatusCancelled); err != nil {
		return err
	}
	t.Status = StatusCancelled
	t.ErrorMessage = ""
	t.Result = nil
	t.CompletedAt = now
	t.UpdatedAt = now
	return nil
}

// Requeue returns a claimed record to the backlog after a recoverable
// failure: retry count up, progress back to zero, worker released, and the
// record held until notBefore. lastErr is kept for diagnostics; it becomes
// the task's error message only if retries exhaust.
func (t *Task) Requeue(lastErr string, notBefore, now time.Time) error {
	if err := t.Status.ValidateTransition(StatusPending); err != nil {
		return err
	}
	t.Status = StatusPending
	t.RetryCount++
	t.LastError = lastErr
	t.Progress = 0
	t.WorkerID = ""
	t.NotBefore = notBefore
	t.UpdatedAt = now
	return nil
}
