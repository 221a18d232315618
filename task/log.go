package task

import "time"

// LogEntry records the outcome of one executed stage. The operation log is
// append-only: entries are written once by the dispatcher and never mutated
// or deleted by the core, so a combined task that failed mid-chain keeps the
// per-stage record of what ran and what never started.
type LogEntry struct {
	TaskID      string        `json:"taskId"`
	StageIndex  int           `json:"stageIndex"`
	StageKind   string        `json:"stageKind"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	ErrorDetail string        `json:"errorDetail,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}
