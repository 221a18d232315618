package dispatch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Workspace hands out per-task scratch directories under a common root.
// Directories are removed when their task settles; Sweep catches what a
// crashed process left behind.
type Workspace struct {
	root string
	log  *slog.Logger
}

func NewWorkspace(root string, log *slog.Logger) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Workspace{root: root, log: log}, nil
}

// TaskDir creates (if needed) and returns the scratch directory for a task.
func (w *Workspace) TaskDir(taskID string) (string, error) {
	dir := filepath.Join(w.root, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create task workspace: %w", err)
	}
	return dir, nil
}

// Cleanup removes a task's scratch directory. Failures are logged, not
// returned; the sweep will retry later.
func (w *Workspace) Cleanup(taskID string) {
	if err := os.RemoveAll(filepath.Join(w.root, taskID)); err != nil {
		w.log.Warn("workspace cleanup failed", "task_id", taskID, "error", err)
	}
}

// Sweep removes scratch directories untouched for longer than maxAge. Run
// once at startup it clears debris from a crashed run; the dispatcher
// re-runs it on a ticker.
func (w *Workspace) Sweep(maxAge time.Duration) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		w.log.Warn("workspace sweep failed", "error", err)
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.root, e.Name())); err != nil {
			w.log.Warn("workspace sweep failed", "dir", e.Name(), "error", err)
			continue
		}
		w.log.Info("swept stale workspace", "dir", e.Name())
	}
}
