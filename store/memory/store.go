// Package memory provides the in-process task repository backing tests and
// single-node deployments. Records are stored by value: callers always get
// copies, so only the repository methods can advance the lifecycle.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mediaforge/task"
)

// Store keeps records and operation logs in maps behind one mutex. The claim
// path checks and transitions under that lock, so N concurrent ClaimNext
// calls hand each record out exactly once.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
	logs  map[string][]task.LogEntry
	order []string // enqueue order, for best-effort FIFO claims
}

var _ task.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		tasks: make(map[string]*task.Task),
		logs:  make(map[string][]task.LogEntry),
	}
}

func (s *Store) Create(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	s.tasks[t.ID] = clone(t)
	s.order = append(s.order, t.ID)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return clone(t), nil
}

func (s *Store) List(ctx context.Context) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ClaimNext(ctx context.Context, workerID string) (*task.Task, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Earliest next-eligible time wins; enqueue order breaks ties because
	// the scan runs in enqueue order and keeps the first candidate.
	var best *task.Task
	for _, id := range s.order {
		t := s.tasks[id]
		if t == nil || !t.Eligible(now) {
			continue
		}
		if best == nil || t.NotBefore.Before(best.NotBefore) {
			best = t
		}
	}
	if best == nil {
		return nil, task.ErrNoTask
	}
	if err := best.Claim(workerID, now); err != nil {
		return nil, err
	}
	return clone(best), nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, progress float64) error {
	return s.mutate(id, func(t *task.Task, now time.Time) error {
		return t.SetProgress(progress, now)
	})
}

func (s *Store) Complete(ctx context.Context, id string, res task.Result) error {
	return s.mutate(id, func(t *task.Task, now time.Time) error {
		return t.Complete(res, now)
	})
}

func (s *Store) Fail(ctx context.Context, id string, errMsg string) error {
	return s.mutate(id, func(t *task.Task, now time.Time) error {
		return t.Fail(errMsg, now)
	})
}

func (s *Store) Requeue(ctx context.Context, id string, errMsg string, notBefore time.Time) error {
	return s.mutate(id, func(t *task.Task, now time.Time) error {
		return t.Requeue(errMsg, notBefore, now)
	})
}

func (s *Store) Cancel(ctx context.Context, id string) error {
	return s.mutate(id, func(t *task.Task, now time.Time) error {
		return t.Cancel(now)
	})
}

func (s *Store) AppendLog(ctx context.Context, entry task.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[entry.TaskID]; !ok {
		return task.ErrNotFound
	}
	s.logs[entry.TaskID] = append(s.logs[entry.TaskID], entry)
	return nil
}

func (s *Store) LogEntries(ctx context.Context, taskID string) ([]task.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tasks[taskID]; !ok {
		return nil, task.ErrNotFound
	}
	return append([]task.LogEntry(nil), s.logs[taskID]...), nil
}

// mutate applies one lifecycle change to the stored record under the lock.
func (s *Store) mutate(id string, fn func(t *task.Task, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.ErrNotFound
	}
	return fn(t, time.Now().UTC())
}

// clone isolates stored state from callers.
func clone(t *task.Task) *task.Task {
	cp := *t
	cp.InputRefs = append([]string(nil), t.InputRefs...)
	if t.Result != nil {
		r := *t.Result
		cp.Result = &r
	}
	cp.Config = t.Config.Clone()
	return &cp
}
