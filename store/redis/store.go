// Package redis provides the shared task repository for multi-node
// deployments. Records live in per-task hashes; the claimable backlog is a
// sorted set scored by next-eligible time, so backoff holds and FIFO order
// fall out of one ZRANGEBYSCORE.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mediaforge/operation"
	"mediaforge/task"
)

// claimScript pops the earliest eligible backlog entry and transitions it in
// the same script, which makes the claim a true compare-and-set: concurrent
// callers can never receive the same record. A popped entry whose hash is no
// longer PENDING (cancelled while queued) is dropped and reported as no-task;
// the next poll sees whatever was behind it.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then return false end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
local key = ARGV[3] .. id
if redis.call('HGET', key, 'status') ~= 'PENDING' then return false end
redis.call('HSET', key, 'status', 'PROCESSING', 'worker', ARGV[2], 'updated_at', ARGV[4])
return id
`)

const txRetries = 5

// Store implements task.Repository on a redis client.
type Store struct {
	client *redis.Client
	prefix string
}

var _ task.Repository = (*Store)(nil)

// New wraps an already-connected client. prefix namespaces every key.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "mediaforge"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) taskKey(id string) string { return s.prefix + ":task:" + id }
func (s *Store) logKey(id string) string  { return s.prefix + ":log:" + id }
func (s *Store) backlogKey() string       { return s.prefix + ":backlog" }
func (s *Store) indexKey() string         { return s.prefix + ":index" }

// baseRecord is the immutable part of a task, stored once as JSON; the
// mutable lifecycle state lives in flat hash fields next to it.
type baseRecord struct {
	ID        string           `json:"id"`
	Type      operation.Type   `json:"type"`
	Config    operation.Config `json:"config"`
	InputRefs []string         `json:"inputRefs"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (s *Store) Create(ctx context.Context, t *task.Task) error {
	base, err := jsonBase(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}

	created, err := s.client.HSetNX(ctx, s.taskKey(t.ID), "base", base).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("task %s already exists", t.ID)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.taskKey(t.ID), mutableFields(t))
		pipe.ZAdd(ctx, s.backlogKey(), redis.Z{Score: claimScore(t), Member: t.ID})
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(t.CreatedAt.UnixMilli()), Member: t.ID})
		return nil
	})
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	fields, err := s.client.HGetAll(ctx, s.taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, task.ErrNotFound
	}
	return taskFromFields(fields)
}

func (s *Store) List(ctx context.Context) ([]*task.Task, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if errors.Is(err, task.ErrNotFound) {
			continue // expired by external retention
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) ClaimNext(ctx context.Context, workerID string) (*task.Task, error) {
	now := time.Now().UTC()
	res, err := claimScript.Run(ctx, s.client,
		[]string{s.backlogKey()},
		float64(now.UnixMilli()), workerID, s.prefix+":task:", now.Format(time.RFC3339Nano),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, task.ErrNoTask
	}
	if err != nil {
		return nil, err
	}
	id, ok := res.(string)
	if !ok || id == "" {
		return nil, task.ErrNoTask
	}
	return s.Get(ctx, id)
}

func (s *Store) UpdateProgress(ctx context.Context, id string, progress float64) error {
	return s.mutate(ctx, id, func(t *task.Task, now time.Time) error {
		return t.SetProgress(progress, now)
	})
}

func (s *Store) Complete(ctx context.Context, id string, res task.Result) error {
	return s.mutate(ctx, id, func(t *task.Task, now time.Time) error {
		return t.Complete(res, now)
	})
}

func (s *Store) Fail(ctx context.Context, id string, errMsg string) error {
	return s.mutate(ctx, id, func(t *task.Task, now time.Time) error {
		return t.Fail(errMsg, now)
	})
}

func (s *Store) Requeue(ctx context.Context, id string, errMsg string, notBefore time.Time) error {
	return s.mutate(ctx, id, func(t *task.Task, now time.Time) error {
		return t.Requeue(errMsg, notBefore, now)
	})
}

func (s *Store) Cancel(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(t *task.Task, now time.Time) error {
		return t.Cancel(now)
	})
}

func (s *Store) AppendLog(ctx context.Context, entry task.LogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	exists, err := s.client.Exists(ctx, s.taskKey(entry.TaskID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return task.ErrNotFound
	}
	return s.client.RPush(ctx, s.logKey(entry.TaskID), payload).Err()
}

func (s *Store) LogEntries(ctx context.Context, taskID string) ([]task.LogEntry, error) {
	exists, err := s.client.Exists(ctx, s.taskKey(taskID)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, task.ErrNotFound
	}
	raw, err := s.client.LRange(ctx, s.logKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]task.LogEntry, 0, len(raw))
	for _, item := range raw {
		var e task.LogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// mutate applies one lifecycle change inside an optimistic transaction: the
// record is rebuilt from its hash, the change runs through the lifecycle
// methods, and the write aborts and retries if the hash moved underneath.
func (s *Store) mutate(ctx context.Context, id string, fn func(t *task.Task, now time.Time) error) error {
	key := s.taskKey(id)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return task.ErrNotFound
		}
		t, err := taskFromFields(fields)
		if err != nil {
			return err
		}

		prev := t.Status
		if err := fn(t, time.Now().UTC()); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, mutableFields(t))
			switch {
			case prev == task.StatusProcessing && t.Status == task.StatusPending:
				// Requeue: back into the backlog under its backoff hold.
				pipe.ZAdd(ctx, s.backlogKey(), redis.Z{Score: claimScore(t), Member: t.ID})
			case prev == task.StatusPending && t.Status != task.StatusPending:
				pipe.ZRem(ctx, s.backlogKey(), t.ID)
			}
			return nil
		})
		return err
	}

	for i := 0; i < txRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("task %s: transaction contention", id)
}

// claimScore is the backlog ordering key: next-eligible time, with enqueue
// time standing in when no backoff hold is set.
func claimScore(t *task.Task) float64 {
	if !t.NotBefore.IsZero() {
		return float64(t.NotBefore.UnixMilli())
	}
	return float64(t.CreatedAt.UnixMilli())
}

func mutableFields(t *task.Task) map[string]any {
	result := ""
	if t.Result != nil {
		if raw, err := json.Marshal(t.Result); err == nil {
			result = string(raw)
		}
	}
	return map[string]any{
		"status":       string(t.Status),
		"worker":       t.WorkerID,
		"progress":     strconv.FormatFloat(t.Progress, 'f', -1, 64),
		"retry":        strconv.Itoa(t.RetryCount),
		"last_error":   t.LastError,
		"error":        t.ErrorMessage,
		"output_ref":   t.OutputRef,
		"result":       result,
		"not_before":   encodeTime(t.NotBefore),
		"updated_at":   encodeTime(t.UpdatedAt),
		"completed_at": encodeTime(t.CompletedAt),
	}
}

func taskFromFields(fields map[string]string) (*task.Task, error) {
	var base baseRecord
	if err := json.Unmarshal([]byte(fields["base"]), &base); err != nil {
		return nil, fmt.Errorf("decode task base: %w", err)
	}

	progress, err := strconv.ParseFloat(valueOr(fields, "progress", "0"), 64)
	if err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	retry, err := strconv.Atoi(valueOr(fields, "retry", "0"))
	if err != nil {
		return nil, fmt.Errorf("decode retry count: %w", err)
	}

	t := &task.Task{
		ID:           base.ID,
		Type:         base.Type,
		Config:       base.Config,
		InputRefs:    base.InputRefs,
		CreatedAt:    base.CreatedAt,
		Status:       task.Status(fields["status"]),
		WorkerID:     fields["worker"],
		Progress:     progress,
		RetryCount:   retry,
		LastError:    fields["last_error"],
		ErrorMessage: fields["error"],
		OutputRef:    fields["output_ref"],
	}
	if raw := fields["result"]; raw != "" {
		var res task.Result
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		t.Result = &res
	}
	if t.NotBefore, err = decodeTime(fields["not_before"]); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = decodeTime(fields["updated_at"]); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = decodeTime(fields["completed_at"]); err != nil {
		return nil, err
	}
	return t, nil
}

func jsonBase(t *task.Task) (string, error) {
	raw, err := json.Marshal(baseRecord{
		ID: t.ID, Type: t.Type, Config: t.Config, InputRefs: t.InputRefs, CreatedAt: t.CreatedAt,
	})
	return string(raw), err
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode timestamp %q: %w", s, err)
	}
	return t, nil
}

func valueOr(fields map[string]string, key, fallback string) string {
	if v, ok := fields[key]; ok && v != "" {
		return v
	}
	return fallback
}
