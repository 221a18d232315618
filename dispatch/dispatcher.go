// Package dispatch runs the task pipeline: workers claim queued tasks,
// stage their inputs, compile the operation into filter stages, execute the
// stages through the engine, and settle the outcome back into the
// repository with retry-aware failure handling.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"mediaforge/ffmpeg"
	"mediaforge/filter"
	"mediaforge/storage"
	"mediaforge/task"
)

// settleTimeout bounds the status writes that must land even when the
// worker context is already gone.
const settleTimeout = 5 * time.Second

// Engine is the slice of the media driver the dispatcher needs.
type Engine interface {
	Probe(ctx context.Context, path string) (filter.Frame, error)
	ExecuteStage(ctx context.Context, run ffmpeg.StageRun) error
}

// Options tunes the worker pool.
type Options struct {
	// Workers is the number of concurrent claim loops.
	Workers int

	// PollInterval is the idle wait between claim attempts.
	PollInterval time.Duration

	// MaxRetries caps how often a transiently failing task is requeued
	// before it fails for good.
	MaxRetries int

	// RetryBackoff is the base requeue delay, doubled per prior attempt.
	RetryBackoff time.Duration

	// Limits gates claims on host saturation.
	Limits Limits

	// SweepInterval and SweepMaxAge drive the stale-workspace sweep. A
	// zero interval disables the periodic sweep.
	SweepInterval time.Duration
	SweepMaxAge   time.Duration
}

// Dispatcher owns the worker pool and the cancel registry for running
// tasks.
type Dispatcher struct {
	repo   task.Repository
	store  storage.Gateway
	engine Engine
	ws     *Workspace
	opts   Options
	log    *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(repo task.Repository, store storage.Gateway, engine Engine, ws *Workspace, opts Options, log *slog.Logger) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.SweepMaxAge <= 0 {
		opts.SweepMaxAge = time.Hour
	}
	return &Dispatcher{
		repo:    repo,
		store:   store,
		engine:  engine,
		ws:      ws,
		opts:    opts,
		log:     log,
		running: make(map[string]context.CancelFunc),
	}
}

// Start launches the workers and the sweep loop. They exit when ctx is
// cancelled; Wait blocks until all of them have drained.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ws.Sweep(d.opts.SweepMaxAge)

	for i := 0; i < d.opts.Workers; i++ {
		workerID := "worker-" + uuid.NewString()[:8]
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.workerLoop(ctx, workerID)
		}()
	}
	if d.opts.SweepInterval > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.sweepLoop(ctx)
		}()
	}
}

// Wait blocks until every worker has finished its current task and exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Cancel stops a task. Queued tasks just flip state; a running task also
// gets its engine process killed through the stored cancel func.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	if err := d.repo.Cancel(ctx, id); err != nil {
		return err
	}
	d.mu.Lock()
	cancel, ok := d.running[id]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID string) {
	log := d.log.With("worker_id", workerID)
	log.Info("worker started")
	defer log.Info("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if reason, busy := overloaded(d.opts.Limits); busy {
			log.Debug("holding claims, host saturated", "reason", reason)
			if !sleepCtx(ctx, d.opts.PollInterval) {
				return
			}
			continue
		}

		t, err := d.repo.ClaimNext(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, task.ErrNoTask) {
				log.Error("claim failed", "error", err)
			}
			if !sleepCtx(ctx, d.opts.PollInterval) {
				return
			}
			continue
		}
		d.process(ctx, t, log)
	}
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(d.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ws.Sweep(d.opts.SweepMaxAge)
		}
	}
}

func (d *Dispatcher) process(parent context.Context, t *task.Task, log *slog.Logger) {
	log = log.With("task_id", t.ID, "type", string(t.Type))
	start := time.Now()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	d.register(t.ID, cancel)
	defer d.unregister(t.ID)

	// A cancel request can land between the claim and the registration
	// above; check before spending work.
	if cur, err := d.repo.Get(ctx, t.ID); err == nil && cur.Status == task.StatusCancelled {
		log.Info("task cancelled before start")
		return
	}

	log.Info("task started", "attempt", t.RetryCount+1)
	res, err := d.run(ctx, t, log)
	if err != nil {
		d.settleFailure(parent, ctx, t, err, log)
		return
	}

	res.Elapsed = time.Since(start).Seconds()
	settleCtx, done := context.WithTimeout(context.Background(), settleTimeout)
	defer done()
	if err := d.repo.Complete(settleCtx, t.ID, *res); err != nil {
		log.Error("record completion", "error", err)
		return
	}
	log.Info("task completed", "stages", res.Stages, "elapsed_s", res.Elapsed)
}

// run executes the whole pipeline for one claimed task and returns the
// result to record, or a classified error.
func (d *Dispatcher) run(ctx context.Context, t *task.Task, log *slog.Logger) (*task.Result, error) {
	dir, err := d.ws.TaskDir(t.ID)
	if err != nil {
		return nil, task.Transient(err)
	}
	defer d.ws.Cleanup(t.ID)

	inputs := make([]string, len(t.InputRefs))
	for i, ref := range t.InputRefs {
		local := filepath.Join(dir, fmt.Sprintf("input_%d%s", i, refExt(ref)))
		if err := d.fetch(ctx, ref, local); err != nil {
			return nil, err
		}
		inputs[i] = local
	}

	frame, err := d.engine.Probe(ctx, inputs[0])
	if err != nil {
		return nil, err
	}
	if frame.Width == 0 || frame.Height == 0 {
		return nil, fmt.Errorf("input %s has no video stream", t.InputRefs[0])
	}

	stages, err := filter.Compile(t.Config, frame, len(inputs))
	if err != nil {
		return nil, err
	}

	current := inputs[0]
	chainDur := frame.Duration
	total := len(stages)
	for i, st := range stages {
		extra := make([]string, len(st.ExtraInputs))
		for j, idx := range st.ExtraInputs {
			if idx < 0 || idx >= len(inputs) {
				return nil, fmt.Errorf("stage %d (%s): input %d out of range", i, st.Kind, idx)
			}
			extra[j] = inputs[idx]
		}

		// Concatenation extends the chain; re-estimate the expected
		// duration so progress keeps its meaning.
		if st.Kind == filter.StageConcat {
			sum := frame.Duration
			for _, idx := range st.ExtraInputs {
				f, err := d.engine.Probe(ctx, inputs[idx])
				if err != nil {
					return nil, err
				}
				if f.Width == 0 || f.Height == 0 {
					return nil, fmt.Errorf("input %s has no video stream", t.InputRefs[idx])
				}
				sum += f.Duration
			}
			chainDur = sum
		}

		run := ffmpeg.StageRun{
			Stage:       st,
			Input:       current,
			ExtraInputs: extra,
			Output:      filepath.Join(dir, fmt.Sprintf("stage_%d.mp4", i)),
			Duration:    chainDur,
		}
		if st.Script != "" {
			run.ScriptPath = filepath.Join(dir, fmt.Sprintf("stage_%d.ass", i))
		}
		base := float64(i) / float64(total) * 100
		span := 100 / float64(total)
		run.OnProgress = func(frac float64) {
			d.progress(ctx, t.ID, base+frac*span)
		}

		stageStart := time.Now()
		execErr := d.engine.ExecuteStage(ctx, run)
		d.appendLog(t.ID, i, st, time.Since(stageStart), execErr)
		if execErr != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, st.Kind, execErr)
		}
		log.Debug("stage done", "stage", i, "kind", string(st.Kind))
		current = run.Output
	}

	ref, err := d.upload(ctx, current, t.ID+".mp4")
	if err != nil {
		return nil, err
	}
	url, err := d.store.DownloadURL(ctx, ref)
	if err != nil {
		// The output is safe; only the convenience link is missing.
		log.Warn("download url", "error", err)
		url = ""
	}
	return &task.Result{OutputRef: ref, DownloadURL: url, Stages: total}, nil
}

// fetch stages one input locally, retrying transport hiccups. Missing,
// oversized, or malformed refs are permanent.
func (d *Dispatcher) fetch(ctx context.Context, ref, local string) error {
	op := func() error {
		err := d.store.Fetch(ctx, ref, local)
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrTooLarge) || errors.Is(err, storage.ErrBadRef) {
			return backoff.Permanent(err)
		}
		return err
	}
	pol := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, pol); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrTooLarge) || errors.Is(err, storage.ErrBadRef) {
			return fmt.Errorf("input %s: %w", ref, err)
		}
		return task.Transient(fmt.Errorf("fetch %s: %w", ref, err))
	}
	return nil
}

// upload pushes the finished output, retrying transport hiccups.
func (d *Dispatcher) upload(ctx context.Context, local, hint string) (string, error) {
	var ref string
	op := func() error {
		var err error
		ref, err = d.store.Store(ctx, local, hint)
		return err
	}
	pol := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, pol); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", task.Transient(fmt.Errorf("store output: %w", err))
	}
	return ref, nil
}

// progress is best effort: a cancel racing the run makes these writes fail
// and that must not take the pipeline down.
func (d *Dispatcher) progress(ctx context.Context, id string, value float64) {
	err := d.repo.UpdateProgress(ctx, id, value)
	if err != nil && ctx.Err() == nil && !errors.Is(err, task.ErrTerminal) {
		d.log.Debug("progress update dropped", "task_id", id, "error", err)
	}
}

// appendLog records one stage outcome. It uses a fresh context so the last
// stage of a cancelled task still gets its entry.
func (d *Dispatcher) appendLog(id string, idx int, st filter.Stage, dur time.Duration, runErr error) {
	entry := task.LogEntry{
		TaskID:     id,
		StageIndex: idx,
		StageKind:  string(st.Kind),
		Duration:   dur,
		Success:    runErr == nil,
		Timestamp:  time.Now().UTC(),
	}
	if runErr != nil {
		entry.ErrorDetail = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := d.repo.AppendLog(ctx, entry); err != nil {
		d.log.Warn("append stage log", "task_id", id, "error", err)
	}
}

// settleFailure writes the terminal or requeued state for a failed run.
// Writes use a fresh context: the worker context may be the reason the run
// stopped.
func (d *Dispatcher) settleFailure(parent, runCtx context.Context, t *task.Task, runErr error, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	switch {
	case parent.Err() != nil:
		// Shutdown took the worker out mid-flight; hand the task back
		// immediately eligible.
		if err := d.repo.Requeue(ctx, t.ID, "worker shutdown", time.Now()); err != nil {
			log.Error("requeue on shutdown", "error", err)
			return
		}
		log.Info("task requeued on shutdown")
	case runCtx.Err() != nil || task.IsCancellation(runErr):
		// Cancel recorded the terminal state before signalling us.
		log.Info("task cancelled")
	case task.IsTransient(runErr) && t.RetryCount < d.opts.MaxRetries:
		delay := retryDelay(d.opts.RetryBackoff, t.RetryCount)
		if err := d.repo.Requeue(ctx, t.ID, runErr.Error(), time.Now().Add(delay)); err != nil {
			log.Error("requeue", "error", err)
			return
		}
		log.Warn("task requeued",
			"attempt", t.RetryCount+1, "max_retries", d.opts.MaxRetries,
			"delay", delay.String(), "error", runErr)
	default:
		if err := d.repo.Fail(ctx, t.ID, runErr.Error()); err != nil {
			log.Error("record failure", "error", err)
			return
		}
		log.Error("task failed", "error", runErr)
	}
}

// retryDelay doubles the base per prior attempt, capped at ten minutes.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt > 20 {
		attempt = 20
	}
	d := base << uint(attempt)
	if d <= 0 || d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

func (d *Dispatcher) register(id string, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[id] = cancel
}

func (d *Dispatcher) unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.running, id)
}

func sleepCtx(ctx context.Context, dur time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(dur):
		return true
	}
}

func refExt(ref string) string {
	if ext := filepath.Ext(ref); ext != "" {
		return ext
	}
	return ".mp4"
}
