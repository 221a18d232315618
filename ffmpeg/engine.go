// Package ffmpeg drives the external transcoding engine: probing input
// geometry, executing compiled filter stages one process at a time, and
// turning process failures into the dispatcher's retry taxonomy.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"mediaforge/filter"
	"mediaforge/task"
)

// Options configures the engine driver.
type Options struct {
	// Bin and ProbeBin are the engine binaries, resolved via PATH.
	Bin      string
	ProbeBin string

	// ExtraArgs is an operator-supplied argument string appended to every
	// invocation (encoder tuning and the like). Split without a shell and
	// sanitized at construction.
	ExtraArgs string

	// StageTimeout bounds a single stage execution. Zero disables it.
	StageTimeout time.Duration
}

// Engine executes compiled stages as engine processes.
type Engine struct {
	bin       string
	probeBin  string
	extraArgs []string
	timeout   time.Duration
}

// New resolves the binaries and validates the extra arguments.
func New(opts Options) (*Engine, error) {
	if _, err := exec.LookPath(opts.Bin); err != nil {
		return nil, fmt.Errorf("engine binary not found in PATH: %s", opts.Bin)
	}
	if _, err := exec.LookPath(opts.ProbeBin); err != nil {
		return nil, fmt.Errorf("probe binary not found in PATH: %s", opts.ProbeBin)
	}

	var extra []string
	if opts.ExtraArgs != "" {
		args, err := SplitArgs(opts.ExtraArgs)
		if err != nil {
			return nil, fmt.Errorf("engine extra args: %w", err)
		}
		if err := SanitizeArgs(args); err != nil {
			return nil, fmt.Errorf("engine extra args: %w", err)
		}
		extra = args
	}

	return &Engine{
		bin:       opts.Bin,
		probeBin:  opts.ProbeBin,
		extraArgs: extra,
		timeout:   opts.StageTimeout,
	}, nil
}

// StageRun binds one compiled stage to concrete workspace files.
type StageRun struct {
	Stage filter.Stage

	// Input is the running chain file: the task's base input for the first
	// stage, the previous stage's output afterwards.
	Input string

	// ExtraInputs are the local paths resolved from Stage.ExtraInputs, in
	// the same order.
	ExtraInputs []string

	// Output is where the stage writes its result.
	Output string

	// ScriptPath is where an auxiliary script (subtitles) is materialized.
	ScriptPath string

	// Duration is the expected output duration in seconds, used to turn
	// out_time samples into a fraction. Zero means progress stays coarse.
	Duration float64

	// OnProgress receives monotone fractions in [0,1] while the stage runs.
	OnProgress func(frac float64)
}

// ExecuteStage runs one stage to completion. Failures come back classified:
// context cancellation passes through for the dispatcher's CANCELLED path,
// timeouts and resource pressure are transient, everything else is fatal.
func (e *Engine) ExecuteStage(ctx context.Context, run StageRun) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if run.Stage.Script != "" {
		if run.ScriptPath == "" {
			return fmt.Errorf("stage %s: script without a script path", run.Stage.Kind)
		}
		if err := os.WriteFile(run.ScriptPath, []byte(run.Stage.Script), 0o644); err != nil {
			return fmt.Errorf("write stage script: %w", err)
		}
	}

	args, err := buildStageArgs(run, e.extraArgs)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	// Drain both pipes to EOF before Wait reaps the process; Wait closes
	// the pipes and would race the readers otherwise.
	var stderrBuf strings.Builder
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			stderrBuf.WriteString(sc.Text())
			stderrBuf.WriteByte('\n')
		}
	}()
	go func() {
		defer readers.Done()
		sc := bufio.NewScanner(stdout)
		consumeProgress(sc, run.Duration, run.OnProgress)
		for sc.Scan() {
			// drain to EOF after progress=end
		}
	}()
	readers.Wait()
	runErr := cmd.Wait()

	if runErr != nil {
		// Partial output is useless and must not leak into the next stage.
		os.Remove(run.Output)
		return classify(ctx, runErr, stderrBuf.String())
	}
	return nil
}

// buildStageArgs renders the full invocation for one stage. The chain input
// is always stream 0, matching how the compiler addressed streams.
func buildStageArgs(run StageRun, extra []string) ([]string, error) {
	st := run.Stage
	if len(run.ExtraInputs) != len(st.ExtraInputs) {
		return nil, fmt.Errorf("stage %s: %d extra inputs resolved, want %d",
			st.Kind, len(run.ExtraInputs), len(st.ExtraInputs))
	}

	args := []string{"-y", "-hide_banner", "-i", run.Input}
	for _, in := range run.ExtraInputs {
		args = append(args, "-i", in)
	}

	switch st.Kind {
	case filter.StageConcat:
		args = append(args, "-filter_complex", st.Graph, "-map", "[vout]", "-map", "[aout]")
	case filter.StageDrawText:
		if st.Complex {
			args = append(args, "-filter_complex", st.Graph, "-map", "[vout]", "-map", "0:a?", "-c:a", "copy")
		} else {
			args = append(args, "-vf", st.Graph, "-c:a", "copy")
		}
	case filter.StageAudioOverlay:
		args = append(args, "-filter_complex", st.Graph, "-map", "0:v", "-map", "[aout]", "-c:v", "copy")
	case filter.StageVideoOverlay:
		args = append(args, "-filter_complex", st.Graph, "-map", "[vout]", "-map", "0:a?", "-c:a", "copy")
	case filter.StageSubtitles:
		vf := fmt.Sprintf("subtitles=filename='%s'", filter.EscapeText(run.ScriptPath))
		args = append(args, "-vf", vf, "-c:a", "copy")
	default:
		return nil, fmt.Errorf("unknown stage kind %q", st.Kind)
	}

	args = append(args, extra...)
	args = append(args, "-progress", "pipe:1", "-nostats", run.Output)
	return args, nil
}

// consumeProgress parses the engine's key=value progress stream. Despite the
// name, out_time_ms carries microseconds; out_time_us is preferred when
// present and both are handled identically.
func consumeProgress(sc *bufio.Scanner, duration float64, onProgress func(float64)) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	var last float64
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			if duration <= 0 {
				continue
			}
			us, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				continue
			}
			frac := math.Min(1, math.Max(0, (us/1e6)/duration))
			if frac > last {
				last = frac
				onProgress(frac)
			}
		case "progress":
			if strings.TrimSpace(value) == "end" {
				if last < 1 {
					onProgress(1)
				}
				return
			}
		}
	}
}

// classify maps a process failure onto the retry taxonomy.
func classify(ctx context.Context, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return task.Transient(fmt.Errorf("engine run timed out: %w", ctxErr))
		}
		// Cancelled: surfaces as the task's CANCELLED path, never a failure.
		return ctxErr
	}

	detail := errTail(stderr)
	if transientStderr(detail) {
		return task.Transient(fmt.Errorf("engine failed: %w: %s", err, detail))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == -1 {
		// Killed by a signal we did not send (OOM killer and kin).
		return task.Transient(fmt.Errorf("engine killed: %w: %s", err, detail))
	}
	return fmt.Errorf("engine failed: %w: %s", err, detail)
}

func transientStderr(detail string) bool {
	lower := strings.ToLower(detail)
	for _, marker := range []string{
		"cannot allocate memory",
		"resource temporarily unavailable",
		"connection reset",
		"connection refused",
		"timed out",
		"no space left on device",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// errTail keeps the useful end of the engine's stderr; the head is banner
// and stream mapping noise.
func errTail(stderr string) string {
	s := strings.TrimSpace(stderr)
	if len(s) <= 512 {
		return s
	}
	return "..." + s[len(s)-512:]
}
