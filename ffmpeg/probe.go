package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"mediaforge/filter"
)

// probeOutput mirrors the probe binary's JSON layout, reduced to the fields
// the compiler needs.
type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the geometry and duration of a local media file. A file the
// probe cannot parse is fatal for the task, not transient.
func (e *Engine) Probe(ctx context.Context, path string) (filter.Frame, error) {
	cmd := exec.CommandContext(ctx, e.probeBin,
		"-v", "error",
		"-print_format", "json",
		"-show_streams", "-show_format",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return filter.Frame{}, ctxErr
		}
		detail := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail = ": " + errTail(string(exitErr.Stderr))
		}
		return filter.Frame{}, fmt.Errorf("probe %s: %w%s", path, err, detail)
	}
	return parseProbe(out)
}

// parseProbe extracts the first video stream's geometry and the container
// duration. Audio-only inputs (overlay tracks) come back with zero width
// and height.
func parseProbe(raw []byte) (filter.Frame, error) {
	var probed probeOutput
	if err := json.Unmarshal(raw, &probed); err != nil {
		return filter.Frame{}, fmt.Errorf("parse probe output: %w", err)
	}

	var frame filter.Frame
	for _, s := range probed.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			frame.Width = s.Width
			frame.Height = s.Height
			break
		}
	}
	if d := strings.TrimSpace(probed.Format.Duration); d != "" && d != "N/A" {
		dur, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return filter.Frame{}, fmt.Errorf("parse probe duration %q: %w", d, err)
		}
		frame.Duration = dur
	}
	return frame, nil
}
