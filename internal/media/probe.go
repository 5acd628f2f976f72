// Package media inspects uploaded media. It measures video duration for
// storage backends that do not report it themselves.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoDuration is returned when ffprobe reports no usable duration.
	ErrNoDuration = errors.New("media has no duration")
	// ErrEmptyInput is returned when there is nothing to probe.
	ErrEmptyInput = errors.New("media input is empty")
)

// FFprobe measures media by piping it through the ffprobe CLI.
type FFprobe struct {
	// path is the ffprobe binary. Defaults to "ffprobe".
	path string
}

// NewFFprobe creates a new FFprobe.
// If path is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{path: path}
}

// Available reports whether the ffprobe binary can be found.
func (p *FFprobe) Available() bool {
	_, err := exec.LookPath(p.path)
	return err == nil
}

// Duration returns the length in seconds of the media held in data.
// The data is streamed to ffprobe over stdin so nothing touches disk.
func (p *FFprobe) Duration(ctx context.Context, data []byte) (float64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyInput
	}

	// #nosec G204 - path is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.path,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		"-i", "pipe:0",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, strings.TrimSpace(stderr.String()))
	}

	return parseDuration(stdout.String())
}

// parseDuration reads the first line of ffprobe output. Streams without a
// container duration print "N/A".
func parseDuration(out string) (float64, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	line = strings.TrimSpace(line)
	if line == "" || line == "N/A" {
		return 0, ErrNoDuration
	}
	d, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", line, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: got %.2f", ErrNoDuration, d)
	}
	return d, nil
}
