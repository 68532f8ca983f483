// Package pipeline is the media environment behind the compositor: it decodes
// video frames and images through ffmpeg and probes source durations with
// ffprobe.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024
	maxImageCache  = 64
)

type Config struct {
	FFmpegPath   string // empty = look up "ffmpeg" on PATH
	FFprobePath  string // empty = look up "ffprobe" on PATH
	FrameTimeout time.Duration
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	DebugPaths   bool
}

func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FrameTimeout: 10 * time.Second,
		ProbeTimeout: 30 * time.Second,
		Logger:       logger,
	}
}

// RunResult is the outcome of one ffmpeg or ffprobe invocation.
type RunResult struct {
	ExitCode   int
	Stdout     []byte
	StderrTail string
	Duration   time.Duration
}

func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

func (r RunResult) Err(tool string) error {
	if r.IsSuccess() {
		return nil
	}
	return fmt.Errorf("%s exited %d: %s", tool, r.ExitCode, truncate(strings.TrimSpace(r.StderrTail), 512))
}

// run executes bin and captures stdout in full and the tail of stderr.
func run(ctx context.Context, logger *slog.Logger, bin string, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			if stderrBuf.Len() == 0 {
				stderrBuf.WriteString(err.Error())
			}
		}
	}

	if exitCode != 0 && logger != nil {
		logger.Debug("media command failed",
			"bin", bin,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrBuf.String(), 512),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		Stdout:     stdout.Bytes(),
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
	}
}

func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

// localPath turns a file locator into a filesystem path. Remote locators
// return ok=false.
func localPath(locator string) (string, bool) {
	switch {
	case strings.HasPrefix(locator, "file://"):
		return strings.TrimPrefix(locator, "file://"), true
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return "", false
	default:
		return locator, true
	}
}

func safePath(path string, debug bool) string {
	if debug {
		return path
	}
	if _, ok := localPath(path); !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written to it.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
