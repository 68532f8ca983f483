package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Capabilities reports which media tools the host can run.
type Capabilities struct {
	FFmpeg   ToolInfo  `json:"ffmpeg"`
	FFprobe  ToolInfo  `json:"ffprobe"`
	ProbedAt time.Time `json:"probed_at"`
}

type ToolInfo struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CanRender reports whether real frame decoding is possible.
func (c *Capabilities) CanRender() bool {
	return c.FFmpeg.Available
}

// Doctor probes the host for media tooling.
type Doctor interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

type ExecDoctor struct {
	cfg Config
}

func NewExecDoctor(cfg Config) *ExecDoctor {
	return &ExecDoctor{cfg: cfg}
}

func (d *ExecDoctor) Probe(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	caps := &Capabilities{
		FFmpeg:   d.tool(ctx, d.cfg.FFmpegPath, "ffmpeg"),
		FFprobe:  d.tool(ctx, d.cfg.FFprobePath, "ffprobe"),
		ProbedAt: time.Now(),
	}
	if d.cfg.Logger != nil {
		d.cfg.Logger.Info("media doctor probe complete",
			"ffmpeg", caps.FFmpeg.Available,
			"ffprobe", caps.FFprobe.Available,
		)
	}
	return caps, nil
}

func (d *ExecDoctor) tool(ctx context.Context, preferred, name string) ToolInfo {
	path, err := resolveBinary(preferred, name)
	if err != nil {
		return ToolInfo{Error: err.Error()}
	}
	result := run(ctx, d.cfg.Logger, path, "-version")
	if err := result.Err(name); err != nil {
		return ToolInfo{Path: path, Error: err.Error()}
	}
	return ToolInfo{Available: true, Path: path, Version: parseVersion(string(result.Stdout))}
}

// parseVersion pulls "6.1.1" out of "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

// CachedDoctor caches probe results for a TTL.
type CachedDoctor struct {
	doctor Doctor
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(doctor Doctor, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		doctor: doctor,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh re-probes regardless of freshness. A failed probe falls back to the
// stale result when there is one.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.doctor.Probe(ctx)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("media doctor probe failed", "error", err)
		}
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
