// Package clock implements the playback clock. Time is in milliseconds of
// timeline time; per-clip speed is applied later, at composite time.
package clock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/schedule"
)

const (
	// DefaultTickInterval is the reference playback cadence (~30 Hz).
	DefaultTickInterval = 33 * time.Millisecond
	// SkipStep is how far SkipBack and SkipForward move the playhead.
	SkipStep int64 = 1000
)

// DurationSource reports the current total timeline duration.
type DurationSource interface {
	Duration() int64
}

// Position is a consistent snapshot of the playhead.
type Position struct {
	Time    int64 `json:"current_time"`
	Playing bool  `json:"is_playing"`
	// Stopped is set on the tick that reached the end and rewound.
	Stopped bool `json:"stopped,omitempty"`
}

type Clock struct {
	mu      sync.Mutex
	source  DurationSource
	current int64
	playing bool
}

func New(source DurationSource) *Clock {
	return &Clock{source: source}
}

func (c *Clock) duration() int64 {
	if c.source == nil {
		return 0
	}
	d := c.source.Duration()
	if d < 0 {
		return 0
	}
	return d
}

// Tick advances the playhead by deltaMs while playing. Reaching or passing the
// duration stops playback and rewinds to 0. While paused it is a no-op.
func (c *Clock) Tick(deltaMs int64) Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.playing || deltaMs <= 0 {
		return Position{Time: c.current, Playing: c.playing}
	}

	next := c.current + deltaMs
	if next >= c.duration() {
		c.playing = false
		c.current = 0
		return Position{Time: 0, Playing: false, Stopped: true}
	}
	c.current = next
	return Position{Time: c.current, Playing: true}
}

// Seek moves the playhead to t clamped to [0, duration]. It applies
// immediately whether or not playback is running.
func (c *Clock) Seek(t int64) Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = clamp(t, 0, c.duration())
	return Position{Time: c.current, Playing: c.playing}
}

func (c *Clock) SkipBack() Position {
	c.mu.Lock()
	t := c.current - SkipStep
	c.mu.Unlock()
	return c.Seek(t)
}

func (c *Clock) SkipForward() Position {
	c.mu.Lock()
	t := c.current + SkipStep
	c.mu.Unlock()
	return c.Seek(t)
}

func (c *Clock) Play() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = true
	return Position{Time: c.current, Playing: true}
}

func (c *Clock) Pause() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = false
	return Position{Time: c.current, Playing: false}
}

func (c *Clock) Toggle() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = !c.playing
	return Position{Time: c.current, Playing: c.playing}
}

func (c *Clock) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Position{Time: c.current, Playing: c.playing}
}

func (c *Clock) Now() int64 {
	return c.Position().Time
}

func (c *Clock) IsPlaying() bool {
	return c.Position().Playing
}

// Run drives Tick on a fixed period until ctx is cancelled. Each tick advances
// by the nominal period rather than wall-clock elapsed time, so delivery jitter
// never makes the playhead jump. onTick sees every tick taken while playing,
// including the one that stopped playback.
func (c *Clock) Run(ctx context.Context, period time.Duration, onTick func(Position), logger *slog.Logger) *schedule.Handle {
	if period <= 0 {
		period = DefaultTickInterval
	}
	delta := period.Milliseconds()
	return schedule.Start(ctx, "clock", period, func(context.Context) {
		if !c.IsPlaying() {
			return
		}
		pos := c.Tick(delta)
		if onTick != nil {
			onTick(pos)
		}
	}, logger)
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
