// Package compositor turns the clips active at one instant into a frame.
package compositor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/clipforge/clipforge/internal/catalog"
)

// EmptyText is drawn when no clip is active.
const EmptyText = "No clips at current time"

var (
	Background       = color.RGBA{R: 0x0f, G: 0x17, B: 0x2a, A: 0xff}
	PlaceholderColor = color.RGBA{R: 0x47, G: 0x55, B: 0x69, A: 0xff}
)

// Surface is a drawing target sized to the output frame.
type Surface interface {
	Bounds() image.Rectangle
	Fill(c color.Color)
	// Blend draws src scaled to Bounds at the given opacity.
	Blend(src image.Image, opacity float64)
	Placeholder(text string)
}

// Renderer decodes the content of a source at a local time and blends it
// onto dst. Only video and image kinds are ever passed.
type Renderer interface {
	DrawFrame(ctx context.Context, locator string, kind catalog.ClipKind, localSourceTime float64, dst Surface, opacity float64) error
}

type Layer struct {
	ClipID    string           `json:"clip_id"`
	Track     int              `json:"track_index"`
	Kind      catalog.ClipKind `json:"clip_type"`
	SourceURL string           `json:"source_url"`
	LocalTime float64          `json:"local_time"`
	Opacity   float64          `json:"opacity"`
	Error     string           `json:"error,omitempty"`
}

// Frame describes one composite. Layers are in draw order, background first.
type Frame struct {
	Time   int64   `json:"time"`
	Layers []Layer `json:"layers"`
	Audio  []Layer `json:"audio,omitempty"`
	Empty  bool    `json:"empty"`
}

type Compositor struct {
	renderer Renderer
	logger   *slog.Logger
}

func New(renderer Renderer, logger *slog.Logger) *Compositor {
	return &Compositor{renderer: renderer, logger: logger}
}

// Compose selects the clips active at t, orders them background to
// foreground and draws them onto dst. dst may be nil, in which case only the
// frame description is produced. clips is never modified.
func (c *Compositor) Compose(ctx context.Context, t int64, clips []*catalog.Clip, dst Surface) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	active := Active(t, clips)
	frame := &Frame{Time: t, Layers: []Layer{}}

	if dst != nil {
		dst.Fill(Background)
	}

	for _, clip := range active {
		layer := Layer{
			ClipID:    clip.ID,
			Track:     clip.TrackIndex,
			Kind:      clip.Kind,
			SourceURL: clip.SourceURL,
			LocalTime: clip.LocalSourceTime(t),
			Opacity:   clampOpacity(clip.Properties.Opacity()),
		}

		switch clip.Kind {
		case catalog.KindAudio:
			frame.Audio = append(frame.Audio, layer)
			continue
		case catalog.KindVideo, catalog.KindImage:
		default:
			layer.Error = fmt.Sprintf("unsupported clip type %q", clip.Kind)
			frame.Layers = append(frame.Layers, layer)
			continue
		}

		if dst != nil && c.renderer != nil {
			if err := c.renderer.DrawFrame(ctx, clip.SourceURL, clip.Kind, layer.LocalTime, dst, layer.Opacity); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				layer.Error = err.Error()
				if c.logger != nil {
					c.logger.Warn("failed to draw layer", "clip_id", clip.ID, "source", clip.SourceURL, "error", err)
				}
			}
		}
		frame.Layers = append(frame.Layers, layer)
	}

	// An audio-only instant is not empty; it just has nothing to draw.
	if len(active) == 0 {
		frame.Empty = true
		if dst != nil {
			dst.Placeholder(EmptyText)
		}
	}
	return frame, nil
}

// Active returns the clips active at t in draw order: ascending track, and
// within a track ascending start, ties keeping the order of clips.
func Active(t int64, clips []*catalog.Clip) []*catalog.Clip {
	var active []*catalog.Clip
	for _, clip := range clips {
		if clip.ActiveAt(t) {
			active = append(active, clip)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].TrackIndex != active[j].TrackIndex {
			return active[i].TrackIndex < active[j].TrackIndex
		}
		return active[i].StartTime < active[j].StartTime
	})
	return active
}

func clampOpacity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ParseResolution parses "WIDTHxHEIGHT".
func ParseResolution(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, catalog.Invalid("resolution %q must be WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, catalog.Invalid("resolution %q has an invalid width", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, catalog.Invalid("resolution %q has an invalid height", s)
	}
	return width, height, nil
}
