package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"image"
	"image/color"
	"log/slog"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/compositor"
)

var ErrProbeUnavailable = errors.New("duration probing unavailable without ffprobe")

// StubRenderer stands in when ffmpeg is missing. Each source is drawn as a
// flat colour derived from its locator, so layering stays visible.
type StubRenderer struct {
	logger *slog.Logger
}

func NewStubRenderer(logger *slog.Logger) *StubRenderer {
	if logger != nil {
		logger.Warn("ffmpeg not available; previews use placeholder colours")
	}
	return &StubRenderer{logger: logger}
}

func (s *StubRenderer) DrawFrame(ctx context.Context, locator string, kind catalog.ClipKind, localSourceTime float64, dst compositor.Surface, opacity float64) error {
	if kind == catalog.KindAudio {
		return nil
	}
	dst.Blend(image.NewUniform(SwatchFor(locator)), opacity)
	return nil
}

func (s *StubRenderer) ProbeDuration(ctx context.Context, locator string) (int64, error) {
	return 0, ErrProbeUnavailable
}

// SwatchFor maps a locator to a stable opaque colour.
func SwatchFor(locator string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(locator))
	v := h.Sum32()
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}
