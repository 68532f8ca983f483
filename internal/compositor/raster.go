package compositor

import (
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// RasterSurface is an in-memory RGBA Surface.
type RasterSurface struct {
	img    *image.RGBA
	scaler draw.Scaler
}

func NewRasterSurface(width, height int) *RasterSurface {
	return &RasterSurface{
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
		scaler: draw.ApproxBiLinear,
	}
}

func (s *RasterSurface) Bounds() image.Rectangle {
	return s.img.Bounds()
}

func (s *RasterSurface) Fill(c color.Color) {
	draw.Draw(s.img, s.img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

func (s *RasterSurface) Blend(src image.Image, opacity float64) {
	if src == nil || opacity <= 0 {
		return
	}
	var mask image.Image
	if opacity < 1 {
		mask = image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	}
	// A uniform source has unbounded extent and needs no scaling.
	if u, ok := src.(*image.Uniform); ok {
		draw.DrawMask(s.img, s.img.Bounds(), u, image.Point{}, mask, image.Point{}, draw.Over)
		return
	}
	var opts *draw.Options
	if mask != nil {
		opts = &draw.Options{SrcMask: mask}
	}
	s.scaler.Scale(s.img, s.img.Bounds(), src, src.Bounds(), draw.Over, opts)
}

// Placeholder draws a centred panel with text on it.
func (s *RasterSurface) Placeholder(text string) {
	b := s.img.Bounds()
	face := basicfont.Face7x13
	textW := font.MeasureString(face, text).Ceil()
	lineH := face.Metrics().Height.Ceil()

	panel := image.Rect(0, 0, textW+32, lineH+24)
	panel = panel.Add(image.Pt(b.Min.X+(b.Dx()-panel.Dx())/2, b.Min.Y+(b.Dy()-panel.Dy())/2)).Intersect(b)
	draw.Draw(s.img, panel, image.NewUniform(PlaceholderColor), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  s.img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot: fixed.P(
			b.Min.X+(b.Dx()-textW)/2,
			b.Min.Y+(b.Dy()+face.Metrics().Ascent.Ceil())/2,
		),
	}
	d.DrawString(text)
}

func (s *RasterSurface) Image() *image.RGBA {
	return s.img
}

func (s *RasterSurface) EncodePNG(w io.Writer) error {
	return png.Encode(w, s.img)
}
