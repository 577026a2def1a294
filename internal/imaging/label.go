package imaging

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	labelFontOnce sync.Once
	labelFont     *opentype.Font
)

// LabelFace returns a Go Regular face at size points (72 DPI). If the
// embedded font cannot be parsed the fixed 7×13 basic face is returned.
func LabelFace(size float64) font.Face {
	labelFontOnce.Do(func() {
		f, err := opentype.Parse(goregular.TTF)
		if err == nil {
			labelFont = f
		}
	})
	if labelFont == nil || size <= 0 {
		return basicfont.Face7x13
	}
	face, err := opentype.NewFace(labelFont, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	return face
}

// MeasureLabel returns the advance width of text in face, in pixels.
func MeasureLabel(face font.Face, text string) int {
	return font.MeasureString(face, text).Ceil()
}

// DrawLabel draws text onto the surface with its baseline at (x, y).
//
// Text that runs past the right edge is clipped by the surface bounds.
// Empty text is a no-op.
func (s *Surface) DrawLabel(face font.Face, text string, x, y int, c color.Color) {
	if text == "" {
		return
	}
	d := &font.Drawer{
		Dst:  s.img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// DrawLabelCentered draws text horizontally centered on the surface with its
// baseline at y.
func (s *Surface) DrawLabelCentered(face font.Face, text string, y int, c color.Color) {
	w := MeasureLabel(face, text)
	s.DrawLabel(face, text, (s.Width()-w)/2, y, c)
}

// Truncate shortens s to at most n runes, replacing the tail with an
// ellipsis when it was cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:max(n, 0)])
	}
	return string(r[:n-1]) + "…"
}

// StrokeRect draws a border of the given thickness just inside r.
func (s *Surface) StrokeRect(r image.Rectangle, thickness int, c color.Color) {
	if thickness <= 0 {
		return
	}
	s.FillRect(image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), c)
	s.FillRect(image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), c)
	s.FillRect(image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y), c)
	s.FillRect(image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y), c)
}
