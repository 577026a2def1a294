package normalize

import (
	"fmt"
	"image"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
)

const (
	maxNameRunes   = 32
	maxDetailRunes = 48

	defaultPlaceholderSize = 512
)

// Placeholder draws a labeled stand-in raster of exactly w×h pixels.
//
// The background tint is derived from name, so the same file always renders
// the same color. When there is room the name (truncated to 32 runes), the
// dimensions and the failure detail (truncated to 48 runes) are printed.
func Placeholder(w, h int, name, detail string) *image.NRGBA {
	if w <= 0 {
		w = defaultPlaceholderSize
	}
	if h <= 0 {
		h = defaultPlaceholderSize
	}
	s := imaging.Wrap(image.NewNRGBA(image.Rect(0, 0, w, h)))
	p := imaging.PaletteFor(name)

	s.Fill(p.Background)
	border := max(min(w, h)/64, 1)
	s.StrokeRect(s.Bounds(), border, p.Border)

	short := min(w, h)
	if short < 24 {
		return s.Raster()
	}

	size := float64(short) / 10
	size = max(min(size, 28), 8)
	face := imaging.LabelFace(size)
	small := imaging.LabelFace(max(size*0.7, 7))
	line := int(size * 1.5)

	lines := []struct {
		text  string
		large bool
	}{
		{"image unavailable", true},
		{imaging.Truncate(name, maxNameRunes), false},
		{fmt.Sprintf("%d × %d", w, h), false},
		{imaging.Truncate(detail, maxDetailRunes), false},
	}

	y := h/2 - line*len(lines)/2 + line/2
	for i, l := range lines {
		if l.text == "" {
			continue
		}
		f, c := small, p.Muted
		if l.large {
			f, c = face, p.Text
		}
		if i > 0 && y > h-border {
			break
		}
		s.DrawLabelCentered(f, l.text, y, c)
		y += line
	}
	return s.Raster()
}
