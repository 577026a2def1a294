package imaging

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/zeebo/blake3"
)

// Palette is the set of colors used to draw a placeholder.
type Palette struct {
	Background color.Color
	Border     color.Color
	Text       color.Color
	Muted      color.Color
}

// PaletteFor derives a muted placeholder palette from seed. The same seed
// always yields the same palette, so a given file renders consistently.
//
// The hue comes from the first two bytes of a blake3 digest of seed; the
// saturation and lightness are fixed so text stays legible on the
// background.
func PaletteFor(seed string) Palette {
	sum := blake3.Sum256([]byte(seed))
	hue := float64(uint16(sum[0])<<8|uint16(sum[1])) / 65535.0 * 360.0

	return Palette{
		Background: toNRGBA(colorful.Hsl(hue, 0.35, 0.90)),
		Border:     toNRGBA(colorful.Hsl(hue, 0.40, 0.55)),
		Text:       toNRGBA(colorful.Hsl(hue, 0.45, 0.22)),
		Muted:      toNRGBA(colorful.Hsl(hue, 0.25, 0.40)),
	}
}

func toNRGBA(c colorful.Color) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}
