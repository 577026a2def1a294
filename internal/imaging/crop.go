package imaging

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Crop extracts a rectangular region from a raster.
//
// Parameters:
//   - img: Source raster.
//   - r: Region to extract, in the raster's coordinate space. Must lie fully
//     inside the raster bounds and be non-empty.
//
// Returns:
//   - *image.NRGBA: A new raster of r's size with origin (0,0).
//   - error: Non-nil if the region is empty or extends past the bounds.
func Crop(img image.Image, r image.Rectangle) (*image.NRGBA, error) {
	bounds := img.Bounds()

	if r.Min.X < bounds.Min.X || r.Min.Y < bounds.Min.Y || r.Max.X > bounds.Max.X || r.Max.Y > bounds.Max.Y {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			r.Min.X, r.Min.Y, r.Max.X, r.Max.Y, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	if r.Empty() {
		return nil, fmt.Errorf("invalid crop region: min must be < max on both axes")
	}

	return imaging.Crop(img, r), nil
}

// FitWithin returns the largest size with the aspect ratio of w×h whose
// longer side equals longest. Both results are at least 1.
func FitWithin(w, h, longest int) (int, int) {
	if w <= 0 || h <= 0 || longest <= 0 {
		return 0, 0
	}
	if w >= h {
		nh := int(float64(h)*float64(longest)/float64(w) + 0.5)
		return longest, max(nh, 1)
	}
	nw := int(float64(w)*float64(longest)/float64(h) + 0.5)
	return max(nw, 1), longest
}

// CoverSize returns the smallest size with the aspect ratio of w×h that
// covers a tw×th box on both axes.
func CoverSize(w, h, tw, th int) (int, int) {
	if w <= 0 || h <= 0 || tw <= 0 || th <= 0 {
		return 0, 0
	}
	sx := float64(tw) / float64(w)
	sy := float64(th) / float64(h)
	s := max(sx, sy)

	cw := int(float64(w)*s + 0.5)
	ch := int(float64(h)*s + 0.5)
	return max(cw, tw), max(ch, th)
}

// ContainSize returns the largest size with the aspect ratio of w×h that fits
// inside a tw×th box.
func ContainSize(w, h, tw, th int) (int, int) {
	if w <= 0 || h <= 0 || tw <= 0 || th <= 0 {
		return 0, 0
	}
	sx := float64(tw) / float64(w)
	sy := float64(th) / float64(h)
	s := min(sx, sy)

	cw := int(float64(w)*s + 0.5)
	ch := int(float64(h)*s + 0.5)
	return clamp(cw, 1, tw), clamp(ch, 1, th)
}

// Resize scales a raster to exactly w×h with a Lanczos filter.
func Resize(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return ToNRGBA(img)
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}
