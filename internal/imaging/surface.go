package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// Surface is a 2D drawable pixel buffer in non-premultiplied RGBA8.
//
// The zero value is not usable; create one with Allocate or Wrap.
type Surface struct {
	img *image.NRGBA
}

// Allocate returns a transparent surface of w×h pixels.
//
// Returns an error if either dimension is not positive.
func Allocate(w, h int) (*Surface, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", w, h)
	}
	return &Surface{img: image.NewNRGBA(image.Rect(0, 0, w, h))}, nil
}

// Wrap adopts img as the backing buffer of a surface. The raster is converted
// with ToNRGBA, so an already-normalized raster is shared, not copied.
func Wrap(img image.Image) *Surface {
	return &Surface{img: ToNRGBA(img)}
}

// ToNRGBA returns img as an *image.NRGBA with origin (0,0). Rasters that
// already have that form are returned unchanged.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}

// Raster returns the backing buffer.
func (s *Surface) Raster() *image.NRGBA { return s.img }

// Bounds returns the surface rectangle, always anchored at (0,0).
func (s *Surface) Bounds() image.Rectangle { return s.img.Rect }

// Width returns the surface width in pixels.
func (s *Surface) Width() int { return s.img.Rect.Dx() }

// Height returns the surface height in pixels.
func (s *Surface) Height() int { return s.img.Rect.Dy() }

// Fill paints the whole surface with c.
func (s *Surface) Fill(c color.Color) {
	draw.Draw(s.img, s.img.Rect, image.NewUniform(c), image.Point{}, draw.Src)
}

// FillRect paints r (clipped to the surface) with c.
func (s *Surface) FillRect(r image.Rectangle, c color.Color) {
	r = r.Intersect(s.img.Rect)
	if r.Empty() {
		return
	}
	draw.Draw(s.img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// Draw copies the srcRect region of src into dstRect on the surface.
//
// When the two rectangles have the same size the pixels are copied as is;
// otherwise the region is resampled with a Catmull-Rom kernel. Both
// rectangles are clipped to their respective bounds.
func (s *Surface) Draw(src image.Image, dstRect, srcRect image.Rectangle) {
	srcRect = srcRect.Intersect(src.Bounds())
	if srcRect.Empty() || dstRect.Intersect(s.img.Rect).Empty() {
		return
	}
	if dstRect.Dx() == srcRect.Dx() && dstRect.Dy() == srcRect.Dy() {
		draw.Draw(s.img, dstRect, src, srcRect.Min, draw.Src)
		return
	}
	xdraw.CatmullRom.Scale(s.img, dstRect, src, srcRect, xdraw.Src, nil)
}

// At samples the pixel at (x, y). Coordinates outside the surface are
// clamped to the nearest edge.
func (s *Surface) At(x, y int) color.NRGBA {
	x = clamp(x, 0, s.Width()-1)
	y = clamp(y, 0, s.Height()-1)
	return s.img.NRGBAAt(x, y)
}

// ReadPixels returns the RGBA8 bytes of r, row-major, 4 bytes per pixel.
//
// Returns an error if r is empty or not fully inside the surface.
func (s *Surface) ReadPixels(r image.Rectangle) ([]byte, error) {
	if r.Empty() || !r.In(s.img.Rect) {
		return nil, fmt.Errorf("read region %v outside surface %v", r, s.img.Rect)
	}
	rowLen := r.Dx() * 4
	out := make([]byte, 0, rowLen*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := s.img.PixOffset(r.Min.X, y)
		out = append(out, s.img.Pix[off:off+rowLen]...)
	}
	return out, nil
}

// Encode serializes the surface in the given format.
//
// See the package-level Encode for format and quality semantics.
func (s *Surface) Encode(format Format, quality int) ([]byte, error) {
	return Encode(s.img, format, quality)
}

// clamp constrains an integer value to a range [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
