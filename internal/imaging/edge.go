package imaging

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/effect"
)

// EdgeFocus is the result of an edge-density focal point estimate.
type EdgeFocus struct {
	// Point is the centroid of the edge pixels, or the raster center when
	// Found is false.
	Point image.Point

	// Count is the number of pixels whose gradient exceeded the threshold.
	Count int

	// Found reports whether any pixel exceeded the threshold.
	Found bool
}

// EdgeCentroid estimates a focal point from edge density.
//
// Parameters:
//   - img: Source raster (color or grayscale).
//   - threshold: Gradient magnitude (0-255 scale) a pixel must exceed to count
//     as an edge. Typical value: 30.
//
// Returns:
//   - EdgeFocus: The centroid of all edge pixels, or the raster center if no
//     pixel exceeds the threshold.
//
// # Algorithm
//
//  1. Luminance conversion with bild's effect.Grayscale.
//
//  2. For every interior pixel, differences against the right and lower
//     neighbors: dx = |L(x+1,y) - L(x,y)|, dy = |L(x,y+1) - L(x,y)|,
//     magnitude = sqrt(dx² + dy²).
//
//  3. Pixels with magnitude > threshold contribute their coordinates to
//     the centroid.
//
// Rasters smaller than 3×3 have no interior and always report the center.
func EdgeCentroid(img image.Image, threshold float64) EdgeFocus {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	center := image.Pt(width/2, height/2)
	if width < 3 || height < 3 {
		return EdgeFocus{Point: center}
	}

	gray := effect.Grayscale(img)
	lum := func(x, y int) float64 {
		return float64(gray.Pix[gray.PixOffset(gray.Rect.Min.X+x, gray.Rect.Min.Y+y)])
	}

	var sumX, sumY int64
	count := 0
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			c := lum(x, y)
			dx := math.Abs(lum(x+1, y) - c)
			dy := math.Abs(lum(x, y+1) - c)
			if math.Sqrt(dx*dx+dy*dy) > threshold {
				sumX += int64(x)
				sumY += int64(y)
				count++
			}
		}
	}

	if count == 0 {
		return EdgeFocus{Point: center}
	}
	return EdgeFocus{
		Point: image.Pt(int(sumX/int64(count)), int(sumY/int64(count))),
		Count: count,
		Found: true,
	}
}
