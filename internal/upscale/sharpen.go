package upscale

import (
	"image"

	"github.com/anthonynsimon/bild/convolution"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
)

// sharpenKernel computes 1.5·center − 0.125·(up+down+left+right).
var sharpenKernel = &convolution.Kernel{
	Matrix: []float64{
		0, -0.125, 0,
		-0.125, 1.5, -0.125,
		0, -0.125, 0,
	},
	Width:  3,
	Height: 3,
}

// Sharpen applies the 4-neighbour sharpening kernel to every interior pixel.
// Border rows and columns are left untouched and alpha is preserved.
func Sharpen(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return img
	}
	conv := convolution.Convolve(img, sharpenKernel, &convolution.Options{KeepAlpha: true})
	out := imaging.ToNRGBA(conv)

	w, h := b.Dx(), b.Dy()
	restore := func(x, y int) {
		i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
		o := out.PixOffset(x, y)
		copy(out.Pix[o:o+4], img.Pix[i:i+4])
	}
	for x := 0; x < w; x++ {
		restore(x, 0)
		restore(x, h-1)
	}
	for y := 1; y < h-1; y++ {
		restore(0, y)
		restore(w-1, y)
	}
	return out
}
