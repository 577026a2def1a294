package models

import (
	"context"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/transform"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
)

// ClassicalModel upscales in-process with a Lanczos filter. It is the
// fallback for every breaker-open or unavailable lease.
type ClassicalModel struct{}

func (ClassicalModel) Name() string { return "classical-lanczos" }

func (ClassicalModel) Upscale(ctx context.Context, img *image.NRGBA, scale int) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scale < 1 {
		return nil, fmt.Errorf("invalid scale %d", scale)
	}
	if scale == 1 {
		return img, nil
	}
	b := img.Bounds()
	out := transform.Resize(img, b.Dx()*scale, b.Dy()*scale, transform.Lanczos)
	return imaging.ToNRGBA(out), nil
}

func (ClassicalModel) FootprintMB() int { return 0 }

func (ClassicalModel) Close() error { return nil }

// ClassicalLoader loads ClassicalModel for every scale. It is used when no
// model service is configured so the handle table still tracks usage.
type ClassicalLoader struct{}

func (ClassicalLoader) Load(ctx context.Context, scale int) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ClassicalModel{}, nil
}
