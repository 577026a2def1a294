//go:build !cgo || !tesseract

package detection

import (
	"context"
	"fmt"
	"image"
)

// Tesseract is unavailable in this build; Open resolves it to the stand-in.
type Tesseract struct {
	Language string
}

func NewTesseract(language string) *Tesseract { return &Tesseract{Language: language} }

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Check(context.Context) error {
	return fmt.Errorf("tesseract support not built in (needs cgo and -tags tesseract): %w", ErrUnavailable)
}

func (t *Tesseract) Detect(context.Context, *image.NRGBA) ([]Prediction, error) {
	return nil, t.Check(context.Background())
}
