//go:build cgo && tesseract

package detection

import (
	"context"
	"fmt"
	"image"

	"github.com/otiai10/gosseract/v2"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
)

// Tesseract reports Tesseract text blocks as "text" subjects. It needs the
// Tesseract library and the language data installed on the system.
type Tesseract struct {
	Language string
}

// NewTesseract returns a Tesseract detector for language ("eng" if empty).
func NewTesseract(language string) *Tesseract {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{Language: language}
}

func (t *Tesseract) Name() string { return "tesseract" }

// Check verifies the library loads and the language data is present.
func (t *Tesseract) Check(ctx context.Context) error {
	client := gosseract.NewClient()
	defer client.Close()
	if client.Version() == "" {
		return fmt.Errorf("tesseract: %w", ErrUnavailable)
	}
	langs, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return fmt.Errorf("tesseract languages: %w", err)
	}
	for _, l := range langs {
		if l == t.Language {
			return nil
		}
	}
	return fmt.Errorf("tesseract language %q not installed: %w", t.Language, ErrUnavailable)
}

// Detect runs block-level layout analysis. Tesseract cannot be interrupted,
// so on cancellation the call returns immediately and the recognition
// finishes in the background.
func (t *Tesseract) Detect(ctx context.Context, img *image.NRGBA) ([]Prediction, error) {
	data, err := imaging.Encode(img, imaging.FormatPNG, 100)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		preds []Prediction
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		preds, err := t.blocks(data)
		done <- outcome{preds, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.preds, o.err
	}
}

func (t *Tesseract) blocks(data []byte) ([]Prediction, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.Language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_BLOCK)
	if err != nil {
		return nil, fmt.Errorf("failed to get text regions: %w", err)
	}

	preds := make([]Prediction, 0, len(boxes))
	for _, box := range boxes {
		if box.Box.Empty() {
			continue
		}
		preds = append(preds, Prediction{
			Box:        BoxFromRect(box.Box),
			Class:      "text",
			Confidence: float64(box.Confidence) / 100.0,
		})
	}
	return preds, nil
}
