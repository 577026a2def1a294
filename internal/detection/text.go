package detection

import (
	"context"
	"image"
	"math"
	"sort"
)

// TextRegions reports likely lines of text as "text" subjects, without OCR.
// It slides windows of typical text-line proportions over the edge map and
// keeps windows whose edge density is moderate and mostly horizontal.
type TextRegions struct {
	// MinConfidence drops weaker windows before merging. Zero means 0.3.
	MinConfidence float64
}

func (TextRegions) Name() string { return "text" }

var textWindows = []struct{ w, h int }{
	{100, 30}, // small text
	{150, 40}, // medium text
	{200, 50}, // large text
	{80, 25},  // very small text
}

func (t TextRegions) Detect(ctx context.Context, img *image.NRGBA) ([]Prediction, error) {
	minConfidence := t.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.3
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return nil, nil
	}
	edges := edgeMap(img)

	candidates := make([]Prediction, 0)
	for _, ws := range textWindows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stepX, stepY := ws.w/2, ws.h/2
		for y := 0; y <= height-ws.h; y += stepY {
			for x := 0; x <= width-ws.w; x += stepX {
				edgeCount := 0
				for wy := 0; wy < ws.h; wy++ {
					for wx := 0; wx < ws.w; wx++ {
						if edges[y+wy][x+wx] {
							edgeCount++
						}
					}
				}
				density := float64(edgeCount) / float64(ws.w*ws.h)

				// Text has medium edge density: not too sparse, not too dense.
				if density < 0.05 || density > 0.4 {
					continue
				}
				confidence := horizontalScore(edges, x, y, ws.w, ws.h) * (1.0 - math.Abs(density-0.2)/0.2)
				if confidence < minConfidence {
					continue
				}
				candidates = append(candidates, Prediction{
					Box:        Box{X: x + bounds.Min.X, Y: y + bounds.Min.Y, W: ws.w, H: ws.h},
					Class:      "text",
					Confidence: math.Round(confidence*1000) / 1000,
				})
			}
		}
	}

	merged := mergeOverlapping(candidates)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Confidence > merged[j].Confidence })
	return merged, nil
}

// horizontalScore is the share of edge runs that are horizontal within the
// window.
func horizontalScore(edges [][]bool, x, y, w, h int) float64 {
	horizontalRuns, verticalRuns := 0, 0

	for row := y; row < y+h; row++ {
		inRun := false
		for col := x; col < x+w; col++ {
			if edges[row][col] {
				if !inRun {
					horizontalRuns++
					inRun = true
				}
			} else {
				inRun = false
			}
		}
	}
	for col := x; col < x+w; col++ {
		inRun := false
		for row := y; row < y+h; row++ {
			if edges[row][col] {
				if !inRun {
					verticalRuns++
					inRun = true
				}
			} else {
				inRun = false
			}
		}
	}

	if horizontalRuns+verticalRuns == 0 {
		return 0
	}
	return float64(horizontalRuns) / float64(horizontalRuns+verticalRuns)
}
