// Package smartcrop picks the crop window for a raster.
//
// In auto mode the detector runs first. Predictions below the confidence
// floor or in an excluded class are discarded, the rest are scored as
//
//	(0.4·area/frameArea + 0.4·confidence + 0.2·centrality) × classWeight
//
// and the window is centered on the best one, then nudged so the subject
// keeps a small margin inside the window where it fits. Without a
// qualifying subject the window is centered on the edge-density focal
// point. Named anchors skip detection entirely.
//
// The window never leaves the raster: when the raster is smaller than the
// requested size on an axis, the window covers the whole axis.
package smartcrop

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/image-pipeline-mcp/internal/detection"
	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
	"github.com/ironsheep/image-pipeline-mcp/internal/metrics"
)

// Method names how a window was chosen.
type Method string

const (
	MethodDetection  Method = "detection"
	MethodFocalPoint Method = "focal-point"
	MethodAnchor     Method = "anchor"
)

// AnchorAuto requests detection-driven cropping.
const AnchorAuto = "auto"

// Window is a crop rectangle inside the raster.
type Window struct {
	X int `json:"offset_x"`
	Y int `json:"offset_y"`
	W int `json:"width"`
	H int `json:"height"`
}

// Rect returns the window as an image.Rectangle.
func (w Window) Rect() image.Rectangle { return image.Rect(w.X, w.Y, w.X+w.W, w.Y+w.H) }

// Result is the chosen window and how it was found.
type Result struct {
	Window  Window                `json:"window"`
	Method  Method                `json:"method"`
	Anchor  string                `json:"anchor"`
	Subject *detection.Prediction `json:"subject,omitempty"`
	Score   float64               `json:"score,omitempty"`
	Focus   image.Point           `json:"focus"`

	// DetectorError is set when detection failed and the focal point was
	// used instead.
	DetectorError string `json:"detector_error,omitempty"`
}

// Config tunes subject scoring.
type Config struct {
	MinConfidence   float64
	ExcludedClasses []string
	ClassWeights    map[string]float64
	EdgeThreshold   float64
	EdgeMargin      int
	DetectTimeout   time.Duration
	Logger          zerolog.Logger
}

// Engine computes crop windows.
type Engine struct {
	detector detection.Detector
	cfg      Config
	excluded map[string]bool
	log      zerolog.Logger
}

// New returns an Engine using det for auto mode. A nil detector means auto
// mode always uses the focal point.
func New(det detection.Detector, cfg Config) *Engine {
	if cfg.EdgeThreshold <= 0 {
		cfg.EdgeThreshold = 30
	}
	if cfg.EdgeMargin < 0 {
		cfg.EdgeMargin = 0
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = 5 * time.Second
	}
	excluded := make(map[string]bool, len(cfg.ExcludedClasses))
	for _, c := range cfg.ExcludedClasses {
		excluded[strings.ToLower(c)] = true
	}
	return &Engine{detector: det, cfg: cfg, excluded: excluded, log: cfg.Logger}
}

// Config returns the tuning in effect after defaults.
func (e *Engine) Config() Config { return e.cfg }

// Compute returns a window of min(w, raster width) × min(h, raster height).
func (e *Engine) Compute(ctx context.Context, img *image.NRGBA, w, h int, anchor string) (Result, error) {
	if w <= 0 || h <= 0 {
		return Result{}, fmt.Errorf("smartcrop: invalid crop size %dx%d", w, h)
	}
	if img == nil || img.Bounds().Empty() {
		return Result{}, fmt.Errorf("smartcrop: empty raster")
	}
	b := img.Bounds()
	ww, wh := min(w, b.Dx()), min(h, b.Dy())

	anchor = strings.ToLower(strings.TrimSpace(anchor))
	if anchor != "" && anchor != AnchorAuto {
		name, fx, fy := lookupAnchor(anchor)
		win := Window{
			X: int(math.Round(fx * float64(b.Dx()-ww))),
			Y: int(math.Round(fy * float64(b.Dy()-wh))),
			W: ww,
			H: wh,
		}
		return Result{Window: win, Method: MethodAnchor, Anchor: name, Focus: image.Pt(win.X+ww/2, win.Y+wh/2)}, nil
	}

	res := Result{Anchor: AnchorAuto}
	if e.detector != nil {
		best, score, err := e.detect(ctx, img)
		if err != nil {
			res.DetectorError = err.Error()
			e.log.Warn().Err(err).Str("detector", e.detector.Name()).Msg("detection failed, using focal point")
		} else if best != nil {
			res.Method = MethodDetection
			res.Subject = best
			res.Score = score
			res.Focus = best.Box.Center()
			res.Window = subjectWindow(b.Dx(), b.Dy(), ww, wh, best.Box, e.cfg.EdgeMargin)
			return res, nil
		}
	}

	focus := imaging.EdgeCentroid(img, e.cfg.EdgeThreshold)
	metrics.IncDegradation("crop", string(MethodFocalPoint))
	res.Method = MethodFocalPoint
	res.Focus = focus.Point
	res.Window = Window{
		X: clamp(focus.Point.X-ww/2, 0, b.Dx()-ww),
		Y: clamp(focus.Point.Y-wh/2, 0, b.Dy()-wh),
		W: ww,
		H: wh,
	}
	return res, nil
}

// detect runs the detector under the timeout and returns the best
// qualifying prediction, or nil if none qualify.
func (e *Engine) detect(ctx context.Context, img *image.NRGBA) (*detection.Prediction, float64, error) {
	dctx, cancel := context.WithTimeout(ctx, e.cfg.DetectTimeout)
	defer cancel()
	preds, err := e.detector.Detect(dctx, img)
	if err != nil {
		return nil, 0, err
	}

	b := img.Bounds()
	frame := image.Rect(0, 0, b.Dx(), b.Dy())
	var best *detection.Prediction
	bestScore := math.Inf(-1)
	for _, p := range preds {
		score, ok := e.score(p, frame)
		if !ok {
			continue
		}
		if score > bestScore {
			clipped := p
			clipped.Box = detection.BoxFromRect(p.Box.Rect().Intersect(frame))
			best, bestScore = &clipped, score
		}
	}
	e.log.Debug().Int("predictions", len(preds)).Bool("subject", best != nil).Msg("detection scored")
	if best == nil {
		return nil, 0, nil
	}
	return best, bestScore, nil
}

// score rates one prediction against the frame. ok is false for
// predictions that do not qualify.
func (e *Engine) score(p detection.Prediction, frame image.Rectangle) (float64, bool) {
	class := strings.ToLower(p.Class)
	if p.Confidence < e.cfg.MinConfidence || e.excluded[class] {
		return 0, false
	}
	box := p.Box.Rect().Intersect(frame)
	if box.Empty() {
		return 0, false
	}

	fw, fh := float64(frame.Dx()), float64(frame.Dy())
	area := float64(box.Dx()*box.Dy()) / (fw * fh)

	cx := float64(box.Min.X+box.Max.X) / 2
	cy := float64(box.Min.Y+box.Max.Y) / 2
	halfDiag := math.Hypot(fw, fh) / 2
	centrality := 1 - math.Hypot(cx-fw/2, cy-fh/2)/halfDiag
	centrality = math.Max(0, math.Min(1, centrality))

	conf := math.Max(0, math.Min(1, p.Confidence))
	weight := 1.0
	if wgt, ok := e.cfg.ClassWeights[class]; ok && wgt > 0 {
		weight = wgt
	}
	return (0.4*area + 0.4*conf + 0.2*centrality) * weight, true
}

// subjectWindow centers a ww×wh window on box, then shifts it so the box
// plus margin stays inside where that fits, then clamps to the raster.
func subjectWindow(rw, rh, ww, wh int, box detection.Box, margin int) Window {
	return Window{
		X: placeAxis(rw, ww, box.X, box.W, margin),
		Y: placeAxis(rh, wh, box.Y, box.H, margin),
		W: ww,
		H: wh,
	}
}

func placeAxis(size, win, start, length, margin int) int {
	pos := start + length/2 - win/2
	m := min(margin, max(0, (win-length)/2))
	if length+2*m <= win {
		lo := start + length + m - win // leftmost position keeping the far edge in
		hi := start - m                // rightmost position keeping the near edge in
		pos = clamp(pos, lo, hi)
	}
	return clamp(pos, 0, size-win)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}

var anchors = map[string][2]float64{
	"center":       {0.5, 0.5},
	"top":          {0.5, 0},
	"bottom":       {0.5, 1},
	"left":         {0, 0.5},
	"right":        {1, 0.5},
	"top-left":     {0, 0},
	"top-right":    {1, 0},
	"bottom-left":  {0, 1},
	"bottom-right": {1, 1},
}

// Anchors lists the named anchors.
func Anchors() []string {
	return []string{"center", "top", "bottom", "left", "right", "top-left", "top-right", "bottom-left", "bottom-right"}
}

// lookupAnchor resolves a name (accepting "topleft" and "top_left" forms);
// unknown names fall back to center.
func lookupAnchor(name string) (string, float64, float64) {
	n := strings.NewReplacer("_", "-", " ", "-").Replace(name)
	switch n {
	case "topleft":
		n = "top-left"
	case "topright":
		n = "top-right"
	case "bottomleft":
		n = "bottom-left"
	case "bottomright":
		n = "bottom-right"
	}
	if f, ok := anchors[n]; ok {
		return n, f[0], f[1]
	}
	return "center", 0.5, 0.5
}
