package smartcrop

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/ironsheep/image-pipeline-mcp/internal/detection"
)

type fixedDetector struct {
	preds []detection.Prediction
	err   error
}

func (f fixedDetector) Name() string { return "fixed" }

func (f fixedDetector) Detect(ctx context.Context, img *image.NRGBA) ([]detection.Prediction, error) {
	return f.preds, f.err
}

func uniform(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	return img
}

func defaultConfig() Config {
	return Config{
		MinConfidence: 0.35,
		ClassWeights:  map[string]float64{"person": 1.5, "face": 1.6},
		EdgeThreshold: 30,
		EdgeMargin:    8,
	}
}

func TestCompute_CenteredPerson(t *testing.T) {
	det := fixedDetector{preds: []detection.Prediction{
		{Box: detection.Box{X: 150, Y: 100, W: 100, H: 100}, Class: "person", Confidence: 0.95},
	}}
	e := New(det, defaultConfig())

	res, err := e.Compute(context.Background(), uniform(400, 300), 200, 150, AnchorAuto)
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != MethodDetection || res.Subject == nil || res.Subject.Class != "person" {
		t.Fatalf("expected detection on the person, got %+v", res)
	}
	if want := (Window{X: 100, Y: 75, W: 200, H: 150}); res.Window != want {
		t.Errorf("window: got %+v, want %+v", res.Window, want)
	}
}

func TestCompute_NoQualifyingDetections(t *testing.T) {
	tests := []struct {
		name string
		det  detection.Detector
	}{
		{"nil detector", nil},
		{"empty", fixedDetector{}},
		{"low confidence", fixedDetector{preds: []detection.Prediction{{Box: detection.Box{X: 0, Y: 0, W: 50, H: 50}, Class: "person", Confidence: 0.1}}}},
		{"off frame", fixedDetector{preds: []detection.Prediction{{Box: detection.Box{X: 900, Y: 900, W: 50, H: 50}, Class: "person", Confidence: 0.9}}}},
		{"detector error", fixedDetector{err: errors.New("service down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e *Engine
			if tt.det == nil {
				e = New(nil, defaultConfig())
			} else {
				e = New(tt.det, defaultConfig())
			}
			res, err := e.Compute(context.Background(), uniform(400, 300), 200, 150, "")
			if err != nil {
				t.Fatal(err)
			}
			if res.Method != MethodFocalPoint {
				t.Errorf("method: got %s, want focal point", res.Method)
			}
			if want := (Window{X: 100, Y: 75, W: 200, H: 150}); res.Window != want {
				t.Errorf("featureless image should crop the center, got %+v", res.Window)
			}
		})
	}
}

func TestCompute_DetectorErrorRecorded(t *testing.T) {
	e := New(fixedDetector{err: errors.New("service down")}, defaultConfig())
	res, _ := e.Compute(context.Background(), uniform(100, 100), 50, 50, AnchorAuto)
	if res.DetectorError != "service down" {
		t.Errorf("detector error: got %q", res.DetectorError)
	}
}

func TestCompute_RasterSmallerThanCrop(t *testing.T) {
	e := New(fixedDetector{}, defaultConfig())
	res, err := e.Compute(context.Background(), uniform(100, 80), 300, 200, AnchorAuto)
	if err != nil {
		t.Fatal(err)
	}
	if want := (Window{X: 0, Y: 0, W: 100, H: 80}); res.Window != want {
		t.Errorf("window: got %+v, want %+v", res.Window, want)
	}
}

func TestCompute_SubjectAtEdgeIsNudgedIn(t *testing.T) {
	det := fixedDetector{preds: []detection.Prediction{
		{Box: detection.Box{X: 340, Y: 0, W: 60, H: 40}, Class: "dog", Confidence: 0.8},
	}}
	e := New(det, defaultConfig())
	res, err := e.Compute(context.Background(), uniform(400, 300), 120, 100, AnchorAuto)
	if err != nil {
		t.Fatal(err)
	}
	if want := (Window{X: 280, Y: 0, W: 120, H: 100}); res.Window != want {
		t.Errorf("window: got %+v, want %+v", res.Window, want)
	}
	if !res.Subject.Box.Rect().In(res.Window.Rect()) {
		t.Errorf("subject %v clipped by window %v", res.Subject.Box.Rect(), res.Window.Rect())
	}
}

func TestCompute_ScoringPrefersWeightedClass(t *testing.T) {
	det := fixedDetector{preds: []detection.Prediction{
		{Box: detection.Box{X: 100, Y: 75, W: 200, H: 150}, Class: "car", Confidence: 0.7},
		{Box: detection.Box{X: 300, Y: 200, W: 60, H: 60}, Class: "Person", Confidence: 0.9},
	}}
	e := New(det, defaultConfig())
	res, _ := e.Compute(context.Background(), uniform(400, 300), 100, 100, AnchorAuto)
	if res.Subject == nil || res.Subject.Class != "Person" {
		t.Fatalf("weighted person should win, got %+v", res.Subject)
	}

	cfg := defaultConfig()
	cfg.ExcludedClasses = []string{"PERSON"}
	res, _ = New(det, cfg).Compute(context.Background(), uniform(400, 300), 100, 100, AnchorAuto)
	if res.Subject == nil || res.Subject.Class != "car" {
		t.Errorf("excluded person should leave the car, got %+v", res.Subject)
	}
}

func TestCompute_FocalPointFollowsEdges(t *testing.T) {
	img := uniform(200, 200)
	for y := 20; y < 60; y++ {
		for x := 20; x < 60; x++ {
			img.SetNRGBA(x, y, color.NRGBA{0, 0, 0, 255})
		}
	}
	e := New(nil, defaultConfig())
	res, err := e.Compute(context.Background(), img, 100, 100, AnchorAuto)
	if err != nil {
		t.Fatal(err)
	}
	if res.Focus.X > 70 || res.Focus.Y > 70 {
		t.Errorf("focus %v should sit on the square", res.Focus)
	}
	if res.Window.X != 0 || res.Window.Y != 0 {
		t.Errorf("window should clamp to the top-left, got %+v", res.Window)
	}
}

func TestCompute_NamedAnchors(t *testing.T) {
	e := New(fixedDetector{err: errors.New("must not be called")}, defaultConfig())
	tests := []struct {
		anchor   string
		wantName string
		x, y     int
	}{
		{"center", "center", 100, 100},
		{"top", "top", 100, 0},
		{"bottom", "bottom", 100, 200},
		{"left", "left", 0, 100},
		{"right", "right", 200, 100},
		{"top-left", "top-left", 0, 0},
		{"TOP_RIGHT", "top-right", 200, 0},
		{"bottomleft", "bottom-left", 0, 200},
		{"bottom-right", "bottom-right", 200, 200},
		{"diagonal", "center", 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.anchor, func(t *testing.T) {
			res, err := e.Compute(context.Background(), uniform(400, 300), 200, 100, tt.anchor)
			if err != nil {
				t.Fatal(err)
			}
			if res.Method != MethodAnchor || res.Anchor != tt.wantName {
				t.Errorf("got method %s anchor %q", res.Method, res.Anchor)
			}
			if res.Window.X != tt.x || res.Window.Y != tt.y {
				t.Errorf("offset: got (%d,%d), want (%d,%d)", res.Window.X, res.Window.Y, tt.x, tt.y)
			}
		})
	}
}

func TestCompute_InvalidInput(t *testing.T) {
	e := New(nil, defaultConfig())
	if _, err := e.Compute(context.Background(), uniform(10, 10), 0, 5, ""); err == nil {
		t.Error("zero width should fail")
	}
	if _, err := e.Compute(context.Background(), image.NewNRGBA(image.Rect(0, 0, 0, 0)), 5, 5, ""); err == nil {
		t.Error("empty raster should fail")
	}
}

func TestCompute_WindowAlwaysInside(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		rw, rh := 1+rng.Intn(300), 1+rng.Intn(300)
		cw, ch := 1+rng.Intn(400), 1+rng.Intn(400)
		var preds []detection.Prediction
		if rng.Intn(2) == 0 {
			preds = append(preds, detection.Prediction{
				Box:        detection.Box{X: rng.Intn(400) - 50, Y: rng.Intn(400) - 50, W: 1 + rng.Intn(200), H: 1 + rng.Intn(200)},
				Class:      "person",
				Confidence: rng.Float64(),
			})
		}
		e := New(fixedDetector{preds: preds}, defaultConfig())
		res, err := e.Compute(context.Background(), uniform(rw, rh), cw, ch, AnchorAuto)
		if err != nil {
			t.Fatal(err)
		}
		frame := image.Rect(0, 0, rw, rh)
		if !res.Window.Rect().In(frame) {
			t.Fatalf("case %d: window %v outside %v", i, res.Window.Rect(), frame)
		}
		if res.Window.W != min(cw, rw) || res.Window.H != min(ch, rh) {
			t.Fatalf("case %d: window %dx%d, want %dx%d", i, res.Window.W, res.Window.H, min(cw, rw), min(ch, rh))
		}
	}
}
