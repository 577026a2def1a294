package upscale

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/ironsheep/image-pipeline-mcp/internal/models"
)

// flaky succeeds for the first ok calls, then fails.
type flaky struct {
	name  string
	ok    int
	calls int
}

func (f *flaky) Name() string { return f.name }

func (f *flaky) Upscale(ctx context.Context, img *image.NRGBA, scale int) (*image.NRGBA, error) {
	f.calls++
	if f.calls > f.ok {
		return nil, errors.New("device lost")
	}
	return models.ClassicalModel{}.Upscale(ctx, img, scale)
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 255 / w), uint8(y * 255 / h), 128, 255})
		}
	}
	return img
}

func TestRun_WholeImage(t *testing.T) {
	e := New(Options{})
	res, err := e.Run(context.Background(), gradient(10, 8), 20, 16, 2, []Upscaler{models.ClassicalModel{}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Raster.Bounds() != image.Rect(0, 0, 20, 16) {
		t.Errorf("bounds: got %v", res.Raster.Bounds())
	}
	if res.Tiled || res.Tiles != 1 {
		t.Errorf("small output should not tile: %+v", res)
	}
	if res.Strategy != "classical-lanczos" || !res.Sharpened || len(res.Degradations) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRun_TilesAboveBudget(t *testing.T) {
	e := New(Options{TileSize: 32, SharpenPixelBudget: 100 * 100})
	res, err := e.Run(context.Background(), gradient(30, 20), 120, 80, 4, []Upscaler{models.ClassicalModel{}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Tiled || res.Tiles != 12 {
		t.Errorf("tiles: got tiled=%v n=%d, want 12", res.Tiled, res.Tiles)
	}
	if res.Raster.Bounds() != image.Rect(0, 0, 120, 80) {
		t.Errorf("bounds: got %v", res.Raster.Bounds())
	}
	// Every tile was blitted: no transparent gaps.
	for y := 0; y < 80; y++ {
		for x := 0; x < 120; x++ {
			if res.Raster.NRGBAAt(x, y).A == 0 {
				t.Fatalf("pixel (%d,%d) was never written", x, y)
			}
		}
	}
}

func TestRun_DegradesMidway(t *testing.T) {
	accel := &flaky{name: "accelerated", ok: 3}
	e := New(Options{TileSize: 16, SharpenPixelBudget: 32 * 32})
	res, err := e.Run(context.Background(), gradient(16, 16), 64, 64, 4, []Upscaler{accel, models.ClassicalModel{}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Degradations) != 1 {
		t.Fatalf("degradations: got %+v", res.Degradations)
	}
	d := res.Degradations[0]
	if d.From != "accelerated" || d.To != "classical-lanczos" || d.Tile != 3 {
		t.Errorf("degradation: got %+v", d)
	}
	if accel.calls != 4 {
		t.Errorf("failed strategy must not be retried, got %d calls", accel.calls)
	}
	if res.Strategy != "classical-lanczos" {
		t.Errorf("strategy: got %q", res.Strategy)
	}
}

// canceling cancels the request after its first tile.
type canceling struct {
	cancel context.CancelFunc
	calls  int
}

func (c *canceling) Name() string { return "canceling" }

func (c *canceling) Upscale(ctx context.Context, img *image.NRGBA, scale int) (*image.NRGBA, error) {
	c.calls++
	c.cancel()
	return models.ClassicalModel{}.Upscale(ctx, img, scale)
}

func TestRun_TiledStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &canceling{cancel: cancel}

	e := New(Options{TileSize: 16, SharpenPixelBudget: 32 * 32})
	_, err := e.Run(ctx, gradient(16, 16), 64, 64, 4, []Upscaler{s})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if s.calls != 1 {
		t.Errorf("tiles after cancel: got %d calls, want 1", s.calls)
	}
}

func TestRun_AllStrategiesFail(t *testing.T) {
	e := New(Options{})
	res, err := e.Run(context.Background(), gradient(8, 8), 24, 24, 3, []Upscaler{&flaky{name: "a"}, &flaky{name: "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != Resample || len(res.Degradations) != 2 {
		t.Errorf("got strategy %q with %d degradations", res.Strategy, len(res.Degradations))
	}
	if res.Raster.Bounds() != image.Rect(0, 0, 24, 24) {
		t.Errorf("bounds: got %v", res.Raster.Bounds())
	}
}

func TestRun_OneXResamples(t *testing.T) {
	accel := &flaky{name: "accelerated", ok: 100}
	res, err := New(Options{}).Run(context.Background(), gradient(40, 30), 20, 15, 1, []Upscaler{accel})
	if err != nil {
		t.Fatal(err)
	}
	if accel.calls != 0 || res.Strategy != Resample || res.Sharpened {
		t.Errorf("1x should bypass models: calls=%d %+v", accel.calls, res)
	}
	if res.Raster.Bounds() != image.Rect(0, 0, 20, 15) {
		t.Errorf("bounds: got %v", res.Raster.Bounds())
	}
}

func TestRun_InvalidInput(t *testing.T) {
	e := New(Options{})
	if _, err := e.Run(context.Background(), image.NewNRGBA(image.Rect(0, 0, 0, 0)), 10, 10, 2, nil); err == nil {
		t.Error("empty source should fail")
	}
	if _, err := e.Run(context.Background(), gradient(4, 4), 0, 10, 2, nil); err == nil {
		t.Error("zero target should fail")
	}
}

func TestInverseScale_CoversTarget(t *testing.T) {
	tests := []struct {
		sw, sh, tw, th int
	}{
		{30, 20, 120, 80},
		{7, 3, 100, 41},
		{1, 1, 64, 64},
		{100, 100, 333, 333},
	}
	for _, tt := range tests {
		for y := 0; y < tt.th; y += 16 {
			for x := 0; x < tt.tw; x += 16 {
				dst := image.Rect(x, y, min(x+16, tt.tw), min(y+16, tt.th))
				r := inverseScale(dst, tt.sw, tt.sh, tt.tw, tt.th)
				if r.Empty() || !r.In(image.Rect(0, 0, tt.sw, tt.sh)) {
					t.Errorf("%dx%d->%dx%d tile %v: source rect %v out of bounds", tt.sw, tt.sh, tt.tw, tt.th, dst, r)
				}
			}
		}
	}
}

func TestSharpen(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 5))
	for i := range img.Pix {
		img.Pix[i] = 100
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}
	img.SetNRGBA(2, 2, color.NRGBA{200, 200, 200, 255})
	img.SetNRGBA(0, 0, color.NRGBA{10, 20, 30, 255})

	out := Sharpen(img)
	if c := out.NRGBAAt(2, 2); c.R != 250 || c.A != 255 {
		t.Errorf("center: got %v, want 250", c)
	}
	if c := out.NRGBAAt(0, 0); c != (color.NRGBA{10, 20, 30, 255}) {
		t.Errorf("border pixel must be untouched, got %v", c)
	}
	if c := out.NRGBAAt(3, 3); c.R != 100 {
		t.Errorf("flat region should stay flat, got %v", c)
	}

	spike := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	for i := 3; i < len(spike.Pix); i += 4 {
		spike.Pix[i] = 255
	}
	spike.SetNRGBA(1, 1, color.NRGBA{255, 255, 255, 255})
	if c := Sharpen(spike).NRGBAAt(1, 1); c.R != 255 {
		t.Errorf("result must clamp to 255, got %v", c)
	}

	small := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	if Sharpen(small) != small {
		t.Error("rasters without interior pixels are returned as is")
	}
}
