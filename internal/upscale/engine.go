// Package upscale runs a scale plan against a raster.
//
// Small outputs are upscaled in one pass. Outputs larger than the sharpen
// pixel budget are split into square tiles; each tile's source rectangle is
// found by inverse scaling, upscaled, resampled to the exact tile size,
// sharpened on its own and blitted into the canvas. Upscalers are tried in
// order: a failing strategy is dropped for the rest of the request and the
// next one takes over from the tile that failed.
package upscale

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
	"github.com/ironsheep/image-pipeline-mcp/internal/metrics"
)

// Upscaler enlarges an image by an integer factor.
type Upscaler interface {
	Name() string
	Upscale(ctx context.Context, img *image.NRGBA, scale int) (*image.NRGBA, error)
}

// Resample is the strategy of last resort: a direct high-quality resample
// to the target size. It is used when every configured upscaler failed.
const Resample = "resample"

// Degradation records one strategy being abandoned.
type Degradation struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Tile  int    `json:"tile"`
	Error string `json:"error"`
}

// Result is the upscaled raster plus how it was produced.
type Result struct {
	Raster       *image.NRGBA
	Strategy     string
	Tiled        bool
	Tiles        int
	Sharpened    bool
	Degradations []Degradation
}

// Options configures an Engine.
type Options struct {
	TileSize           int
	SharpenPixelBudget int64
	Logger             zerolog.Logger
}

// Engine executes upscales.
type Engine struct {
	tileSize int
	budget   int64
	log      zerolog.Logger
}

// New returns an Engine. Zero options take the defaults (512 px tiles,
// 2048×2048 budget).
func New(opts Options) *Engine {
	e := &Engine{tileSize: opts.TileSize, budget: opts.SharpenPixelBudget, log: opts.Logger}
	if e.tileSize <= 0 {
		e.tileSize = 512
	}
	if e.budget <= 0 {
		e.budget = 2048 * 2048
	}
	return e
}

// Run produces a targetW×targetH raster from src. scale is the integer model
// factor; the model output is resampled to the exact target, so fractional
// plans pass the largest factor not above the effective scale.
func (e *Engine) Run(ctx context.Context, src *image.NRGBA, targetW, targetH, scale int, strategies []Upscaler) (Result, error) {
	if src == nil || src.Bounds().Empty() {
		return Result{}, fmt.Errorf("upscale: empty source")
	}
	if targetW <= 0 || targetH <= 0 {
		return Result{}, fmt.Errorf("upscale: invalid target %dx%d", targetW, targetH)
	}
	if scale < 1 {
		scale = 1
	}

	r := &run{engine: e, scale: scale, strategies: strategies}
	var res Result
	if scale == 1 {
		// Plain resample; no model and nothing to sharpen.
		res.Raster = imaging.Resize(src, targetW, targetH)
		res.Tiles = 1
		res.Strategy = Resample
		return res, nil
	}
	if int64(targetW)*int64(targetH) <= e.budget {
		res.Raster = r.region(ctx, src, targetW, targetH, 0)
		res.Tiles = 1
	} else {
		raster, tiles, err := e.tiled(ctx, r, src, targetW, targetH)
		if err != nil {
			return Result{}, err
		}
		res.Raster, res.Tiles = raster, tiles
		res.Tiled = true
	}
	res.Sharpened = true
	res.Strategy = r.current()
	res.Degradations = r.degradations
	return res, nil
}

// tiled upscales tile by tile and stops with ctx's error once ctx is done.
func (e *Engine) tiled(ctx context.Context, r *run, src *image.NRGBA, tw, th int) (*image.NRGBA, int, error) {
	canvas := imaging.Wrap(image.NewNRGBA(image.Rect(0, 0, tw, th)))
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()

	n := 0
	for y := 0; y < th; y += e.tileSize {
		for x := 0; x < tw; x += e.tileSize {
			if err := ctx.Err(); err != nil {
				return nil, n, fmt.Errorf("upscale: canceled after %d tiles: %w", n, err)
			}
			dst := image.Rect(x, y, min(x+e.tileSize, tw), min(y+e.tileSize, th))
			srcRect := inverseScale(dst, sw, sh, tw, th).Add(sb.Min)
			part := src.SubImage(srcRect).(*image.NRGBA)
			tile := r.region(ctx, imaging.ToNRGBA(part), dst.Dx(), dst.Dy(), n)
			canvas.Draw(tile, dst, tile.Bounds())
			n++
		}
	}
	e.log.Debug().Int("tiles", n).Int("width", tw).Int("height", th).Msg("tiled upscale")
	return canvas.Raster(), n, nil
}

// inverseScale maps a target rectangle back to the covering source
// rectangle, never empty.
func inverseScale(dst image.Rectangle, sw, sh, tw, th int) image.Rectangle {
	x0 := dst.Min.X * sw / tw
	y0 := dst.Min.Y * sh / th
	x1 := (dst.Max.X*sw + tw - 1) / tw
	y1 := (dst.Max.Y*sh + th - 1) / th
	x1 = max(min(x1, sw), x0+1)
	y1 = max(min(y1, sh), y0+1)
	return image.Rect(x0, y0, x1, y1)
}

// run carries the strategy cursor across the tiles of one request.
type run struct {
	engine       *Engine
	scale        int
	strategies   []Upscaler
	next         int
	degradations []Degradation
}

func (r *run) current() string {
	if r.next < len(r.strategies) {
		return r.strategies[r.next].Name()
	}
	return Resample
}

// region upscales img to exactly w×h with the current strategy, falling
// through the list on failure.
func (r *run) region(ctx context.Context, img *image.NRGBA, w, h, tile int) *image.NRGBA {
	up := img
	for r.next < len(r.strategies) {
		s := r.strategies[r.next]
		out, err := s.Upscale(ctx, img, r.scale)
		if err == nil && out != nil && !out.Bounds().Empty() {
			up = out
			break
		}
		if err == nil {
			err = fmt.Errorf("%s returned no image", s.Name())
		}
		r.next++
		to := r.current()
		r.degradations = append(r.degradations, Degradation{From: s.Name(), To: to, Tile: tile, Error: err.Error()})
		metrics.IncDegradation("upscale", to)
		r.engine.log.Warn().Err(err).Str("from", s.Name()).Str("to", to).Int("tile", tile).Msg("upscale strategy failed")
	}
	return Sharpen(imaging.Resize(up, w, h))
}
