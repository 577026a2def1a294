// Package pipeline wires the stages into the three public operations:
// Resize, Crop and SmartCrop.
//
// Every operation follows the same path. The source is normalized into a
// raster, the planner sizes the scale step, a model lease feeds the tiled
// upscaler, the crop engine picks a window when cropping, and the result
// is encoded. Stage failures degrade instead of surfacing: a failed model
// falls back to the classical upscaler, a failed detector to the focal
// point, and anything that leaves no raster to a labeled placeholder.
// Only invalid caller input and encode failures produce Succeeded=false.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/image-pipeline-mcp/internal/config"
	"github.com/ironsheep/image-pipeline-mcp/internal/detection"
	"github.com/ironsheep/image-pipeline-mcp/internal/failure"
	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
	"github.com/ironsheep/image-pipeline-mcp/internal/metrics"
	"github.com/ironsheep/image-pipeline-mcp/internal/models"
	"github.com/ironsheep/image-pipeline-mcp/internal/normalize"
	"github.com/ironsheep/image-pipeline-mcp/internal/planner"
	"github.com/ironsheep/image-pipeline-mcp/internal/smartcrop"
	"github.com/ironsheep/image-pipeline-mcp/internal/upscale"
)

// Options control the encoding of one result.
type Options struct {
	// Quality is 1-100 for lossy codecs. Zero takes the configured default.
	Quality int

	// Format is png, jpeg, webp or original. Empty takes the configured
	// default.
	Format string

	// Strict turns placeholder results into failures.
	Strict bool
}

// UpscaleReport describes how the scale step ran.
type UpscaleReport struct {
	Strategy      string                `json:"strategy"`
	ModelScale    int                   `json:"model_scale"`
	ModelFallback string                `json:"model_fallback,omitempty"`
	Tiled         bool                  `json:"tiled"`
	Tiles         int                   `json:"tiles"`
	Sharpened     bool                  `json:"sharpened"`
	Degradations  []upscale.Degradation `json:"degradations,omitempty"`
}

// Result is the terminal outcome for one source image.
type Result struct {
	Data          []byte         `json:"-"`
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	Format        imaging.Format `json:"format"`
	MediaType     string         `json:"media_type"`
	Succeeded     bool           `json:"succeeded"`
	IsPlaceholder bool           `json:"is_placeholder"`
	ErrorDetail   string         `json:"error_detail,omitempty"`
	ErrorKind     failure.Kind   `json:"error_kind,omitempty"`

	SourceKind string            `json:"source_kind,omitempty"`
	Decoder    string            `json:"decoder,omitempty"`
	Plan       *planner.Plan     `json:"plan,omitempty"`
	Upscale    *UpscaleReport    `json:"upscale,omitempty"`
	Crop       *smartcrop.Result `json:"crop,omitempty"`
}

// Config wires a Pipeline. Planner and Models are required.
type Config struct {
	Normalizer *normalize.Normalizer
	Planner    *planner.Planner
	Models     *models.Manager
	Upscaler   *upscale.Engine
	Cropper    *smartcrop.Engine

	MaxConcurrent  int
	QueueDepth     int
	MaxWait        time.Duration
	DefaultQuality int
	DefaultFormat  string
	Strict         bool

	Logger zerolog.Logger
}

// Pipeline runs image operations against shared stage instances.
type Pipeline struct {
	normalizer *normalize.Normalizer
	planner    *planner.Planner
	models     *models.Manager
	upscaler   *upscale.Engine
	cropper    *smartcrop.Engine
	adm        *admission

	quality int
	format  imaging.Format
	strict  bool
	log     zerolog.Logger

	encode func(img image.Image, f imaging.Format, quality int) ([]byte, error)
}

// New returns a Pipeline. Missing optional stages get defaults derived
// from the planner's limits.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Planner == nil {
		return nil, errors.New("pipeline: planner is required")
	}
	if cfg.Models == nil {
		return nil, errors.New("pipeline: model manager is required")
	}
	format, err := imaging.ParseFormat(cfg.DefaultFormat)
	if err != nil {
		return nil, fmt.Errorf("pipeline: default format: %w", err)
	}

	p := &Pipeline{
		normalizer: cfg.Normalizer,
		planner:    cfg.Planner,
		models:     cfg.Models,
		upscaler:   cfg.Upscaler,
		cropper:    cfg.Cropper,
		adm:        newAdmission(cfg.MaxConcurrent, cfg.QueueDepth, cfg.MaxWait),
		quality:    cfg.DefaultQuality,
		format:     format,
		strict:     cfg.Strict,
		log:        cfg.Logger,
		encode:     imaging.Encode,
	}
	if p.normalizer == nil {
		lim := cfg.Planner.Limits()
		p.normalizer = normalize.New(normalize.Limits{MaxTextureSize: lim.MaxTextureSize, MaxPixels: lim.MaxPixels}, cfg.Logger)
	}
	if p.upscaler == nil {
		p.upscaler = upscale.New(upscale.Options{Logger: cfg.Logger})
	}
	if p.cropper == nil {
		p.cropper = smartcrop.New(detection.Standin{}, cropConfig(config.Default().Crop, cfg.Logger))
	}
	if p.quality <= 0 || p.quality > 100 {
		p.quality = 82
	}
	return p, nil
}

// NewFromConfig builds every stage from cfg around an existing model
// manager and detector.
func NewFromConfig(cfg config.Config, mgr *models.Manager, det detection.Detector, log zerolog.Logger) (*Pipeline, error) {
	pl, err := planner.New(cfg.Upscale.Scales, planner.Limits{
		MaxTextureSize: cfg.Limits.MaxTextureSize,
		MaxPixels:      cfg.Limits.MaxPixels,
		MaxScale:       cfg.Limits.MaxScale,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return New(Config{
		Normalizer: normalize.New(normalize.Limits{
			MaxTextureSize: cfg.Limits.MaxTextureSize,
			MaxPixels:      cfg.Limits.MaxPixels,
		}, log.With().Str("stage", "normalize").Logger()),
		Planner: pl,
		Models:  mgr,
		Upscaler: upscale.New(upscale.Options{
			TileSize:           cfg.Upscale.TileSize,
			SharpenPixelBudget: cfg.Upscale.SharpenPixelBudget,
			Logger:             log.With().Str("stage", "upscale").Logger(),
		}),
		Cropper:        smartcrop.New(det, cropConfig(cfg.Crop, log.With().Str("stage", "smartcrop").Logger())),
		MaxConcurrent:  cfg.Pipeline.MaxConcurrent,
		QueueDepth:     cfg.Pipeline.QueueDepth,
		MaxWait:        cfg.Pipeline.MaxWait.D(),
		DefaultQuality: cfg.Pipeline.DefaultQuality,
		DefaultFormat:  cfg.Pipeline.DefaultFormat,
		Strict:         cfg.Pipeline.Strict,
		Logger:         log,
	})
}

func cropConfig(c config.Crop, log zerolog.Logger) smartcrop.Config {
	return smartcrop.Config{
		MinConfidence:   c.MinConfidence,
		ExcludedClasses: c.ExcludedClasses,
		ClassWeights:    c.ClassWeights,
		EdgeThreshold:   c.EdgeThreshold,
		EdgeMargin:      c.EdgeMargin,
		DetectTimeout:   c.DetectTimeout.D(),
		Logger:          log,
	}
}

// Models returns the manager backing the upscale leases.
func (p *Pipeline) Models() *models.Manager { return p.models }

// Status is a snapshot of the pipeline's shared state.
type Status struct {
	Running int           `json:"running"`
	Waiting int           `json:"waiting"`
	Models  models.Status `json:"models"`
}

// Status reports admission counts and the model table.
func (p *Pipeline) Status() Status {
	running, waiting := p.adm.counts()
	return Status{Running: running, Waiting: waiting, Models: p.models.Status()}
}

// Reset closes the model breaker and clears the failure counter.
func (p *Pipeline) Reset() { p.models.Reset() }

// Resize scales src so its longer side equals dimension, aspect preserved.
func (p *Pipeline) Resize(ctx context.Context, src imaging.SourceImage, dimension int, opts Options) Result {
	if dimension <= 0 {
		return p.invalid("resize", src, fmt.Errorf("dimension must be positive, got %d", dimension))
	}
	req := normalize.Request{Width: dimension, Height: dimension, Fit: normalize.FitContain}
	return p.run(ctx, "resize", src, req, opts, func(ctx context.Context, j *job) error {
		w, h := imaging.FitWithin(j.raster.Rect.Dx(), j.raster.Rect.Dy(), dimension)
		return p.scale(ctx, j, w, h)
	})
}

// Crop cuts a window of the source with the width:height aspect, placed by
// anchor, and scales it to exactly width×height. The reported window is in
// source coordinates. An empty anchor means center; "auto" means SmartCrop.
func (p *Pipeline) Crop(ctx context.Context, src imaging.SourceImage, width, height int, anchor string, opts Options) Result {
	if anchor == "" {
		anchor = "center"
	}
	return p.crop(ctx, "crop", src, width, height, anchor, opts)
}

// SmartCrop is Crop with the window placed on the detected subject, or on
// the edge-density focal point when nothing qualifies.
func (p *Pipeline) SmartCrop(ctx context.Context, src imaging.SourceImage, width, height int, opts Options) Result {
	return p.crop(ctx, "smart_crop", src, width, height, smartcrop.AnchorAuto, opts)
}

func (p *Pipeline) crop(ctx context.Context, op string, src imaging.SourceImage, width, height int, anchor string, opts Options) Result {
	if width <= 0 || height <= 0 {
		return p.invalid(op, src, fmt.Errorf("crop size must be positive, got %dx%d", width, height))
	}
	req := normalize.Request{Width: width, Height: height, Fit: normalize.FitCover}
	return p.run(ctx, op, src, req, opts, func(ctx context.Context, j *job) error {
		cr, err := p.placeWindow(ctx, j.raster, width, height, anchor)
		if err != nil {
			return failure.New(failure.KindUnknown, "pipeline.crop", err)
		}
		region, err := imaging.Crop(j.raster, cr.Window.Rect())
		if err != nil {
			return failure.New(failure.KindUnknown, "pipeline.crop", err)
		}
		j.raster = region
		j.res.Crop = &cr
		return p.scale(ctx, j, width, height)
	})
}

// placeWindow picks the crop window in source coordinates. Analysis runs on
// the source scaled to cover width×height when that shrinks it, and on the
// source itself otherwise; only the chosen region is ever upscaled.
func (p *Pipeline) placeWindow(ctx context.Context, src *image.NRGBA, width, height int, anchor string) (smartcrop.Result, error) {
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	cw, ch := imaging.CoverSize(sw, sh, width, height)

	if cw <= sw && ch <= sh {
		view := src
		if cw < sw || ch < sh {
			view = imaging.Resize(src, cw, ch)
		}
		cr, err := p.cropper.Compute(ctx, view, width, height, anchor)
		if err != nil {
			return smartcrop.Result{}, err
		}
		return mapResult(cr, sw, sh, cw, ch), nil
	}

	ww := clampInt(int(math.Round(float64(width)*float64(sw)/float64(cw))), 1, sw)
	wh := clampInt(int(math.Round(float64(height)*float64(sh)/float64(ch))), 1, sh)
	return p.cropper.Compute(ctx, src, ww, wh, anchor)
}

// mapResult rescales a result computed on a vw×vh view onto the sw×sh
// source.
func mapResult(cr smartcrop.Result, sw, sh, vw, vh int) smartcrop.Result {
	if sw == vw && sh == vh {
		return cr
	}
	fx := float64(sw) / float64(vw)
	fy := float64(sh) / float64(vh)
	mapRect := func(r image.Rectangle) image.Rectangle {
		x0 := clampInt(int(math.Round(float64(r.Min.X)*fx)), 0, sw-1)
		y0 := clampInt(int(math.Round(float64(r.Min.Y)*fy)), 0, sh-1)
		x1 := clampInt(int(math.Round(float64(r.Max.X)*fx)), x0+1, sw)
		y1 := clampInt(int(math.Round(float64(r.Max.Y)*fy)), y0+1, sh)
		return image.Rect(x0, y0, x1, y1)
	}

	win := mapRect(cr.Window.Rect())
	cr.Window = smartcrop.Window{X: win.Min.X, Y: win.Min.Y, W: win.Dx(), H: win.Dy()}
	cr.Focus = image.Pt(
		clampInt(int(math.Round(float64(cr.Focus.X)*fx)), 0, sw-1),
		clampInt(int(math.Round(float64(cr.Focus.Y)*fy)), 0, sh-1),
	)
	if cr.Subject != nil {
		subject := *cr.Subject
		subject.Box = detection.BoxFromRect(mapRect(subject.Box.Rect()))
		cr.Subject = &subject
	}
	return cr
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// job carries one request through the stages.
type job struct {
	src    imaging.SourceImage
	req    normalize.Request
	raster *image.NRGBA
	kind   normalize.Kind
	res    Result
}

type stageFunc func(ctx context.Context, j *job) error

func (p *Pipeline) run(ctx context.Context, op string, src imaging.SourceImage, req normalize.Request, opts Options, stages stageFunc) Result {
	start := time.Now()
	log := p.log.With().Str("op", op).Str("source", src.Name).Str("fingerprint", src.Fingerprint()).Logger()

	format := p.format
	if opts.Format != "" {
		f, err := imaging.ParseFormat(opts.Format)
		if err != nil {
			return p.invalid(op, src, err)
		}
		format = f
	}
	quality := opts.Quality
	if quality <= 0 {
		quality = p.quality
	}
	strict := opts.Strict || p.strict

	j := &job{src: src, req: req, kind: normalize.Classify(src)}

	done, err := p.adm.enter(ctx)
	if err != nil {
		p.degrade(j, err)
	} else {
		p.process(ctx, j, stages)
		done()
	}

	res := p.finish(j, format, quality, strict)
	outcome := outcomeOf(res)
	metrics.ObserveRequest(op, outcome, time.Since(start))

	ev := log.Info()
	if !res.Succeeded || res.IsPlaceholder {
		ev = log.Warn().Str("error", res.ErrorDetail).Str("kind", string(res.ErrorKind))
	}
	ev.Str("event", "request_done").
		Str("outcome", outcome).
		Int("width", res.Width).
		Int("height", res.Height).
		Str("format", string(res.Format)).
		Dur("elapsed", time.Since(start)).
		Msg("request finished")
	return res
}

// process runs normalization and the operation's stages. Any stage error
// replaces the raster with a placeholder.
func (p *Pipeline) process(ctx context.Context, j *job, stages stageFunc) {
	norm := p.normalizer.Normalize(ctx, j.src, j.req)
	j.kind = norm.Kind
	j.res.SourceKind = norm.Kind.String()
	j.res.Decoder = norm.Decoder
	if norm.Placeholder {
		j.raster = norm.Raster
		j.res.IsPlaceholder = true
		j.res.ErrorDetail = norm.Detail()
		j.res.ErrorKind = failure.KindOf(norm.Err)
		return
	}

	j.raster = norm.Raster
	if err := stages(ctx, j); err != nil {
		p.degrade(j, err)
	}
}

// degrade swaps the raster for a placeholder describing err.
func (p *Pipeline) degrade(j *job, err error) {
	ph := p.normalizer.PlaceholderFor(j.src, j.req, err)
	j.raster = ph.Raster
	j.res.Decoder = ph.Decoder
	j.res.IsPlaceholder = true
	j.res.ErrorDetail = err.Error()
	j.res.ErrorKind = failure.KindOf(err)
}

// scale plans and runs the resolution change to w×h.
func (p *Pipeline) scale(ctx context.Context, j *job, w, h int) error {
	src := j.raster
	plan, err := p.planner.Plan(src.Rect.Dx(), src.Rect.Dy(), w, h)
	if err != nil {
		return err
	}
	j.res.Plan = &plan

	modelScale := plan.ModelScale()
	var strategies []upscale.Upscaler
	report := &UpscaleReport{ModelScale: modelScale}
	if modelScale > 1 {
		lease := p.models.Acquire(ctx, modelScale)
		defer lease.Release()
		strategies = append(strategies, lease)
		if lease.Fallback() {
			report.ModelFallback = lease.Reason()
		} else {
			strategies = append(strategies, models.ClassicalModel{})
		}
	}

	out, err := p.upscaler.Run(ctx, src, plan.TargetW, plan.TargetH, modelScale, strategies)
	if err != nil {
		kind := failure.KindUnknown
		if errors.Is(err, context.DeadlineExceeded) {
			kind = failure.KindTimeout
		}
		return failure.New(kind, "pipeline.upscale", err)
	}
	report.Strategy = out.Strategy
	report.Tiled = out.Tiled
	report.Tiles = out.Tiles
	report.Sharpened = out.Sharpened
	report.Degradations = out.Degradations
	j.res.Upscale = report
	j.raster = out.Raster
	return nil
}

// finish encodes the raster and settles the result flags.
func (p *Pipeline) finish(j *job, format imaging.Format, quality int, strict bool) Result {
	res := j.res
	res.Format = resolveFormat(format, j.src, j.kind)
	res.MediaType = res.Format.MediaType()
	res.Width = j.raster.Rect.Dx()
	res.Height = j.raster.Rect.Dy()

	if res.IsPlaceholder && strict {
		res.Succeeded = false
		return res
	}

	data, err := p.encode(j.raster, res.Format, quality)
	if err != nil {
		res.Succeeded = false
		res.ErrorDetail = err.Error()
		res.ErrorKind = failure.KindOf(err)
		return res
	}
	res.Data = data
	res.Succeeded = true
	return res
}

// invalid reports caller errors. No image is produced.
func (p *Pipeline) invalid(op string, src imaging.SourceImage, err error) Result {
	metrics.ObserveRequest(op, "invalid", 0)
	p.log.Warn().Str("op", op).Str("source", src.Name).Err(err).Msg("rejected request")
	return Result{Succeeded: false, ErrorDetail: err.Error()}
}

func outcomeOf(r Result) string {
	switch {
	case !r.Succeeded:
		return "failed"
	case r.IsPlaceholder:
		return "placeholder"
	default:
		return "ok"
	}
}
