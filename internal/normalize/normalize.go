// Package normalize turns any SourceImage into a plain raster.
//
// Sources are classified once (see Classify) and dispatched to the raster,
// TIFF or vector path. Every failure that cannot be recovered ends in a
// labeled placeholder of the requested size instead of an error, so callers
// always get pixels back; the cause is reported alongside.
package normalize

import (
	"bytes"
	"context"
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"github.com/ironsheep/image-pipeline-mcp/internal/failure"
	pimg "github.com/ironsheep/image-pipeline-mcp/internal/imaging"
)

// Limits are the raster ceilings every normalized raster fits within.
type Limits struct {
	MaxTextureSize int
	MaxPixels      int64
}

// Request describes the box the caller ultimately wants. It sizes vector
// rasterization and placeholders; decoded rasters keep their own size.
type Request struct {
	Width  int
	Height int
	Fit    Fit
}

// Decoder names reported in Result.Decoder.
const (
	DecoderRaster      = "raster"
	DecoderTIFFNative  = "tiff-native"
	DecoderTIFFTags    = "tiff-tags"
	DecoderVector      = "vector"
	DecoderHint        = "placeholder-hint"
	DecoderPlaceholder = "placeholder"
)

// Result is a normalized raster plus how it was obtained.
type Result struct {
	Raster      *image.NRGBA
	Kind        Kind
	Decoder     string
	Placeholder bool

	// Downsampled is set when the decoded raster breached the ceilings and
	// was shrunk to fit.
	Downsampled bool

	// Err is the failure that forced a placeholder, or nil. A recovered
	// failure on the way to a real raster is recorded in Recovered instead.
	Err       error
	Recovered []error
}

// Detail renders Err for callers, or "" when the raster is genuine.
func (r Result) Detail() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Normalizer converts sources to rasters within fixed ceilings.
type Normalizer struct {
	limits Limits
	log    zerolog.Logger
}

// New returns a Normalizer.
func New(limits Limits, log zerolog.Logger) *Normalizer {
	return &Normalizer{limits: limits, log: log}
}

// Normalize decodes src into a raster. It never fails: unrecoverable
// problems produce a placeholder sized from req, with Placeholder set and
// Err carrying a failure.Kind.
func (n *Normalizer) Normalize(ctx context.Context, src pimg.SourceImage, req Request) Result {
	kind := Classify(src)
	log := n.log.With().Str("source", src.Name).Str("fingerprint", src.Fingerprint()).Str("kind", kind.String()).Logger()

	if err := ctx.Err(); err != nil {
		return n.placeholder(src, req, kind, failure.New(failure.KindTimeout, "normalize", err))
	}
	if len(src.Data) == 0 {
		return n.placeholder(src, req, kind, failure.Newf(failure.KindDecode, "normalize", "empty source"))
	}

	var res Result
	switch kind {
	case KindTIFF:
		res = n.normalizeTIFF(src, req)
	case KindVector:
		res = n.normalizeVector(src, req)
	default:
		res = n.normalizeRaster(src, req, kind)
	}
	res.Kind = kind

	if res.Placeholder {
		log.Warn().Str("decoder", res.Decoder).Err(res.Err).Msg("normalize fell back to placeholder")
	} else {
		log.Debug().
			Str("decoder", res.Decoder).
			Int("width", res.Raster.Rect.Dx()).
			Int("height", res.Raster.Rect.Dy()).
			Bool("downsampled", res.Downsampled).
			Msg("normalized")
	}
	return res
}

// NormalizeRaster brings an already-decoded raster into canonical form:
// *image.NRGBA, origin (0,0), within the ceilings. A raster already in that
// form is returned unchanged.
func (n *Normalizer) NormalizeRaster(img image.Image) *image.NRGBA {
	out, _ := n.fit(pimg.ToNRGBA(img))
	return out
}

func (n *Normalizer) normalizeRaster(src pimg.SourceImage, req Request, kind Kind) Result {
	img, err := imaging.Decode(bytes.NewReader(src.Data), imaging.AutoOrientation(true))
	if err != nil {
		k := failure.KindDecode
		if kind == KindLegacy || errors.Is(err, image.ErrFormat) {
			k = failure.KindUnsupportedFormat
		}
		return n.placeholder(src, req, kind, failure.New(k, "decode "+kind.String(), err))
	}
	out, shrunk := n.fit(pimg.ToNRGBA(img))
	return Result{Raster: out, Decoder: DecoderRaster, Downsampled: shrunk}
}

// normalizeTIFF runs the TIFF chain: native decoder, multi-tag decoder,
// size-hint placeholder, generic placeholder.
func (n *Normalizer) normalizeTIFF(src pimg.SourceImage, req Request) Result {
	var recovered []error

	img, err := decodeTIFFNative(src.Data, n.limits.MaxPixels*4)
	if err == nil {
		out, shrunk := n.fit(pimg.ToNRGBA(img))
		return Result{Raster: out, Decoder: DecoderTIFFNative, Downsampled: shrunk}
	}
	recovered = append(recovered, err)

	tagged, err := decodeTIFFTags(src.Data, n.limits.MaxPixels*4)
	if err == nil {
		out, shrunk := n.fit(tagged)
		return Result{Raster: out, Decoder: DecoderTIFFTags, Downsampled: shrunk, Recovered: recovered}
	}
	recovered = append(recovered, err)

	cause := failure.Newf(failure.KindDecode, "decode tiff", "%v; %v", recovered[0], recovered[1])
	res := n.placeholder(src, req, KindTIFF, cause)
	res.Recovered = recovered
	return res
}

func (n *Normalizer) normalizeVector(src pimg.SourceImage, req Request) Result {
	img, err := rasterizeSVG(src.Data, req, n.limits.MaxTextureSize, n.limits.MaxPixels)
	if err != nil {
		return n.placeholder(src, req, KindVector, failure.New(failure.KindDecode, "rasterize svg", err))
	}
	return Result{Raster: img, Decoder: DecoderVector}
}

// PlaceholderFor builds the placeholder Normalize would return for src if it
// had failed with cause. Later stages use it when they fail after decoding.
func (n *Normalizer) PlaceholderFor(src pimg.SourceImage, req Request, cause error) Result {
	return n.placeholder(src, req, Classify(src), cause)
}

// placeholder builds the fallback raster. A WxH hint in the file name sizes
// it when the request leaves room for the hint's aspect ratio.
func (n *Normalizer) placeholder(src pimg.SourceImage, req Request, kind Kind, cause error) Result {
	w, h := req.Width, req.Height
	decoder := DecoderPlaceholder

	if hw, hh, ok := sizeHintFromName(src.Name); ok {
		decoder = DecoderHint
		switch {
		case w <= 0 && h <= 0:
			w, h = hw, hh
		case req.Fit == FitContain && w > 0 && h > 0:
			w, h = pimg.ContainSize(hw, hh, w, h)
		}
	}
	if w <= 0 {
		w = h
	}
	if h <= 0 {
		h = w
	}
	w, h = fitCeilings(w, h, n.limits.MaxTextureSize, n.limits.MaxPixels)

	return Result{
		Raster:      Placeholder(w, h, src.Name, cause.Error()),
		Kind:        kind,
		Decoder:     decoder,
		Placeholder: true,
		Err:         cause,
	}
}

// fit downsamples img when it breaches the ceilings.
func (n *Normalizer) fit(img *image.NRGBA) (*image.NRGBA, bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	fw, fh := fitCeilings(w, h, n.limits.MaxTextureSize, n.limits.MaxPixels)
	if fw == w && fh == h {
		return img, false
	}
	return imaging.Resize(img, fw, fh, imaging.Lanczos), true
}

// fitCeilings shrinks w×h, aspect preserved, until it fits both ceilings.
// Zero ceilings are treated as unlimited.
func fitCeilings(w, h, maxTexture int, maxPixels int64) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	s := 1.0
	if maxTexture > 0 {
		s = math.Min(s, float64(maxTexture)/float64(w))
		s = math.Min(s, float64(maxTexture)/float64(h))
	}
	if maxPixels > 0 {
		s = math.Min(s, math.Sqrt(float64(maxPixels)/(float64(w)*float64(h))))
	}
	if s >= 1 {
		return w, h
	}
	return max(int(math.Floor(float64(w)*s)), 1), max(int(math.Floor(float64(h)*s)), 1)
}
