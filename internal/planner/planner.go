// Package planner decides how much a source raster has to be upscaled to
// reach a target size without breaching the raster ceilings of the device.
package planner

import (
	"fmt"
	"math"
	"sort"

	"github.com/ironsheep/image-pipeline-mcp/internal/failure"
)

// Limits are the hardware ceilings a plan must respect.
type Limits struct {
	MaxTextureSize int   // longest allowed side of any raster
	MaxPixels      int64 // largest allowed width*height
	MaxScale       int   // hard upper bound on the scale factor
}

// Plan is the outcome of planning one resize.
type Plan struct {
	// RequestedScale is max(targetW/srcW, targetH/srcH) before any clamping.
	RequestedScale float64 `json:"requested_scale"`

	// EffectiveScale is the factor the upscaler will apply. Always >= 1.
	EffectiveScale float64 `json:"effective_scale"`

	// WasClamped is set when no supported factor fit the ceilings, or when the
	// target itself had to be shrunk to fit them.
	WasClamped bool `json:"was_clamped"`

	// TargetW and TargetH are the final output dimensions.
	TargetW int `json:"target_width"`
	TargetH int `json:"target_height"`

	SourceW int `json:"source_width"`
	SourceH int `json:"source_height"`

	scales []int
}

// Upscales reports whether the plan needs an upscaler at all.
func (p Plan) Upscales() bool { return p.EffectiveScale > 1 }

// ModelScale is the supported factor used to key the model handle: the
// largest supported factor not above EffectiveScale. Returns 1 when the plan
// does not upscale.
func (p Plan) ModelScale() int {
	best := 1
	for _, s := range p.scales {
		if float64(s) <= p.EffectiveScale+1e-9 && s > best {
			best = s
		}
	}
	return best
}

// ProjectedPixels is the pixel count of the source after EffectiveScale.
func (p Plan) ProjectedPixels() int64 {
	w := int64(math.Floor(float64(p.SourceW) * p.EffectiveScale))
	h := int64(math.Floor(float64(p.SourceH) * p.EffectiveScale))
	return w * h
}

// Planner chooses scale factors from a fixed table.
type Planner struct {
	scales []int
	limits Limits
}

// New returns a Planner over the given supported factors. The factors are
// sorted ascending; factors above limits.MaxScale are dropped.
func New(scales []int, limits Limits) (*Planner, error) {
	if limits.MaxTextureSize <= 0 || limits.MaxPixels <= 0 {
		return nil, fmt.Errorf("planner limits must be positive: %+v", limits)
	}
	if limits.MaxScale < 1 {
		limits.MaxScale = 1
	}
	table := make([]int, 0, len(scales))
	for _, s := range scales {
		if s >= 1 && s <= limits.MaxScale {
			table = append(table, s)
		}
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("no supported scale within max scale %d", limits.MaxScale)
	}
	sort.Ints(table)
	return &Planner{scales: table, limits: limits}, nil
}

// Scales returns the supported factor table in ascending order.
func (p *Planner) Scales() []int {
	out := make([]int, len(p.scales))
	copy(out, p.scales)
	return out
}

// Limits returns the ceilings the planner enforces.
func (p *Planner) Limits() Limits { return p.limits }

// Plan chooses a scale for taking a srcW×srcH raster to targetW×targetH.
//
// The smallest supported factor that reaches the target and passes the
// safety check wins. If none does, the scale is clamped by direct division
// to the largest value satisfying both ceilings, bounded to [1, MaxScale].
// A target larger than the ceilings is itself shrunk, aspect preserved.
// Sources that already breach the ceilings are rejected with a
// resource-exhaustion error; the normalizer downsamples them beforehand.
func (p *Planner) Plan(srcW, srcH, targetW, targetH int) (Plan, error) {
	if srcW <= 0 || srcH <= 0 {
		return Plan{}, fmt.Errorf("invalid source size %dx%d", srcW, srcH)
	}
	if targetW <= 0 || targetH <= 0 {
		return Plan{}, fmt.Errorf("invalid target size %dx%d", targetW, targetH)
	}
	if !p.safe(srcW, srcH, 1) {
		return Plan{}, failure.Newf(failure.KindResourceExhaustion, "plan",
			"source %dx%d exceeds raster ceilings", srcW, srcH)
	}

	plan := Plan{SourceW: srcW, SourceH: srcH, scales: p.scales}

	tw, th, shrunk := p.fitTarget(targetW, targetH)
	plan.TargetW, plan.TargetH = tw, th
	plan.WasClamped = shrunk

	required := math.Max(float64(tw)/float64(srcW), float64(th)/float64(srcH))
	plan.RequestedScale = math.Max(float64(targetW)/float64(srcW), float64(targetH)/float64(srcH))

	if required <= 1 {
		plan.EffectiveScale = 1
		return plan, nil
	}

	for _, s := range p.scales {
		if float64(s) >= required && p.safe(srcW, srcH, float64(s)) {
			plan.EffectiveScale = float64(s)
			return plan, nil
		}
	}

	plan.EffectiveScale = p.clampScale(srcW, srcH)
	plan.WasClamped = true
	return plan, nil
}

// safe reports whether srcW×srcH scaled by s fits both ceilings.
func (p *Planner) safe(srcW, srcH int, s float64) bool {
	w := float64(srcW) * s
	h := float64(srcH) * s
	return w <= float64(p.limits.MaxTextureSize) &&
		h <= float64(p.limits.MaxTextureSize) &&
		w*h <= float64(p.limits.MaxPixels)
}

// clampScale is the largest scale in [1, MaxScale] satisfying both ceilings.
func (p *Planner) clampScale(srcW, srcH int) float64 {
	tex := float64(p.limits.MaxTextureSize)
	s := math.Min(tex/float64(srcW), tex/float64(srcH))
	s = math.Min(s, math.Sqrt(float64(p.limits.MaxPixels)/(float64(srcW)*float64(srcH))))
	s = math.Min(s, float64(p.limits.MaxScale))
	// Truncate to 1/1000 so floating error never lands above a ceiling.
	s = math.Floor(s*1000) / 1000
	return math.Max(s, 1)
}

// fitTarget shrinks a target that breaches the ceilings, keeping its aspect.
func (p *Planner) fitTarget(w, h int) (int, int, bool) {
	s := 1.0
	tex := float64(p.limits.MaxTextureSize)
	if fw := float64(w); fw > tex {
		s = math.Min(s, tex/fw)
	}
	if fh := float64(h); fh > tex {
		s = math.Min(s, tex/fh)
	}
	if px := float64(w) * float64(h); px > float64(p.limits.MaxPixels) {
		s = math.Min(s, math.Sqrt(float64(p.limits.MaxPixels)/px))
	}
	if s == 1 {
		return w, h, false
	}
	nw := max(int(math.Floor(float64(w)*s)), 1)
	nh := max(int(math.Floor(float64(h)*s)), 1)
	return nw, nh, true
}
