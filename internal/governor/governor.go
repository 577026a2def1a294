// Package governor reclaims idle model handles under memory pressure.
//
// A Governor samples accelerator memory on a fixed interval. When usage is
// above the ceiling and no handle is in use, it evicts idle handles, oldest
// idle first, until usage drops back under the ceiling or no candidates
// remain. Handles with a positive reference count are never evicted.
package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/image-pipeline-mcp/internal/clock"
	"github.com/ironsheep/image-pipeline-mcp/internal/metrics"
	"github.com/ironsheep/image-pipeline-mcp/internal/models"
)

// Pool is the view of the handle table the governor needs.
type Pool interface {
	AnyActive() bool
	IdleHandles(minIdle time.Duration) []models.HandleStatus
	Evict(scale int) bool
	EstimatedUsageMB() int
}

// Sampler reports accelerator memory in use.
type Sampler interface {
	UsedMB(ctx context.Context) (int, error)
}

// EstimateSampler sums the footprints the pool reports.
type EstimateSampler struct {
	Pool Pool
}

func (s EstimateSampler) UsedMB(context.Context) (int, error) {
	return s.Pool.EstimatedUsageMB(), nil
}

// Config wires a Governor.
type Config struct {
	Pool        Pool
	Sampler     Sampler // defaults to EstimateSampler over Pool
	Interval    time.Duration
	CeilingMB   int
	IdleTimeout time.Duration
	Clock       clock.Clock
	Logger      zerolog.Logger
}

// Governor runs memory sweeps.
type Governor struct {
	pool        Pool
	sampler     Sampler
	interval    time.Duration
	ceilingMB   int
	idleTimeout time.Duration
	clock       clock.Clock
	log         zerolog.Logger
}

// SweepResult describes one sweep.
type SweepResult struct {
	UsedMB  int    `json:"used_mb"`
	Evicted []int  `json:"evicted,omitempty"`
	Skipped string `json:"skipped,omitempty"`
}

// New validates cfg and returns a Governor.
func New(cfg Config) (*Governor, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("governor: pool is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("governor: interval must be positive")
	}
	if cfg.CeilingMB <= 0 {
		return nil, fmt.Errorf("governor: ceiling must be positive")
	}
	g := &Governor{
		pool:        cfg.Pool,
		sampler:     cfg.Sampler,
		interval:    cfg.Interval,
		ceilingMB:   cfg.CeilingMB,
		idleTimeout: cfg.IdleTimeout,
		clock:       cfg.Clock,
		log:         cfg.Logger,
	}
	if g.sampler == nil {
		g.sampler = EstimateSampler{Pool: cfg.Pool}
	}
	if g.clock == nil {
		g.clock = clock.Real()
	}
	return g, nil
}

// Sweep samples once and evicts if needed.
func (g *Governor) Sweep(ctx context.Context) (SweepResult, error) {
	used, err := g.sampler.UsedMB(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sample memory: %w", err)
	}
	metrics.SetMemoryUsage(used)
	res := SweepResult{UsedMB: used}

	if used <= g.ceilingMB {
		return res, nil
	}
	if g.pool.AnyActive() {
		res.Skipped = "handles in use"
		g.log.Debug().Int("used_mb", used).Int("ceiling_mb", g.ceilingMB).Msg("governor over ceiling, handles in use")
		return res, nil
	}

	for _, h := range g.pool.IdleHandles(g.idleTimeout) {
		if !g.pool.Evict(h.Scale) {
			continue
		}
		metrics.IncEviction()
		res.Evicted = append(res.Evicted, h.Scale)
		g.log.Info().Int("scale", h.Scale).Int("freed_mb", h.FootprintMB).Int("used_mb", used).Msg("governor evicted idle model")

		used, err = g.sampler.UsedMB(ctx)
		if err != nil {
			return res, fmt.Errorf("sample memory: %w", err)
		}
		res.UsedMB = used
		metrics.SetMemoryUsage(used)
		if used <= g.ceilingMB {
			break
		}
	}
	if len(res.Evicted) == 0 {
		res.Skipped = "no idle candidates"
	}
	return res, nil
}

// Run sweeps every interval until ctx ends. Sampling errors are logged and
// the loop continues.
func (g *Governor) Run(ctx context.Context) {
	t := g.clock.NewTicker(g.interval)
	defer t.Stop()
	g.log.Info().Dur("interval", g.interval).Int("ceiling_mb", g.ceilingMB).Msg("governor started")
	for {
		select {
		case <-ctx.Done():
			g.log.Info().Msg("governor stopped")
			return
		case <-t.C:
			if _, err := g.Sweep(ctx); err != nil {
				g.log.Warn().Err(err).Msg("governor sweep failed")
			}
		}
	}
}
