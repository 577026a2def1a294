package models

import (
	"context"
	"image"
	"sync"

	"github.com/ironsheep/image-pipeline-mcp/internal/failure"
)

// Lease is one reference on a model handle, or on the fallback upscaler.
type Lease struct {
	m        *Manager
	h        *Handle
	model    Model
	scale    int
	fallback bool
	reason   string
	once     sync.Once
}

// Name is the name of the model backing the lease.
func (l *Lease) Name() string { return l.model.Name() }

// Scale is the factor the lease was acquired for.
func (l *Lease) Scale() int { return l.scale }

// Fallback reports whether the lease wraps the classical fallback.
func (l *Lease) Fallback() bool { return l.fallback }

// Reason explains why a fallback lease was issued. Empty for accelerated
// leases.
func (l *Lease) Reason() string { return l.reason }

// Upscale invokes the leased model under the invocation timeout. Failures
// of accelerated models count against the breaker; successes decay it.
func (l *Lease) Upscale(ctx context.Context, img *image.NRGBA, scale int) (*image.NRGBA, error) {
	if l.fallback {
		return l.model.Upscale(ctx, img, scale)
	}

	ictx, cancel := context.WithTimeout(ctx, l.m.invokeTimeout)
	defer cancel()
	out, err := l.model.Upscale(ictx, img, scale)
	if err == nil && out == nil {
		err = failure.Newf(failure.KindModelUnavailable, "models.invoke", "%s returned no image", l.model.Name())
	}
	if err != nil {
		err = failure.New(failure.KindModelUnavailable, "models.invoke", err)
		l.m.recordFailure(l.scale, err)
		return nil, err
	}
	l.m.recordSuccess(l.h)
	return out, nil
}

// Release returns the reference. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		if l.h != nil {
			l.m.release(l.h)
		}
	})
}
