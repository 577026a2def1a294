package models

import (
	"context"
	"image"
	"time"
)

// State is the lifecycle state of a handle.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateIdle    State = "idle"
	StateEvicted State = "evicted"
)

// Model is an opaque upscaling backend for one scale factor.
type Model interface {
	// Name identifies the backend in logs and status output.
	Name() string

	// Upscale returns img enlarged by scale on both axes.
	Upscale(ctx context.Context, img *image.NRGBA, scale int) (*image.NRGBA, error)

	// FootprintMB is the estimated accelerator memory held while loaded.
	FootprintMB() int

	// Close releases the backend.
	Close() error
}

// Loader creates the backing model for a scale.
type Loader interface {
	Load(ctx context.Context, scale int) (Model, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, scale int) (Model, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, scale int) (Model, error) { return f(ctx, scale) }

// Prober is implemented by loaders that can check model availability
// without loading.
type Prober interface {
	Probe(ctx context.Context, scale int) error
}

// Handle is the cached, reference-counted model instance for one scale.
type Handle struct {
	Scale       int
	State       State
	RefCount    int
	LastUsed    time.Time
	IdleSince   time.Time
	FootprintMB int

	model   Model
	loaded  chan struct{} // closed when the load finishes
	loadErr error
}

// HandleStatus is a read-only projection of a Handle.
type HandleStatus struct {
	Scale       int       `json:"scale"`
	State       string    `json:"state"`
	Model       string    `json:"model,omitempty"`
	RefCount    int       `json:"ref_count"`
	LastUsed    time.Time `json:"last_used"`
	IdleSince   time.Time `json:"idle_since,omitempty"`
	FootprintMB int       `json:"footprint_mb"`
}

// Status is a snapshot of the handle table and the breaker.
type Status struct {
	Handles          []HandleStatus `json:"handles"`
	Failures         int            `json:"failures"`
	FailureThreshold int            `json:"failure_threshold"`
	BreakerOpen      bool           `json:"breaker_open"`
	UsageMB          int            `json:"usage_mb"`
	Unavailable      []int          `json:"unavailable,omitempty"`
}
