package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/image-pipeline-mcp/internal/clock"
	"github.com/ironsheep/image-pipeline-mcp/internal/failure"
	"github.com/ironsheep/image-pipeline-mcp/internal/metrics"
)

// Config wires a Manager.
type Config struct {
	// Loader creates accelerated models. Nil means every Acquire returns the
	// fallback.
	Loader Loader

	// Fallback serves breaker-open and unavailable leases. Defaults to the
	// classical Lanczos upscaler.
	Fallback Model

	FailureThreshold int
	LoadTimeout      time.Duration
	InvokeTimeout    time.Duration

	// BaseFootprintMB is multiplied by the scale for models that do not
	// report a footprint.
	BaseFootprintMB int

	Clock     clock.Clock
	Logger    zerolog.Logger
	Publisher EventPublisher
}

// Manager owns the per-scale handle table, the failure counter and the
// breaker.
type Manager struct {
	mu       sync.Mutex
	handles  map[int]*Handle
	failures int
	tripped  bool

	// unavailable holds scales the catalog check found missing. They are
	// served by the fallback without counting against the breaker.
	unavailable map[int]string

	loader        Loader
	fallback      Model
	threshold     int
	loadTimeout   time.Duration
	invokeTimeout time.Duration
	baseMB        int
	clock         clock.Clock
	log           zerolog.Logger
	publisher     EventPublisher
}

var errEvictedDuringLoad = errors.New("handle evicted during load")

// NewManager returns a Manager with defaults filled in for zero fields.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		handles:       make(map[int]*Handle),
		unavailable:   make(map[int]string),
		loader:        cfg.Loader,
		fallback:      cfg.Fallback,
		threshold:     cfg.FailureThreshold,
		loadTimeout:   cfg.LoadTimeout,
		invokeTimeout: cfg.InvokeTimeout,
		baseMB:        cfg.BaseFootprintMB,
		clock:         cfg.Clock,
		log:           cfg.Logger,
		publisher:     cfg.Publisher,
	}
	if m.fallback == nil {
		m.fallback = ClassicalModel{}
	}
	if m.threshold < 1 {
		m.threshold = 5
	}
	if m.loadTimeout <= 0 {
		m.loadTimeout = 20 * time.Second
	}
	if m.invokeTimeout <= 0 {
		m.invokeTimeout = 30 * time.Second
	}
	if m.baseMB <= 0 {
		m.baseMB = 48
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	return m
}

// Acquire returns a lease on the model for scale. It never fails: when the
// breaker is open, the load fails or ctx ends while waiting, the lease wraps
// the classical fallback and Fallback reports true. Every lease must be
// released.
func (m *Manager) Acquire(ctx context.Context, scale int) *Lease {
	if scale < 1 {
		scale = 1
	}
	for {
		m.mu.Lock()
		if m.tripped {
			m.mu.Unlock()
			return m.fallbackLease(scale, "breaker open")
		}
		if m.loader == nil {
			m.mu.Unlock()
			return m.fallbackLease(scale, "no model loader configured")
		}
		if reason, ok := m.unavailable[scale]; ok {
			m.mu.Unlock()
			return m.fallbackLease(scale, reason)
		}

		h, ok := m.handles[scale]
		if ok {
			switch h.State {
			case StateReady, StateIdle:
				h.RefCount++
				h.State = StateReady
				h.LastUsed = m.clock.Now()
				h.IdleSince = time.Time{}
				refs := h.RefCount
				m.publishCountsLocked()
				m.mu.Unlock()
				m.emit(zerolog.DebugLevel, "acquire", scale, map[string]any{"ref_count": refs})
				return &Lease{m: m, h: h, model: h.model, scale: scale}

			case StateLoading:
				wait := h.loaded
				m.mu.Unlock()
				m.emit(zerolog.DebugLevel, "acquire_wait", scale, nil)
				select {
				case <-wait:
				case <-ctx.Done():
					return m.fallbackLease(scale, ctx.Err().Error())
				}
				m.mu.Lock()
				loadErr := h.loadErr
				m.mu.Unlock()
				if loadErr != nil {
					return m.fallbackLease(scale, loadErr.Error())
				}
				continue
			}
		}

		h = &Handle{
			Scale:    scale,
			State:    StateLoading,
			LastUsed: m.clock.Now(),
			loaded:   make(chan struct{}),
		}
		m.handles[scale] = h
		m.publishCountsLocked()
		m.mu.Unlock()
		return m.load(ctx, h)
	}
}

// load runs the loader outside the lock and commits the outcome. The caller
// receives the first reference on success.
func (m *Manager) load(ctx context.Context, h *Handle) *Lease {
	start := m.clock.Now()
	m.emit(zerolog.InfoLevel, "load_start", h.Scale, nil)

	lctx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	model, err := m.loader.Load(lctx, h.Scale)
	cancel()
	if err == nil && model == nil {
		err = fmt.Errorf("loader returned no model for scale %d", h.Scale)
	}

	m.mu.Lock()
	if err != nil {
		err = failure.New(failure.KindModelUnavailable, "models.load", err)
		h.loadErr = err
		h.State = StateEvicted
		if m.handles[h.Scale] == h {
			delete(m.handles, h.Scale)
		}
		close(h.loaded)
		opened := m.failLocked()
		failures := m.failures
		m.publishCountsLocked()
		m.mu.Unlock()

		result := "error"
		if failure.IsTimeout(err) {
			result = "timeout"
		}
		metrics.IncModelLoad(h.Scale, result)
		m.emit(zerolog.WarnLevel, "load_error", h.Scale, map[string]any{"error": err.Error(), "failures": failures})
		if opened {
			m.emit(zerolog.WarnLevel, "breaker_open", h.Scale, map[string]any{"failures": failures})
		}
		return m.fallbackLease(h.Scale, err.Error())
	}

	if m.handles[h.Scale] != h {
		// Torn down while loading.
		h.loadErr = errEvictedDuringLoad
		h.State = StateEvicted
		close(h.loaded)
		m.mu.Unlock()
		_ = model.Close()
		return m.fallbackLease(h.Scale, errEvictedDuringLoad.Error())
	}

	now := m.clock.Now()
	h.model = model
	h.FootprintMB = m.footprint(model, h.Scale)
	h.State = StateReady
	h.RefCount = 1
	h.LastUsed = now
	close(h.loaded)
	m.publishCountsLocked()
	m.mu.Unlock()

	metrics.IncModelLoad(h.Scale, "ok")
	m.emit(zerolog.InfoLevel, "load_ready", h.Scale, map[string]any{
		"model":        model.Name(),
		"footprint_mb": h.FootprintMB,
		"dur_ms":       now.Sub(start).Milliseconds(),
	})
	return &Lease{m: m, h: h, model: model, scale: h.Scale}
}

func (m *Manager) footprint(model Model, scale int) int {
	if mb := model.FootprintMB(); mb > 0 {
		return mb
	}
	return m.baseMB * scale
}

func (m *Manager) fallbackLease(scale int, reason string) *Lease {
	m.emit(zerolog.DebugLevel, "fallback", scale, map[string]any{"reason": reason})
	return &Lease{m: m, model: m.fallback, scale: scale, fallback: true, reason: reason}
}

// release drops one reference. Handles reaching zero go Idle and stay cached;
// handles torn down while in use close their model on the last release.
func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	if h.RefCount > 0 {
		h.RefCount--
	}
	refs := h.RefCount
	var orphan Model
	if refs == 0 {
		if cur, ok := m.handles[h.Scale]; ok && cur == h {
			h.State = StateIdle
			h.IdleSince = m.clock.Now()
		} else if h.model != nil {
			orphan = h.model
			h.model = nil
		}
	}
	m.publishCountsLocked()
	m.mu.Unlock()

	if orphan != nil {
		_ = orphan.Close()
	}
	m.emit(zerolog.DebugLevel, "release", h.Scale, map[string]any{"ref_count": refs})
}

// recordFailure counts an invocation failure against the breaker.
func (m *Manager) recordFailure(scale int, err error) {
	m.mu.Lock()
	opened := m.failLocked()
	failures := m.failures
	m.mu.Unlock()
	m.emit(zerolog.WarnLevel, "invoke_error", scale, map[string]any{"error": err.Error(), "failures": failures})
	if opened {
		m.emit(zerolog.WarnLevel, "breaker_open", scale, map[string]any{"failures": failures})
	}
}

// recordSuccess decays the failure counter by one, never below zero. The
// breaker stays open until Reset.
func (m *Manager) recordSuccess(h *Handle) {
	m.mu.Lock()
	if m.failures > 0 {
		m.failures--
	}
	if h != nil {
		h.LastUsed = m.clock.Now()
	}
	metrics.SetBreaker(m.failures, m.tripped)
	m.mu.Unlock()
}

// failLocked increments the counter and reports whether this failure opened
// the breaker. m.mu must be held.
func (m *Manager) failLocked() bool {
	m.failures++
	opened := false
	if !m.tripped && m.failures >= m.threshold {
		m.tripped = true
		opened = true
	}
	metrics.SetBreaker(m.failures, m.tripped)
	return opened
}

// Reset clears the failure counter, closes the breaker and forgets the
// scales the catalog check marked unavailable.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.failures = 0
	m.tripped = false
	clear(m.unavailable)
	metrics.SetBreaker(0, false)
	m.mu.Unlock()
	m.emit(zerolog.InfoLevel, "reset", 0, nil)
}

// BreakerOpen reports whether acquisitions are being forced to the fallback.
func (m *Manager) BreakerOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped
}

// Evict closes the model for scale if its handle is idle. It reports whether
// a handle was evicted.
func (m *Manager) Evict(scale int) bool {
	m.mu.Lock()
	h, ok := m.handles[scale]
	if !ok || h.State != StateIdle || h.RefCount > 0 {
		m.mu.Unlock()
		return false
	}
	delete(m.handles, scale)
	h.State = StateEvicted
	model := h.model
	h.model = nil
	freed := h.FootprintMB
	m.publishCountsLocked()
	m.mu.Unlock()

	if model != nil {
		if err := model.Close(); err != nil {
			m.log.Warn().Err(err).Int("scale", scale).Msg("model close failed")
		}
	}
	m.emit(zerolog.InfoLevel, "evict", scale, map[string]any{"freed_mb": freed})
	return true
}

// Teardown evicts every handle regardless of state and resets the counters.
// Handles still leased close their model when the last lease is released;
// loads in flight are discarded on completion.
func (m *Manager) Teardown() {
	m.mu.Lock()
	var closing []Model
	for scale, h := range m.handles {
		delete(m.handles, scale)
		h.State = StateEvicted
		if h.RefCount == 0 && h.model != nil {
			closing = append(closing, h.model)
			h.model = nil
		}
	}
	m.failures = 0
	m.tripped = false
	metrics.SetBreaker(0, false)
	m.publishCountsLocked()
	m.mu.Unlock()

	for _, model := range closing {
		_ = model.Close()
	}
	m.emit(zerolog.InfoLevel, "teardown", 0, map[string]any{"closed": len(closing)})
}

// IdleHandles lists handles idle for at least minIdle, oldest idle first.
func (m *Manager) IdleHandles(minIdle time.Duration) []HandleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	var out []HandleStatus
	for _, h := range m.handles {
		if h.State != StateIdle || h.RefCount > 0 {
			continue
		}
		if now.Sub(h.IdleSince) < minIdle {
			continue
		}
		out = append(out, h.statusLocked())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IdleSince.Equal(out[j].IdleSince) {
			return out[i].Scale < out[j].Scale
		}
		return out[i].IdleSince.Before(out[j].IdleSince)
	})
	return out
}

// AnyActive reports whether any handle is leased or loading.
func (m *Manager) AnyActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handles {
		if h.RefCount > 0 || h.State == StateLoading {
			return true
		}
	}
	return false
}

// EstimatedUsageMB sums the footprints of loaded handles.
func (m *Manager) EstimatedUsageMB() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usageLocked()
}

func (m *Manager) usageLocked() int {
	total := 0
	for _, h := range m.handles {
		if h.State == StateReady || h.State == StateIdle {
			total += h.FootprintMB
		}
	}
	return total
}

// Status returns a snapshot of the handle table, ordered by scale.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Handles:          make([]HandleStatus, 0, len(m.handles)),
		Failures:         m.failures,
		FailureThreshold: m.threshold,
		BreakerOpen:      m.tripped,
		UsageMB:          m.usageLocked(),
	}
	for s := range m.unavailable {
		st.Unavailable = append(st.Unavailable, s)
	}
	sort.Ints(st.Unavailable)
	for _, h := range m.handles {
		st.Handles = append(st.Handles, h.statusLocked())
	}
	sort.Slice(st.Handles, func(i, j int) bool { return st.Handles[i].Scale < st.Handles[j].Scale })
	return st
}

func (h *Handle) statusLocked() HandleStatus {
	hs := HandleStatus{
		Scale:       h.Scale,
		State:       string(h.State),
		RefCount:    h.RefCount,
		LastUsed:    h.LastUsed,
		IdleSince:   h.IdleSince,
		FootprintMB: h.FootprintMB,
	}
	if h.model != nil {
		hs.Model = h.model.Name()
	}
	return hs
}

func (m *Manager) publishCountsLocked() {
	counts := map[string]int{
		string(StateLoading): 0,
		string(StateReady):   0,
		string(StateIdle):    0,
	}
	for _, h := range m.handles {
		counts[string(h.State)]++
	}
	metrics.SetHandleCounts(counts)
}

func (m *Manager) emit(level zerolog.Level, name string, scale int, fields map[string]any) {
	ev := m.log.WithLevel(level).Str("event", name)
	if scale > 0 {
		ev = ev.Int("scale", scale)
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg("models")

	if fields == nil {
		fields = map[string]any{}
	}
	m.publisher.Publish(Event{Name: name, Scale: scale, Fields: fields})
}
