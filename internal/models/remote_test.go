package models

import (
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
)

// fakeModelService serves x2 only. Upscale responses are the uploaded image
// enlarged with the classical model.
func fakeModelService(t *testing.T, unloads *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/models/", func(w http.ResponseWriter, r *http.Request) {
		scale := strings.TrimPrefix(r.URL.Path, "/v1/models/")
		if scale != "2" {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodDelete {
			unloads.Add(1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"esrgan-x2","scale":2,"footprint_mb":320}`))
	})
	mux.HandleFunc("/v1/upscale", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("scale") != "2" {
			http.Error(w, "bad scale", http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		src, err := png.Decode(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out, _ := ClassicalModel{}.Upscale(r.Context(), imaging.ToNRGBA(src), 2)
		w.Header().Set("Content-Type", "image/png")
		png.Encode(w, out)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteLoader_LoadInvokeClose(t *testing.T) {
	var unloads atomic.Int32
	srv := fakeModelService(t, &unloads)
	loader := NewRemoteLoader(srv.URL+"/", srv.Client())
	ctx := context.Background()

	model, err := loader.Load(ctx, 2)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if model.Name() != "esrgan-x2" || model.FootprintMB() != 320 {
		t.Errorf("model info: got %s/%d", model.Name(), model.FootprintMB())
	}

	out, err := model.Upscale(ctx, image.NewNRGBA(image.Rect(0, 0, 10, 6)), 2)
	if err != nil {
		t.Fatalf("Upscale failed: %v", err)
	}
	if out.Bounds() != image.Rect(0, 0, 20, 12) {
		t.Errorf("bounds: got %v, want 20x12", out.Bounds())
	}
	if _, err := model.Upscale(ctx, image.NewNRGBA(image.Rect(0, 0, 2, 2)), 4); err == nil {
		t.Error("wrong scale should fail")
	}

	if err := model.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if unloads.Load() != 1 {
		t.Errorf("unload requests: got %d, want 1", unloads.Load())
	}
}

func TestRemoteLoader_MissingScale(t *testing.T) {
	var unloads atomic.Int32
	srv := fakeModelService(t, &unloads)
	loader := NewRemoteLoader(srv.URL, srv.Client())

	_, err := loader.Load(context.Background(), 3)
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestRemoteLoader_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	loader := NewRemoteLoader(srv.URL, srv.Client())

	if err := loader.CheckHealth(context.Background()); err == nil {
		t.Fatal("expected health failure")
	}
	m := NewManager(Config{Loader: loader})
	l := m.Acquire(context.Background(), 2)
	defer l.Release()
	if !l.Fallback() {
		t.Error("unhealthy service should yield a fallback lease")
	}
}

func TestManager_RemoteFootprint(t *testing.T) {
	var unloads atomic.Int32
	srv := fakeModelService(t, &unloads)
	m := NewManager(Config{Loader: NewRemoteLoader(srv.URL, srv.Client())})

	l := m.Acquire(context.Background(), 2)
	if l.Fallback() {
		t.Fatalf("expected remote lease, got fallback: %s", l.Reason())
	}
	l.Release()
	if got := m.EstimatedUsageMB(); got != 320 {
		t.Errorf("usage: got %d, want 320", got)
	}
	m.Evict(2)
	if unloads.Load() != 1 {
		t.Errorf("eviction should unload the remote model, got %d unloads", unloads.Load())
	}
}

func TestVerifyCatalog(t *testing.T) {
	var unloads atomic.Int32
	srv := fakeModelService(t, &unloads)
	m := NewManager(Config{Loader: NewRemoteLoader(srv.URL, srv.Client())})

	missing := m.VerifyCatalog(context.Background(), []int{8, 1, 2, 4})
	if len(missing) != 2 {
		t.Fatalf("missing: got %v, want x4 and x8", missing)
	}
	for _, s := range []int{4, 8} {
		if !errors.Is(missing[s], ErrModelNotFound) {
			t.Errorf("x%d: got %v", s, missing[s])
		}
	}
	if _, ok := missing[1]; ok {
		t.Error("1x needs no model and should not be probed")
	}

	classical := NewManager(Config{Loader: ClassicalLoader{}})
	if got := classical.VerifyCatalog(context.Background(), []int{2, 4}); len(got) != 0 {
		t.Errorf("non-probing loader should report nothing missing, got %v", got)
	}
}

func TestVerifyCatalog_MissingScaleDoesNotTripBreaker(t *testing.T) {
	var unloads atomic.Int32
	srv := fakeModelService(t, &unloads)
	m := NewManager(Config{Loader: NewRemoteLoader(srv.URL, srv.Client()), FailureThreshold: 3})

	if missing := m.VerifyCatalog(context.Background(), []int{2, 8}); len(missing) != 1 {
		t.Fatalf("missing: got %v, want x8 only", missing)
	}
	for i := 0; i < 10; i++ {
		l := m.Acquire(context.Background(), 8)
		if !l.Fallback() || !strings.Contains(l.Reason(), "not in catalog") {
			t.Fatalf("x8 acquire %d: fallback=%v reason=%q", i, l.Fallback(), l.Reason())
		}
		l.Release()
	}

	st := m.Status()
	if st.BreakerOpen || st.Failures != 0 {
		t.Fatalf("catalog misses counted against the breaker: open=%v failures=%d", st.BreakerOpen, st.Failures)
	}
	if len(st.Unavailable) != 1 || st.Unavailable[0] != 8 {
		t.Errorf("unavailable: got %v, want [8]", st.Unavailable)
	}

	l := m.Acquire(context.Background(), 2)
	if l.Fallback() {
		t.Errorf("x2 should use the remote model, got fallback %q", l.Reason())
	}
	l.Release()

	m.Reset()
	if st := m.Status(); len(st.Unavailable) != 0 {
		t.Errorf("reset should forget unavailable scales, got %v", st.Unavailable)
	}
	l = m.Acquire(context.Background(), 8)
	if !l.Fallback() || strings.Contains(l.Reason(), "not in catalog") {
		t.Errorf("after reset x8 should be attempted again, reason=%q", l.Reason())
	}
	l.Release()
	if m.Status().Failures != 1 {
		t.Errorf("failed load after reset should count once, got %d", m.Status().Failures)
	}
}

func TestClassicalModel(t *testing.T) {
	ctx := context.Background()
	src := image.NewNRGBA(image.Rect(0, 0, 5, 3))

	out, err := ClassicalModel{}.Upscale(ctx, src, 3)
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds() != image.Rect(0, 0, 15, 9) {
		t.Errorf("bounds: got %v", out.Bounds())
	}
	same, _ := ClassicalModel{}.Upscale(ctx, src, 1)
	if same != src {
		t.Error("1x should return the input")
	}
	if _, err := (ClassicalModel{}).Upscale(ctx, src, 0); err == nil {
		t.Error("scale 0 should fail")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := (ClassicalModel{}).Upscale(canceled, src, 2); err == nil {
		t.Error("canceled context should fail")
	}
}
