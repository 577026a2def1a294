package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return p
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "c.yaml", "log_level: debug\nupscale:\n  tile_size: 256\n  invoke_timeout: 12s\nmodels:\n  failure_threshold: 3\n"},
		{"yml", "c.yml", "log_level: debug\nupscale:\n  tile_size: 256\n  invoke_timeout: 12s\nmodels:\n  failure_threshold: 3\n"},
		{"json", "c.json", `{"log_level":"debug","upscale":{"tile_size":256,"invoke_timeout":"12s"},"models":{"failure_threshold":3}}`},
		{"toml", "c.toml", "log_level = \"debug\"\n[upscale]\ntile_size = 256\ninvoke_timeout = \"12s\"\n[models]\nfailure_threshold = 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeTemp(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.LogLevel != "debug" {
				t.Errorf("LogLevel: got %q, want debug", cfg.LogLevel)
			}
			if cfg.Upscale.TileSize != 256 {
				t.Errorf("TileSize: got %d, want 256", cfg.Upscale.TileSize)
			}
			if cfg.Upscale.InvokeTimeout.D() != 12*time.Second {
				t.Errorf("InvokeTimeout: got %v, want 12s", cfg.Upscale.InvokeTimeout.D())
			}
			if cfg.Models.FailureThreshold != 3 {
				t.Errorf("FailureThreshold: got %d, want 3", cfg.Models.FailureThreshold)
			}
			// Untouched fields keep defaults.
			if cfg.Limits.MaxTextureSize != Default().Limits.MaxTextureSize {
				t.Errorf("MaxTextureSize default lost: got %d", cfg.Limits.MaxTextureSize)
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := Load(writeTemp(t, "c.ini", "x=1")); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeTemp(t, "bad.json", "{")); err == nil {
		t.Error("expected error for malformed json")
	}
	if _, err := Load(writeTemp(t, "bad.yaml", "upscale:\n  load_timeout: soon\n")); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero texture", func(c *Config) { c.Limits.MaxTextureSize = 0 }},
		{"zero pixels", func(c *Config) { c.Limits.MaxPixels = 0 }},
		{"no scales", func(c *Config) { c.Upscale.Scales = nil }},
		{"unsorted scales", func(c *Config) { c.Upscale.Scales = []int{2, 1} }},
		{"tiny tile", func(c *Config) { c.Upscale.TileSize = 4 }},
		{"zero threshold", func(c *Config) { c.Models.FailureThreshold = 0 }},
		{"zero interval", func(c *Config) { c.Governor.Interval = 0 }},
		{"negative sample timeout", func(c *Config) { c.Governor.SampleTimeout = Duration(-time.Second) }},
		{"quality", func(c *Config) { c.Pipeline.DefaultQuality = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestGovernor_SampleTimeoutOrInterval(t *testing.T) {
	g := Default().Governor
	if got := g.SampleTimeoutOrInterval(); got != 5*time.Second {
		t.Errorf("unset: got %v, want the 5s interval", got)
	}
	g.SampleTimeout = Duration(time.Second)
	if got := g.SampleTimeoutOrInterval(); got != time.Second {
		t.Errorf("set: got %v, want 1s", got)
	}
}

func TestResolve_Env(t *testing.T) {
	t.Setenv("IMAGE_PIPELINE_LOG_LEVEL", "warn")
	t.Setenv("IMAGE_PIPELINE_DETECTOR", "contours")

	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel: got %q, want warn", cfg.LogLevel)
	}
	if cfg.Crop.Detector != "contours" {
		t.Errorf("Detector: got %q, want contours", cfg.Crop.Detector)
	}
}
