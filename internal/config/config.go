// Package config holds the runtime configuration for the image pipeline.
//
// A Config starts from Default(), is overlaid with an optional file
// (.yaml/.yml, .json or .toml), then with environment variables, and
// finally with CLI flags set by cmd/image-pipeline.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from Go duration strings
// ("30s", "1m") in every supported file format.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Limits are the hardware raster ceilings every plan must respect.
type Limits struct {
	MaxTextureSize int   `json:"max_texture_size" yaml:"max_texture_size" toml:"max_texture_size"`
	MaxPixels      int64 `json:"max_pixels" yaml:"max_pixels" toml:"max_pixels"`
	MaxScale       int   `json:"max_scale" yaml:"max_scale" toml:"max_scale"`
}

// Upscale configures the planner, the tiled engine and the model service.
type Upscale struct {
	Scales             []int    `json:"scales" yaml:"scales" toml:"scales"`
	TileSize           int      `json:"tile_size" yaml:"tile_size" toml:"tile_size"`
	SharpenPixelBudget int64    `json:"sharpen_pixel_budget" yaml:"sharpen_pixel_budget" toml:"sharpen_pixel_budget"`
	ModelURL           string   `json:"model_url" yaml:"model_url" toml:"model_url"`
	LoadTimeout        Duration `json:"load_timeout" yaml:"load_timeout" toml:"load_timeout"`
	InvokeTimeout      Duration `json:"invoke_timeout" yaml:"invoke_timeout" toml:"invoke_timeout"`
	BaseFootprintMB    int      `json:"base_footprint_mb" yaml:"base_footprint_mb" toml:"base_footprint_mb"`
}

// Models configures the handle table and breaker.
type Models struct {
	FailureThreshold int      `json:"failure_threshold" yaml:"failure_threshold" toml:"failure_threshold"`
	IdleTimeout      Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout"`
}

// Governor configures the memory sweep.
type Governor struct {
	Interval   Duration `json:"interval" yaml:"interval" toml:"interval"`
	CeilingMB  int      `json:"ceiling_mb" yaml:"ceiling_mb" toml:"ceiling_mb"`
	SamplerURL string   `json:"sampler_url" yaml:"sampler_url" toml:"sampler_url"`

	// SampleTimeout bounds each remote usage query. Zero means Interval.
	SampleTimeout Duration `json:"sample_timeout" yaml:"sample_timeout" toml:"sample_timeout"`
}

// SampleTimeoutOrInterval resolves SampleTimeout.
func (g Governor) SampleTimeoutOrInterval() time.Duration {
	if d := g.SampleTimeout.D(); d > 0 {
		return d
	}
	return g.Interval.D()
}

// Crop configures detection and subject scoring.
type Crop struct {
	Detector        string             `json:"detector" yaml:"detector" toml:"detector"`
	DetectorURL     string             `json:"detector_url" yaml:"detector_url" toml:"detector_url"`
	DetectTimeout   Duration           `json:"detect_timeout" yaml:"detect_timeout" toml:"detect_timeout"`
	MinConfidence   float64            `json:"min_confidence" yaml:"min_confidence" toml:"min_confidence"`
	ExcludedClasses []string           `json:"excluded_classes" yaml:"excluded_classes" toml:"excluded_classes"`
	ClassWeights    map[string]float64 `json:"class_weights" yaml:"class_weights" toml:"class_weights"`
	EdgeThreshold   float64            `json:"edge_threshold" yaml:"edge_threshold" toml:"edge_threshold"`
	EdgeMargin      int                `json:"edge_margin" yaml:"edge_margin" toml:"edge_margin"`
	OCRLanguage     string             `json:"ocr_language" yaml:"ocr_language" toml:"ocr_language"`
}

// Pipeline configures admission and output defaults.
type Pipeline struct {
	MaxConcurrent  int      `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	QueueDepth     int      `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
	MaxWait        Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	DefaultQuality int      `json:"default_quality" yaml:"default_quality" toml:"default_quality"`
	DefaultFormat  string   `json:"default_format" yaml:"default_format" toml:"default_format"`
	Strict         bool     `json:"strict" yaml:"strict" toml:"strict"`
}

// Config holds runtime parameters for the service.
type Config struct {
	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	MetricsAddr string   `json:"metrics_addr" yaml:"metrics_addr" toml:"metrics_addr"`
	Limits      Limits   `json:"limits" yaml:"limits" toml:"limits"`
	Upscale     Upscale  `json:"upscale" yaml:"upscale" toml:"upscale"`
	Models      Models   `json:"models" yaml:"models" toml:"models"`
	Governor    Governor `json:"governor" yaml:"governor" toml:"governor"`
	Crop        Crop     `json:"crop" yaml:"crop" toml:"crop"`
	Pipeline    Pipeline `json:"pipeline" yaml:"pipeline" toml:"pipeline"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Limits: Limits{
			MaxTextureSize: 8192,
			MaxPixels:      32 * 1024 * 1024,
			MaxScale:       8,
		},
		Upscale: Upscale{
			Scales:             []int{1, 2, 3, 4, 8},
			TileSize:           512,
			SharpenPixelBudget: 2048 * 2048,
			LoadTimeout:        Duration(20 * time.Second),
			InvokeTimeout:      Duration(30 * time.Second),
			BaseFootprintMB:    48,
		},
		Models: Models{
			FailureThreshold: 5,
			IdleTimeout:      Duration(60 * time.Second),
		},
		Governor: Governor{
			Interval:  Duration(5 * time.Second),
			CeilingMB: 1024,
		},
		Crop: Crop{
			Detector:      "standin",
			DetectTimeout: Duration(5 * time.Second),
			MinConfidence: 0.35,
			ClassWeights: map[string]float64{
				"person": 1.5,
				"face":   1.6,
				"cat":    1.3,
				"dog":    1.3,
				"bird":   1.3,
				"horse":  1.3,
				"animal": 1.3,
			},
			EdgeThreshold: 30,
			EdgeMargin:    8,
			OCRLanguage:   "eng",
		},
		Pipeline: Pipeline{
			MaxConcurrent:  1,
			QueueDepth:     16,
			MaxWait:        Duration(30 * time.Second),
			DefaultQuality: 82,
			DefaultFormat:  "original",
		},
	}
}

// ApplyEnv overlays IMAGE_PIPELINE_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("IMAGE_PIPELINE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("IMAGE_PIPELINE_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("IMAGE_PIPELINE_MODEL_URL"); v != "" {
		c.Upscale.ModelURL = v
	}
	if v := os.Getenv("IMAGE_PIPELINE_DETECTOR"); v != "" {
		c.Crop.Detector = v
	}
	if v := os.Getenv("IMAGE_PIPELINE_DETECTOR_URL"); v != "" {
		c.Crop.DetectorURL = v
	}
}

// Validate rejects configurations no plan could satisfy.
func (c Config) Validate() error {
	if c.Limits.MaxTextureSize <= 0 {
		return fmt.Errorf("limits.max_texture_size must be positive")
	}
	if c.Limits.MaxPixels <= 0 {
		return fmt.Errorf("limits.max_pixels must be positive")
	}
	if c.Limits.MaxScale < 1 {
		return fmt.Errorf("limits.max_scale must be at least 1")
	}
	if len(c.Upscale.Scales) == 0 {
		return fmt.Errorf("upscale.scales must not be empty")
	}
	prev := 0
	for _, s := range c.Upscale.Scales {
		if s < 1 || s <= prev {
			return fmt.Errorf("upscale.scales must be ascending positive integers, got %v", c.Upscale.Scales)
		}
		prev = s
	}
	if c.Upscale.TileSize < 16 {
		return fmt.Errorf("upscale.tile_size must be at least 16")
	}
	if c.Models.FailureThreshold < 1 {
		return fmt.Errorf("models.failure_threshold must be at least 1")
	}
	if c.Governor.Interval.D() <= 0 {
		return fmt.Errorf("governor.interval must be positive")
	}
	if c.Governor.SampleTimeout.D() < 0 {
		return fmt.Errorf("governor.sample_timeout must not be negative")
	}
	if c.Pipeline.DefaultQuality < 0 || c.Pipeline.DefaultQuality > 100 {
		return fmt.Errorf("pipeline.default_quality must be within 0-100")
	}
	return nil
}
