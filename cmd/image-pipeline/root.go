package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ironsheep/image-pipeline-mcp/internal/config"
	"github.com/ironsheep/image-pipeline-mcp/internal/detection"
	"github.com/ironsheep/image-pipeline-mcp/internal/governor"
	"github.com/ironsheep/image-pipeline-mcp/internal/imaging"
	"github.com/ironsheep/image-pipeline-mcp/internal/metrics"
	"github.com/ironsheep/image-pipeline-mcp/internal/models"
	"github.com/ironsheep/image-pipeline-mcp/internal/pipeline"
	"github.com/ironsheep/image-pipeline-mcp/internal/server"
)

// globalFlags are shared by every command and overlay the resolved config.
type globalFlags struct {
	configPath  string
	logLevel    string
	metricsAddr string
	modelURL    string
	detector    string
	detectorURL string
}

// outputFlags are shared by the one-shot commands.
type outputFlags struct {
	output  string
	format  string
	quality int
	strict  bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "image-pipeline",
		Short:         "Adaptive image resize and crop pipeline with an MCP server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Config file (.yaml, .json or .toml)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults IMAGE_PIPELINE_LOG_LEVEL or config)")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	pf.StringVar(&g.modelURL, "model-url", "", "Base URL of the upscale model service")
	pf.StringVar(&g.detector, "detector", "", "Detector backend: standin|remote|contours|text|tesseract")
	pf.StringVar(&g.detectorURL, "detector-url", "", "Detection service URL for the remote backend")

	serve := newServeCmd(g)
	// MCP clients launch the binary without arguments.
	root.Args = cobra.NoArgs
	root.RunE = serve.RunE

	root.AddCommand(
		serve,
		newResizeCmd(g),
		newCropCmd(g),
		newSmartCropCmd(g),
		newVersionCmd(),
	)
	return root
}

// resolveConfig loads the config file and environment, then applies any
// flags the user set explicitly.
func resolveConfig(cmd *cobra.Command, g *globalFlags) (config.Config, error) {
	cfg, err := config.Resolve(g.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = g.metricsAddr
	}
	if flags.Changed("model-url") {
		cfg.Upscale.ModelURL = g.modelURL
	}
	if flags.Changed("detector") {
		cfg.Crop.Detector = g.detector
	}
	if flags.Changed("detector-url") {
		cfg.Crop.DetectorURL = g.detectorURL
	}
	return cfg, nil
}

// newLogger writes to stderr; stdout carries the MCP protocol.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("service", "image-pipeline").Logger()
}

// runtime is the fully wired process state.
type runtime struct {
	cfg      config.Config
	log      zerolog.Logger
	models   *models.Manager
	loader   models.Loader
	pipeline *pipeline.Pipeline
}

func buildRuntime(ctx context.Context, cmd *cobra.Command, g *globalFlags) (*runtime, error) {
	cfg, err := resolveConfig(cmd, g)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg.LogLevel)
	client := &http.Client{}

	var loader models.Loader = models.ClassicalLoader{}
	if cfg.Upscale.ModelURL != "" {
		loader = models.NewRemoteLoader(cfg.Upscale.ModelURL, client)
	}
	mgr := models.NewManager(models.Config{
		Loader:           loader,
		FailureThreshold: cfg.Models.FailureThreshold,
		LoadTimeout:      cfg.Upscale.LoadTimeout.D(),
		InvokeTimeout:    cfg.Upscale.InvokeTimeout.D(),
		BaseFootprintMB:  cfg.Upscale.BaseFootprintMB,
		Logger:           log.With().Str("component", "models").Logger(),
	})

	det, err := detection.Open(ctx, detection.Config{
		Backend:     cfg.Crop.Detector,
		URL:         cfg.Crop.DetectorURL,
		Client:      client,
		OCRLanguage: cfg.Crop.OCRLanguage,
		Timeout:     cfg.Crop.DetectTimeout.D(),
	}, log.With().Str("component", "detection").Logger())
	if err != nil {
		log.Warn().Err(err).Str("backend", cfg.Crop.Detector).Msg("detector fell back to stand-in")
	}

	p, err := pipeline.NewFromConfig(cfg, mgr, det, log)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, log: log, models: mgr, loader: loader, pipeline: p}, nil
}

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP protocol over stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cmd, g)
			if err != nil {
				return err
			}
			defer rt.models.Teardown()
			rt.log.Info().Str("version", Version).Str("commit", GitCommit).Msg("image pipeline starting")

			if _, ok := rt.loader.(models.Prober); ok {
				missing := rt.models.VerifyCatalog(ctx, rt.cfg.Upscale.Scales)
				rt.log.Info().Int("missing_scales", len(missing)).Msg("model catalog verified")
			}

			if rt.cfg.MetricsAddr != "" {
				go func() {
					if err := metrics.Serve(ctx, rt.cfg.MetricsAddr, rt.log); err != nil {
						rt.log.Error().Err(err).Msg("metrics listener stopped")
					}
				}()
			}

			var sampler governor.Sampler
			if rt.cfg.Governor.SamplerURL != "" {
				sampler = governor.NewRemoteSampler(rt.cfg.Governor.SamplerURL, &http.Client{}, rt.cfg.Governor.SampleTimeoutOrInterval())
			}
			gov, err := governor.New(governor.Config{
				Pool:        rt.models,
				Sampler:     sampler,
				Interval:    rt.cfg.Governor.Interval.D(),
				CeilingMB:   rt.cfg.Governor.CeilingMB,
				IdleTimeout: rt.cfg.Models.IdleTimeout.D(),
				Logger:      rt.log.With().Str("component", "governor").Logger(),
			})
			if err != nil {
				return err
			}
			go gov.Run(ctx)

			return server.New(rt.pipeline, rt.log.With().Str("component", "mcp").Logger(), Version).Run(ctx)
		},
	}
}

func addOutputFlags(cmd *cobra.Command, o *outputFlags) {
	f := cmd.Flags()
	f.StringVarP(&o.output, "output", "o", "", "Output file (default: <input>-<op>.<ext> next to the input)")
	f.StringVarP(&o.format, "format", "f", "", "Output format: original|png|jpeg|webp")
	f.IntVarP(&o.quality, "quality", "q", 0, "Lossy quality 1-100 (default from config)")
	f.BoolVar(&o.strict, "strict", false, "Fail instead of writing a placeholder")
}

func (o *outputFlags) options() pipeline.Options {
	return pipeline.Options{Quality: o.quality, Format: o.format, Strict: o.strict}
}

// oneShot runs a single operation against a file and writes the result.
func oneShot(cmd *cobra.Command, g *globalFlags, o *outputFlags, input, op string, run func(context.Context, *pipeline.Pipeline, imaging.SourceImage) pipeline.Result) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, cmd, g)
	if err != nil {
		return err
	}
	defer rt.models.Teardown()

	src, err := imaging.LoadSource(input)
	if err != nil {
		return err
	}
	res := run(ctx, rt.pipeline, src)

	out := struct {
		pipeline.Result
		OutputPath string `json:"output_path,omitempty"`
	}{Result: res}
	if res.Succeeded {
		out.OutputPath = o.output
		if out.OutputPath == "" {
			out.OutputPath = defaultOutputPath(input, op, res.Format)
		}
		if err := os.WriteFile(out.OutputPath, res.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !res.Succeeded {
		return fmt.Errorf("%s failed: %s", op, res.ErrorDetail)
	}
	return nil
}

func defaultOutputPath(input, op string, f imaging.Format) string {
	ext := "." + string(f)
	if f == imaging.FormatJPEG {
		ext = ".jpg"
	}
	stem := strings.TrimSuffix(input, filepath.Ext(input))
	return stem + "-" + op + ext
}

func newResizeCmd(g *globalFlags) *cobra.Command {
	o := &outputFlags{}
	var dimension int
	cmd := &cobra.Command{
		Use:     "resize <input>",
		Short:   "Resize so the longer side equals --dimension",
		Example: "  image-pipeline resize photo.jpg --dimension 1024 -f webp",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, g, o, args[0], "resize", func(ctx context.Context, p *pipeline.Pipeline, src imaging.SourceImage) pipeline.Result {
				return p.Resize(ctx, src, dimension, o.options())
			})
		},
	}
	cmd.Flags().IntVarP(&dimension, "dimension", "d", 0, "Target length of the longer side")
	_ = cmd.MarkFlagRequired("dimension")
	addOutputFlags(cmd, o)
	return cmd
}

func newCropCmd(g *globalFlags) *cobra.Command {
	o := &outputFlags{}
	var width, height int
	var anchor string
	cmd := &cobra.Command{
		Use:     "crop <input>",
		Short:   "Cover --width x --height and cut at --anchor",
		Example: "  image-pipeline crop banner.png --width 800 --height 200 --anchor top",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, g, o, args[0], "crop", func(ctx context.Context, p *pipeline.Pipeline, src imaging.SourceImage) pipeline.Result {
				return p.Crop(ctx, src, width, height, anchor, o.options())
			})
		},
	}
	cmd.Flags().IntVar(&width, "width", 0, "Output width")
	cmd.Flags().IntVar(&height, "height", 0, "Output height")
	cmd.Flags().StringVar(&anchor, "anchor", "center", "Named anchor, or auto for subject detection")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")
	addOutputFlags(cmd, o)
	return cmd
}

func newSmartCropCmd(g *globalFlags) *cobra.Command {
	o := &outputFlags{}
	var width, height int
	cmd := &cobra.Command{
		Use:     "smartcrop <input>",
		Short:   "Cover --width x --height and cut around the detected subject",
		Example: "  image-pipeline smartcrop portrait.jpg --width 512 --height 512 --detector remote --detector-url http://localhost:8000/detect",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, g, o, args[0], "smartcrop", func(ctx context.Context, p *pipeline.Pipeline, src imaging.SourceImage) pipeline.Result {
				return p.SmartCrop(ctx, src, width, height, o.options())
			})
		},
	}
	cmd.Flags().IntVar(&width, "width", 0, "Output width")
	cmd.Flags().IntVar(&height, "height", 0, "Output height")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")
	addOutputFlags(cmd, o)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "image-pipeline %s\n", Version)
			fmt.Fprintf(w, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
		},
	}
}
