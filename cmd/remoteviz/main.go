package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/vango-dev/remoteviz/internal/config"
	"github.com/vango-dev/remoteviz/internal/errors"
	"github.com/vango-dev/remoteviz/pkg/telemetry"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globals holds what the persistent flags resolve to before a command runs.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "remoteviz",
		Short: "Remote volume visualization over a frame/state stream",
		Long: `remoteviz streams rendered frames from a render worker to a viewer
and carries the viewer's camera, transfer function and data selection
back to the worker.

Run a worker on the machine with the data, then point a viewer at it:

  remoteviz worker --port 29374
  remoteviz viewer --host render-07 --port 29374

Offline frame sequences are rendered with "remoteviz movie".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.init()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Configuration file (default ./remoteviz.{json,yaml,yml} if present)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(
		workerCmd(g),
		viewerCmd(g),
		movieCmd(g),
		configCmd(g),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

// init loads the configuration and installs the default logger.
func (g *globals) init() error {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	g.cfg = cfg
	g.logger = newLogger(cfg.Log)
	slog.SetDefault(g.logger)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.Load(".")
	if err == nil {
		return cfg, nil
	}
	var e *errors.Error
	if asError(err, &e) && e.Code == errors.CodeConfigNotFound {
		return config.New(), nil
	}
	return nil, err
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// observability bundles the metrics, tracing and shutdown hook a command
// hands to its sessions and admin server.
type observability struct {
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	shutdown func(context.Context) error
}

func (g *globals) observability(ctx context.Context) (*observability, error) {
	t := g.cfg.Telemetry
	shutdown, err := telemetry.Setup(ctx, t.OTLPEndpoint, t.ServiceName)
	if err != nil {
		return nil, errors.Newf(errors.CategoryConfig, "cannot start trace exporter").
			WithField("telemetry.otlpEndpoint").
			Wrap(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &observability{
		registry: reg,
		metrics:  telemetry.NewMetrics(telemetry.WithNamespace(t.Namespace), telemetry.WithRegistry(reg)),
		tracer:   telemetry.NewTracer(otel.GetTracerProvider()),
		shutdown: shutdown,
	}, nil
}

// close flushes pending spans.
func (o *observability) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.shutdown(ctx); err != nil {
		logger.Warn("trace exporter shutdown", "error", err)
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
