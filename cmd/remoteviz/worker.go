package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/remoteviz/internal/demo"
	"github.com/vango-dev/remoteviz/internal/errors"
	"github.com/vango-dev/remoteviz/pkg/admin"
	"github.com/vango-dev/remoteviz/pkg/imagecodec"
	"github.com/vango-dev/remoteviz/pkg/session"
	"github.com/vango-dev/remoteviz/pkg/telemetry"
	"github.com/vango-dev/remoteviz/pkg/transport"
)

func workerCmd(g *globals) *cobra.Command {
	var (
		port      int
		kind      string
		quality   int
		maxFPS    float64
		bottomUp  bool
		width     int
		height    int
		adminAddr string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve one viewer from the built-in render engine",
		Long: `Listen for one viewer, send it the data catalog and stream frames
until it quits.

Every frame is followed by one state message from the viewer, so the
frame rate is bounded by the round trip. --max-fps caps it further.

Examples:
  remoteviz worker
  remoteviz worker --port 4000 --transport ws
  remoteviz worker --quality 75 --admin :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &g.cfg.Worker
			flags := cmd.Flags()
			if flags.Changed("port") {
				c.Port = port
			}
			if flags.Changed("transport") {
				c.Transport = kind
			}
			if flags.Changed("quality") {
				c.Quality = quality
			}
			if flags.Changed("max-fps") {
				c.MaxFPS = maxFPS
			}
			if flags.Changed("bottom-up") {
				c.BottomUp = bottomUp
			}
			if flags.Changed("width") {
				c.Width = width
			}
			if flags.Changed("height") {
				c.Height = height
			}
			if flags.Changed("admin") {
				g.cfg.Admin.Addr = adminAddr
			}
			if err := g.cfg.Validate(); err != nil {
				return err
			}
			return runWorker(g)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (0 picks a free port)")
	cmd.Flags().StringVarP(&kind, "transport", "t", "", "Transport: tcp or ws")
	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "JPEG quality, 1-100")
	cmd.Flags().Float64Var(&maxFPS, "max-fps", 0, "Frame rate cap (0 is unlimited)")
	cmd.Flags().BoolVar(&bottomUp, "bottom-up", false, "Framebuffer rows are stored bottom-up")
	cmd.Flags().IntVar(&width, "width", 0, "Initial framebuffer width")
	cmd.Flags().IntVar(&height, "height", 0, "Initial framebuffer height")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "Serve health, status and metrics on this address")

	return cmd
}

func runWorker(g *globals) error {
	c := g.cfg.Worker
	kind, err := transport.ParseKind(c.Transport)
	if err != nil {
		return errors.New(errors.CodeInvalidFlag).WithField("worker.transport").Wrap(err)
	}

	ctx, stop := signalContext()
	defer stop()

	obs, err := g.observability(ctx)
	if err != nil {
		return err
	}
	defer obs.close(g.logger)

	w := session.NewWorker(session.WorkerConfig{
		Port:             c.Port,
		Transport:        kind,
		TransportOptions: transport.Options{ReadTimeout: g.cfg.WorkerReadTimeout()},
		Codec:            imagecodec.Options{Quality: c.Quality, BottomUp: c.BottomUp},
		MaxFPS:           c.MaxFPS,
		Logger:           g.logger,
		Metrics:          obs.metrics,
		Tracer:           obs.tracer,
	})
	defer w.Close()

	addr, err := w.Listen()
	if err != nil {
		return sessionError(err, telemetry.RoleWorker)
	}
	success("Worker listening on %s (%s)", addr, kind)
	info("Catalog: %d variables, %d timesteps", len(c.Variables), len(c.Timesteps))

	engine := demo.NewEngine(c.Width, c.Height, c.Variables, c.Timesteps)

	grp, gctx := errgroup.WithContext(ctx)
	serveCtx, cancelAdmin := context.WithCancel(gctx)
	if g.cfg.Admin.Addr != "" {
		srv := admin.New(admin.Config{
			Addr:     g.cfg.Admin.Addr,
			Gatherer: obs.registry,
			Logger:   g.logger,
		}, w)
		grp.Go(func() error {
			return srv.Run(serveCtx)
		})
		info("Admin on %s", g.cfg.Admin.Addr)
	}
	grp.Go(func() error {
		defer cancelAdmin()
		return w.Serve(gctx, engine)
	})

	err = grp.Wait()
	st := w.Status()
	if err != nil && interrupted(ctx, err) {
		warn("Interrupted after %d frames", st.Frames)
		return nil
	}
	if err != nil {
		return sessionError(err, telemetry.RoleWorker)
	}
	success("Viewer quit after %d frames", st.Frames)
	return nil
}
