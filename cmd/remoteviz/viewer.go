package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/remoteviz/internal/demo"
	"github.com/vango-dev/remoteviz/internal/errors"
	"github.com/vango-dev/remoteviz/pkg/admin"
	"github.com/vango-dev/remoteviz/pkg/framestore"
	"github.com/vango-dev/remoteviz/pkg/imagecodec"
	"github.com/vango-dev/remoteviz/pkg/protocol"
	"github.com/vango-dev/remoteviz/pkg/session"
	"github.com/vango-dev/remoteviz/pkg/telemetry"
	"github.com/vango-dev/remoteviz/pkg/transport"
)

func viewerCmd(g *globals) *cobra.Command {
	var (
		host      string
		port      int
		kind      string
		width     int
		height    int
		frames    int
		interval  time.Duration
		snapshot  string
		adminAddr string
		orbit     float64
		cycle     int
	)

	cmd := &cobra.Command{
		Use:   "viewer",
		Short: "Connect to a worker and display its frames headlessly",
		Long: `Connect to a render worker, show its frames on a headless display
and send camera and selection changes back.

The session ends with the quit handshake after --frames frames, or on
Ctrl-C. The last frame can be saved with --snapshot to a directory or
an s3://bucket/prefix location.

Examples:
  remoteviz viewer --host render-07
  remoteviz viewer --frames 100 --orbit 0.05
  remoteviz viewer --frames 50 --cycle 10 --snapshot s3://viz/snaps`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &g.cfg.Viewer
			flags := cmd.Flags()
			if flags.Changed("host") {
				c.Host = host
			}
			if flags.Changed("port") {
				c.Port = port
			}
			if flags.Changed("transport") {
				c.Transport = kind
			}
			if flags.Changed("width") {
				c.Width = width
			}
			if flags.Changed("height") {
				c.Height = height
			}
			if flags.Changed("frames") {
				c.Frames = frames
			}
			if flags.Changed("interval") {
				c.Interval = interval.String()
			}
			if flags.Changed("snapshot") {
				c.Snapshot = snapshot
			}
			if flags.Changed("admin") {
				g.cfg.Admin.Addr = adminAddr
			}
			if err := g.cfg.Validate(); err != nil {
				return err
			}
			return runViewer(g, orbit, cycle)
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "", "Worker host")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Worker port")
	cmd.Flags().StringVarP(&kind, "transport", "t", "", "Transport: tcp or ws")
	cmd.Flags().IntVar(&width, "width", 0, "Framebuffer width")
	cmd.Flags().IntVar(&height, "height", 0, "Framebuffer height")
	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "Quit after this many frames (0 runs until interrupted)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Display refresh interval")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "Save the last frame to this directory or s3:// location")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "Serve health, status and metrics on this address")
	cmd.Flags().Float64Var(&orbit, "orbit", 0, "Turn the camera by this many radians per refresh")
	cmd.Flags().IntVar(&cycle, "cycle", 0, "Step to the next variable and timestep every N frames")

	return cmd
}

func runViewer(g *globals, orbit float64, cycle int) error {
	c := g.cfg.Viewer
	kind, err := transport.ParseKind(c.Transport)
	if err != nil {
		return errors.New(errors.CodeInvalidFlag).WithField("viewer.transport").Wrap(err)
	}

	ctx, stop := signalContext()
	defer stop()

	obs, err := g.observability(ctx)
	if err != nil {
		return err
	}
	defer obs.close(g.logger)

	initial := session.DefaultUpdate()
	initial.State.FramebufferWidth = int32(c.Width)
	initial.State.FramebufferHeight = int32(c.Height)

	// The session outlives ctx so a signal can still run the quit
	// handshake through Close.
	v := session.NewViewer(context.Background(), session.ViewerConfig{
		Host:             c.Host,
		Port:             c.Port,
		Transport:        kind,
		TransportOptions: transport.Options{ReadTimeout: g.cfg.ViewerReadTimeout()},
		Initial:          &initial,
		Logger:           g.logger,
		Metrics:          obs.metrics,
		Tracer:           obs.tracer,
	})
	defer v.Abort()
	info("Connecting to %s:%d (%s)", c.Host, c.Port, kind)

	display := demo.NewDisplay(orbit)
	p := session.NewPresenter(v, display, imagecodec.Options{BottomUp: c.BottomUp})

	grp, gctx := errgroup.WithContext(ctx)
	adminCtx, cancelAdmin := context.WithCancel(gctx)
	if g.cfg.Admin.Addr != "" {
		srv := admin.New(admin.Config{
			Addr:     g.cfg.Admin.Addr,
			Gatherer: obs.registry,
			Logger:   g.logger,
		}, v)
		grp.Go(func() error {
			return srv.Run(adminCtx)
		})
	}
	grp.Go(func() error {
		defer cancelAdmin()
		return present(gctx, g.logger, v, p, display, presentOptions{
			frames:   c.Frames,
			interval: g.cfg.ViewerInterval(),
			cycle:    cycle,
		})
	})
	err = grp.Wait()

	if c.Snapshot != "" {
		if serr := saveSnapshot(context.Background(), display, c.Snapshot, v.ID()); serr != nil {
			g.logger.Error("snapshot failed", "error", serr)
			if err == nil {
				err = serr
			}
		}
	}
	if err != nil {
		return sessionError(err, telemetry.RoleViewer)
	}
	success("Session closed after %d frames (%d discarded)", p.Rendered(), p.Discarded())
	return nil
}

type presentOptions struct {
	frames   int
	interval time.Duration
	cycle    int
}

// present drives the presenter until the frame limit, a signal or the end
// of the session. The first two close the session with the quit
// handshake.
func present(ctx context.Context, logger *slog.Logger, v *session.Viewer, p *session.Presenter, d *demo.Display, opts presentOptions) error {
	t := time.NewTicker(opts.interval)
	defer t.Stop()

	var (
		meta     protocol.Metadata
		haveMeta bool
		step     int
	)
	for {
		select {
		case <-ctx.Done():
			warn("Interrupted, closing session")
			return v.Close()
		case <-v.Done():
			return v.Err()
		case <-t.C:
		}

		if !haveMeta {
			if meta, haveMeta = v.Metadata(); haveMeta {
				info("Catalog: variables %v, timesteps %v", meta.Variables, meta.Timesteps)
			}
		}
		if !p.Step() {
			continue
		}

		n := int(p.Rendered())
		logger.Debug("frame", "n", n, "cost", p.LastCost())
		if opts.frames > 0 && n >= opts.frames {
			return v.Close()
		}
		if opts.cycle > 0 && haveMeta && n%opts.cycle == 0 {
			step++
			if len(meta.Variables) > 0 {
				d.SelectVariable(meta.Variables[step%len(meta.Variables)])
			}
			if len(meta.Timesteps) > 0 {
				d.SelectTimestep(meta.Timesteps[step%len(meta.Timesteps)])
			}
		}
	}
}

// saveSnapshot compresses the display's last frame, fitted to its window,
// and stores it as snapshot-<session>.jpg under location.
func saveSnapshot(ctx context.Context, d *demo.Display, location, id string) error {
	pixels, w, h, ok := d.View()
	if !ok {
		warn("No frame to snapshot")
		return nil
	}
	data, err := imagecodec.NewCompressor(imagecodec.Options{Quality: imagecodec.MaxQuality}).Compress(pixels, w, h)
	if err != nil {
		return errors.New(errors.CodeCodec).Wrap(err)
	}

	store, err := framestore.Open(ctx, location)
	if err != nil {
		return errors.New(errors.CodeStorageURL).WithField("viewer.snapshot").Wrap(err)
	}
	name := "snapshot-" + id + ".jpg"
	if err := store.Put(ctx, name, data); err != nil {
		return errors.New(errors.CodeStorageWrite).Wrap(err)
	}
	success("Snapshot saved to %s/%s", store.Location(), name)
	return nil
}
