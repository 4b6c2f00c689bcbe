package main

import (
	stderrors "errors"

	"github.com/spf13/cobra"

	"github.com/vango-dev/remoteviz/internal/demo"
	"github.com/vango-dev/remoteviz/internal/errors"
	"github.com/vango-dev/remoteviz/internal/movie"
	"github.com/vango-dev/remoteviz/pkg/framestore"
	"github.com/vango-dev/remoteviz/pkg/imagecodec"
)

func movieCmd(g *globals) *cobra.Command {
	var (
		frames  int
		width   int
		height  int
		quality int
		output  string
		prefix  string
	)

	cmd := &cobra.Command{
		Use:   "movie",
		Short: "Render a fixed-camera frame sequence to disk or S3",
		Long: `Render a sequence of frames from the built-in engine with a fixed
camera and store them as <prefix>-00000000.jpg, <prefix>-00000001.jpg, ...

The reported average covers rendering only, not compression or storage.

Examples:
  remoteviz movie
  remoteviz movie --frames 100 --output ./out
  remoteviz movie --output s3://viz-renders/run-42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &g.cfg.Movie
			flags := cmd.Flags()
			if flags.Changed("frames") {
				c.Frames = frames
			}
			if flags.Changed("width") {
				c.Width = width
			}
			if flags.Changed("height") {
				c.Height = height
			}
			if flags.Changed("quality") {
				c.Quality = quality
			}
			if flags.Changed("output") {
				c.Output = output
			}
			if flags.Changed("prefix") {
				c.Prefix = prefix
			}
			if err := g.cfg.Validate(); err != nil {
				return err
			}
			return runMovie(g)
		},
	}

	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "Number of frames")
	cmd.Flags().IntVar(&width, "width", 0, "Frame width")
	cmd.Flags().IntVar(&height, "height", 0, "Frame height")
	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "JPEG quality, 1-100")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory or s3://bucket/prefix")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Frame file name prefix")

	return cmd
}

func runMovie(g *globals) error {
	c := g.cfg.Movie

	ctx, stop := signalContext()
	defer stop()

	obs, err := g.observability(ctx)
	if err != nil {
		return err
	}
	defer obs.close(g.logger)

	store, err := framestore.Open(ctx, c.Output)
	if err != nil {
		return errors.New(errors.CodeStorageURL).WithField("movie.output").Wrap(err)
	}

	engine := demo.NewEngine(c.Width, c.Height, g.cfg.Worker.Variables, g.cfg.Worker.Timesteps)
	info("Rendering %d frames at %dx%d to %s", c.Frames, c.Width, c.Height, store.Location())

	res, err := movie.Run(ctx, engine, store, movie.Options{
		Frames:  c.Frames,
		Width:   c.Width,
		Height:  c.Height,
		Quality: c.Quality,
		Prefix:  c.Prefix,
		Logger:  g.logger,
		Metrics: obs.metrics,
	})
	if err != nil {
		if ctx.Err() != nil {
			warn("Interrupted after %d frames", res.Frames)
			return nil
		}
		var ce *imagecodec.CodecError
		if stderrors.As(err, &ce) {
			return errors.New(errors.CodeCodec).Wrap(err)
		}
		return errors.New(errors.CodeStorageWrite).WithField("movie.output").Wrap(err)
	}

	success("Rendered %d frames (%d bytes)", res.Frames, res.Bytes)
	info("Average frame time: %.3f ms", float64(res.AverageFrameTime().Microseconds())/1000)
	return nil
}
