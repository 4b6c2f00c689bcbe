// Package movie renders a fixed-camera sequence of frames offline and
// writes each one as a numbered JPEG to a frame store.
package movie

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-dev/remoteviz/pkg/framestore"
	"github.com/vango-dev/remoteviz/pkg/imagecodec"
	"github.com/vango-dev/remoteviz/pkg/protocol"
	"github.com/vango-dev/remoteviz/pkg/session"
	"github.com/vango-dev/remoteviz/pkg/telemetry"
)

// Options configures a movie run.
type Options struct {
	// Frames is the number of frames. Default: 25.
	Frames int

	// Width and Height size the framebuffer. Default: 1920×1080.
	Width, Height int

	// Quality is the JPEG quality. Default: 100.
	Quality int

	// BottomUp writes frames whose rows come bottom first.
	BottomUp bool

	// Prefix starts every frame name. Default: "frame".
	Prefix string

	// Camera overrides the default view from (0, 0, -1100).
	Camera *protocol.Camera

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

func (o Options) withDefaults() Options {
	if o.Frames <= 0 {
		o.Frames = 25
	}
	if o.Width <= 0 {
		o.Width = 1920
	}
	if o.Height <= 0 {
		o.Height = 1080
	}
	if o.Quality == 0 {
		o.Quality = imagecodec.MaxQuality
	}
	if o.Prefix == "" {
		o.Prefix = "frame"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DefaultCamera looks down +Z from far enough back to frame the volume.
func DefaultCamera() protocol.Camera {
	cam := session.DefaultCamera()
	cam.Eye.Z = -1100
	return cam
}

// Result summarizes a run.
type Result struct {
	Frames int

	// Render is the total time spent in Framebuffer, excluding
	// compression and storage.
	Render time.Duration

	// Bytes is the total size of the stored frames.
	Bytes int64
}

// AverageFrameTime returns the mean render time per frame.
func (r Result) AverageFrameTime() time.Duration {
	if r.Frames == 0 {
		return 0
	}
	return r.Render / time.Duration(r.Frames)
}

// Run renders opts.Frames frames from engine and stores them as
// <prefix>-%08d.jpg. It stops at the first storage or compression error,
// or when ctx is done, returning what was completed so far.
func Run(ctx context.Context, engine session.Engine, store framestore.Store, opts Options) (Result, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "movie")

	cam := DefaultCamera()
	if opts.Camera != nil {
		cam = *opts.Camera
	}
	engine.ApplyFramebufferSize(opts.Width, opts.Height)
	engine.ApplyCamera(cam)

	comp := imagecodec.NewCompressor(imagecodec.Options{Quality: opts.Quality, BottomUp: opts.BottomUp})
	var res Result
	for i := 0; i < opts.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		start := time.Now()
		pixels, w, h := engine.Framebuffer()
		cost := time.Since(start)

		cstart := time.Now()
		data, err := comp.Compress(pixels, w, h)
		opts.Metrics.Codec("compress", time.Since(cstart))
		if err != nil {
			return res, fmt.Errorf("movie: frame %d: %w", i, err)
		}

		name := framestore.FrameName(opts.Prefix, i)
		if err := store.Put(ctx, name, data); err != nil {
			return res, fmt.Errorf("movie: store %s: %w", name, err)
		}

		res.Frames++
		res.Render += cost
		res.Bytes += int64(len(data))
		opts.Metrics.FrameSent(cost)
		logger.Info("frame rendered", "frame", name, "ms", cost.Milliseconds(), "bytes", len(data))
	}

	logger.Info("movie complete",
		"frames", res.Frames,
		"avg_ms", float64(res.AverageFrameTime().Microseconds())/1000,
		"location", store.Location())
	return res, nil
}
