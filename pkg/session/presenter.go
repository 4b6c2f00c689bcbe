package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vango-dev/remoteviz/pkg/imagecodec"
	"github.com/vango-dev/remoteviz/pkg/protocol"
	"github.com/vango-dev/remoteviz/pkg/telemetry"
)

// Frame discard reasons reported to metrics.
const (
	DiscardDecode    = "decode"
	DiscardStaleSize = "stale_size"
)

// Presenter is the owner-side loop of a viewer: it collects edits from a
// Display, merges them into the session and shows new frames. It runs on
// the owner's goroutine and never blocks on the network.
type Presenter struct {
	viewer  *Viewer
	display Display
	dec     *imagecodec.Decompressor
	logger  *slog.Logger
	metrics *telemetry.Metrics

	local  protocol.AppState
	frame  Frame
	pixels []uint32

	rendered  uint64
	discarded uint64
}

// NewPresenter creates a Presenter. codec selects the row order frames
// are decoded in. The local state starts from the viewer's initial state.
func NewPresenter(v *Viewer, d Display, codec imagecodec.Options) *Presenter {
	local := v.cfg.Initial.State
	local.ClearFlags()
	local.Quit = false
	return &Presenter{
		viewer:  v,
		display: d,
		dec:     imagecodec.NewDecompressor(codec),
		logger:  v.logger,
		metrics: v.metrics,
		local:   local,
	}
}

// Step polls the display once, pushes any edits and renders the newest
// frame if there is one. It reports whether a frame was rendered. Frames
// that cannot be decoded are discarded and counted; they do not end the
// session.
func (p *Presenter) Step() bool {
	p.pushEdits()

	if !p.viewer.NewFrame(&p.frame) {
		return false
	}

	start := time.Now()
	pixels, err := p.dec.Decompress(p.frame.Data, p.frame.Width, p.frame.Height, p.pixels)
	p.metrics.Codec("decompress", time.Since(start))
	if err != nil {
		reason := DiscardDecode
		if errors.Is(err, imagecodec.ErrDimensionMismatch) {
			reason = DiscardStaleSize
		}
		p.discarded++
		p.metrics.FrameDiscarded(reason)
		p.logger.Warn("discarding frame", "seq", p.frame.Seq, "reason", reason, "error", err)
		return false
	}
	p.pixels = pixels

	p.display.RenderFrame(pixels, p.frame.Width, p.frame.Height)
	p.rendered++
	return true
}

// Run calls Step every interval until ctx is done or the session ends.
// It returns the session error, or ctx.Err() when cancelled.
func (p *Presenter) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.viewer.Done():
			return p.viewer.Err()
		case <-t.C:
			p.Step()
		}
	}
}

// LastFrame returns the most recently rendered pixels and their size.
// The slice is reused by the next Step.
func (p *Presenter) LastFrame() (pixels []uint32, width, height int) {
	if p.rendered == 0 {
		return nil, 0, 0
	}
	return p.pixels, p.frame.Width, p.frame.Height
}

// LastCost returns the worker's render time for the last frame taken.
func (p *Presenter) LastCost() time.Duration {
	return p.frame.Cost
}

// Rendered returns the number of frames shown.
func (p *Presenter) Rendered() uint64 {
	return p.rendered
}

// Discarded returns the number of frames that could not be shown.
func (p *Presenter) Discarded() uint64 {
	return p.discarded
}

func (p *Presenter) pushEdits() {
	u := Update{}
	s := &p.local

	if cam, ok := p.display.PollCamera(); ok {
		s.Camera = cam
		u.State.CameraChanged = true
	}
	if w, h, ok := p.display.PollResize(); ok && w > 0 && h > 0 &&
		(int32(w) != s.FramebufferWidth || int32(h) != s.FramebufferHeight) {
		s.FramebufferWidth, s.FramebufferHeight = int32(w), int32(h)
		u.State.FramebufferSizeChanged = true
	}
	if tf, ok := p.display.PollTransferFunction(); ok {
		u.TransferFunction = tf
		u.State.TransferFunctionChanged = true
	}
	if name, ok := p.display.PollVariable(); ok {
		u.Variable = name
		u.State.FieldChanged = true
	}
	if ts, ok := p.display.PollTimestep(); ok {
		s.Timestep = ts
		u.State.TimestepChanged = true
	}

	if !u.State.Dirty() {
		return
	}
	u.State.Camera = s.Camera
	u.State.FramebufferWidth = s.FramebufferWidth
	u.State.FramebufferHeight = s.FramebufferHeight
	u.State.Timestep = s.Timestep
	p.viewer.UpdateAppState(&u)
}
