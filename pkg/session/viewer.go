package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vango-dev/remoteviz/pkg/protocol"
	"github.com/vango-dev/remoteviz/pkg/telemetry"
	"github.com/vango-dev/remoteviz/pkg/transport"
)

// Viewer is the consumer end of a session. One background goroutine owns
// the connection: it reads each frame into a single-slot buffer and
// answers with the accumulated state. The owner polls with Metadata and
// NewFrame and pushes edits with UpdateAppState; none of these block on
// the network.
type Viewer struct {
	id      string
	cfg     ViewerConfig
	logger  *slog.Logger
	metrics *telemetry.Metrics

	state stateVar

	ctx        context.Context
	cancel     context.CancelFunc
	dialCancel context.CancelFunc
	aborted    atomic.Bool

	connMu sync.Mutex
	conn   transport.Conn

	haveMeta atomic.Bool
	metaMu   sync.Mutex
	meta     protocol.Metadata

	pending pendingState
	slot    frameSlot

	frames   atomic.Uint64
	states   atomic.Uint64
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
	lastCost atomic.Int64

	done chan struct{}
	err  error
}

// NewViewer starts a viewer session. It returns immediately; connecting,
// the metadata exchange and streaming happen on a background goroutine.
// Cancelling ctx aborts the session.
func NewViewer(ctx context.Context, cfg ViewerConfig) *Viewer {
	cfg = cfg.withDefaults()
	id := uuid.NewString()

	ctx, cancel := context.WithCancel(ctx)
	v := &Viewer{
		id:      id,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "viewer", "session", id),
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	v.pending.init(cfg.Initial)

	go v.run()
	return v
}

// ID returns the session ID.
func (v *Viewer) ID() string {
	return v.id
}

// State returns the current lifecycle state.
func (v *Viewer) State() State {
	return v.state.load()
}

// Done is closed once the background goroutine has exited.
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// Err returns the error that ended the session, or nil while it runs and
// after a clean quit.
func (v *Viewer) Err() error {
	select {
	case <-v.done:
		return v.err
	default:
		return nil
	}
}

// Metadata returns the worker's catalog once the metadata exchange has
// completed; until then ok is false.
func (v *Viewer) Metadata() (m protocol.Metadata, ok bool) {
	if !v.haveMeta.Load() {
		return m, false
	}
	v.metaMu.Lock()
	defer v.metaMu.Unlock()
	return v.meta.Clone(), true
}

// NewFrame moves the newest unconsumed frame into dst and reports whether
// there was one. Each frame is delivered at most once; without a new
// arrival dst is left untouched. dst's previous buffer is recycled.
func (v *Viewer) NewFrame(dst *Frame) bool {
	return v.slot.take(dst)
}

// UpdateAppState merges u into the state sent after the next frame.
// Flags accumulate until sent; see Update for which fields are taken.
func (v *Viewer) UpdateAppState(u *Update) {
	v.pending.merge(u)
}

// Close sets the quit flag and waits for the background goroutine, which
// sends the quit state after the next frame and exits. A session that is
// still dialing stops dialing. Close returns the session error, if any.
func (v *Viewer) Close() error {
	v.pending.setQuit()
	v.connMu.Lock()
	if v.dialCancel != nil {
		v.dialCancel()
	}
	v.connMu.Unlock()
	<-v.done
	return v.err
}

// Abort tears the session down without the quit handshake. It does not
// wait; use Done.
func (v *Viewer) Abort() {
	v.aborted.Store(true)
	v.cancel()
	v.connMu.Lock()
	if v.conn != nil {
		v.conn.Close()
	}
	v.connMu.Unlock()
}

// Status returns a summary of the session.
func (v *Viewer) Status() Status {
	st := v.pending.snapshot()
	s := Status{
		ID:                v.id,
		Role:              telemetry.RoleViewer,
		State:             v.State().String(),
		Frames:            v.frames.Load(),
		FramesDropped:     v.slot.drops(),
		StateMessages:     v.states.Load(),
		BytesIn:           v.bytesIn.Load(),
		BytesOut:          v.bytesOut.Load(),
		LastFrameCostMS:   v.lastCost.Load(),
		FramebufferWidth:  int(st.FramebufferWidth),
		FramebufferHeight: int(st.FramebufferHeight),
	}
	v.connMu.Lock()
	if v.conn != nil && v.conn.RemoteAddr() != nil {
		s.Peer = v.conn.RemoteAddr().String()
	}
	v.connMu.Unlock()
	if m, ok := v.Metadata(); ok {
		s.Metadata = &m
	}
	if err := v.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

func (v *Viewer) run() {
	defer close(v.done)
	defer v.cancel()

	ctx, span := v.cfg.Tracer.StartSession(v.ctx, telemetry.RoleViewer, v.id)
	err := v.serve(ctx)
	if err != nil && v.aborted.Load() {
		err = &Error{SessionID: v.id, Op: "abort", Kind: KindTransport, Err: ErrAborted}
	}
	telemetry.End(span, err, attribute.Int64("remoteviz.frames", int64(v.frames.Load())))

	v.err = err
	v.state.store(StateClosed)
	if err != nil {
		v.logger.Error("session ended", "error", err, "kind", KindOf(err).String())
	} else {
		v.logger.Info("session closed", "frames", v.frames.Load())
	}
}

func (v *Viewer) dial(ctx context.Context) (transport.Conn, error) {
	v.connMu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	v.dialCancel = cancel
	v.connMu.Unlock()
	defer cancel()

	if v.pending.snapshot().Quit {
		return nil, &transport.Error{Op: "dial", Err: context.Canceled}
	}
	if v.cfg.Dial != nil {
		return v.cfg.Dial(ctx)
	}
	return transport.Dial(ctx, v.cfg.Transport, v.cfg.Host, v.cfg.Port, v.cfg.TransportOptions)
}

func (v *Viewer) serve(ctx context.Context) (err error) {
	v.state.store(StateConnecting)
	conn, err := v.dial(ctx)
	if err != nil {
		if v.pending.snapshot().Quit && !v.aborted.Load() {
			// Closed before a worker was reached.
			return nil
		}
		return &Error{SessionID: v.id, Op: "dial", Kind: KindConnection, Err: err}
	}
	v.connMu.Lock()
	v.conn = conn
	v.connMu.Unlock()
	defer conn.Close()
	if v.aborted.Load() {
		return &Error{SessionID: v.id, Op: "dial", Kind: KindConnection, Err: ErrAborted}
	}

	v.metrics.SessionStarted(telemetry.RoleViewer)
	defer func() {
		kind := ""
		if err != nil {
			kind = KindOf(err).String()
		}
		v.metrics.SessionEnded(telemetry.RoleViewer, kind)
	}()
	v.logger.Info("connected", "peer", conn.RemoteAddr())

	r := protocol.NewReader(conn, v.cfg.Limits)
	w := protocol.NewWriter(conn)

	v.state.store(StateMetadataExchange)
	_, hs := v.cfg.Tracer.StartHandshake(ctx)
	meta, err := protocol.ReadMetadata(r)
	telemetry.End(hs, err)
	if err != nil {
		return newError(v.id, "read metadata", err)
	}
	v.metaMu.Lock()
	v.meta = meta
	v.metaMu.Unlock()
	v.haveMeta.Store(true)
	v.logger.Info("metadata received",
		"variables", len(meta.Variables),
		"timesteps", len(meta.Timesteps),
		"variable", meta.Variable,
		"timestep", meta.Timestep)

	v.state.store(StateStreaming)

	// Frames carry the size requested by the last state that changed it.
	width := int(v.cfg.Initial.State.FramebufferWidth)
	height := int(v.cfg.Initial.State.FramebufferHeight)

	var (
		buf             []byte
		msg             protocol.StateMessage
		lastIn, lastOut uint64
	)
	for {
		data, cost, err := protocol.ReadFrame(r, buf)
		if err != nil {
			return newError(v.id, "read frame", err)
		}
		seq := v.frames.Add(1)
		d := time.Duration(cost) * time.Millisecond
		v.lastCost.Store(int64(cost))

		spare, dropped := v.slot.put(Frame{Data: data, Width: width, Height: height, Cost: d, Seq: seq})
		buf = spare
		v.metrics.FrameReceived(d)
		if dropped {
			v.metrics.FrameDropped()
		}

		v.pending.take(&msg)
		if err := protocol.WriteState(w, &msg); err != nil {
			return newError(v.id, "write state", err)
		}
		v.states.Add(1)
		v.metrics.StateMessage(telemetry.DirectionOut)

		in, out := r.BytesRead(), w.BytesWritten()
		v.bytesIn.Store(in)
		v.bytesOut.Store(out)
		v.metrics.Bytes(telemetry.DirectionIn, in-lastIn)
		v.metrics.Bytes(telemetry.DirectionOut, out-lastOut)
		lastIn, lastOut = in, out

		if msg.State.FramebufferSizeChanged {
			width, height = int(msg.State.FramebufferWidth), int(msg.State.FramebufferHeight)
		}
		if msg.State.Quit {
			v.state.store(StateTerminating)
			v.logger.Debug("quit sent")
			return nil
		}
	}
}
