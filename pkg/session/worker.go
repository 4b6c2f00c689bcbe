package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/vango-dev/remoteviz/pkg/imagecodec"
	"github.com/vango-dev/remoteviz/pkg/protocol"
	"github.com/vango-dev/remoteviz/pkg/telemetry"
	"github.com/vango-dev/remoteviz/pkg/transport"
)

// Worker is the producer end of a session. It accepts one viewer, sends
// the metadata once and then alternates: one frame out, one state in.
//
// The step methods (Accept, SendMetadata, SendFrame, ReceiveAppState) and
// Serve must be called from a single goroutine. Close and Status may be
// called from any goroutine.
type Worker struct {
	id      string
	cfg     WorkerConfig
	logger  *slog.Logger
	metrics *telemetry.Metrics

	state   stateVar
	closing atomic.Bool

	mu   sync.Mutex
	ln   transport.Listener
	conn transport.Conn

	r    *protocol.Reader
	w    *protocol.Writer
	comp *imagecodec.Compressor
	msg  protocol.StateMessage

	metaSent  bool
	catalog   protocol.Metadata
	variable  string
	timestep  uint64
	lastIn    uint64
	lastOut   uint64
	started   atomic.Bool
	finishErr error
	finished  sync.Once

	frames   atomic.Uint64
	states   atomic.Uint64
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
	lastCost atomic.Int64
	fbWidth  atomic.Int64
	fbHeight atomic.Int64
}

// NewWorker creates a worker session. Nothing is bound until Listen or
// Accept.
func NewWorker(cfg WorkerConfig) *Worker {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Worker{
		id:      id,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "worker", "session", id),
		metrics: cfg.Metrics,
		comp:    imagecodec.NewCompressor(cfg.Codec),
	}
}

// ID returns the session ID.
func (w *Worker) ID() string {
	return w.id
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return w.state.load()
}

// Listen binds the listening socket and returns its address. Accept
// calls it if needed.
func (w *Worker) Listen() (net.Addr, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ln == nil {
		if w.cfg.Listener != nil {
			w.ln = w.cfg.Listener
		} else {
			ln, err := transport.Listen(w.cfg.Transport, w.cfg.Port, w.cfg.TransportOptions)
			if err != nil {
				return nil, &Error{SessionID: w.id, Op: "listen", Kind: KindConnection, Err: err}
			}
			w.ln = ln
		}
	}
	return w.ln.Addr(), nil
}

// Accept blocks until one viewer connects or ctx is done.
func (w *Worker) Accept(ctx context.Context) error {
	if w.conn != nil {
		return ErrAlreadyConnected
	}
	addr, err := w.Listen()
	if err != nil {
		return err
	}
	w.state.store(StateConnecting)
	w.logger.Info("waiting for viewer", "addr", addr.String())

	conn, err := w.ln.Accept(ctx)
	w.ln.Close()
	if err != nil {
		return &Error{SessionID: w.id, Op: "accept", Kind: KindConnection, Err: err}
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	if w.closing.Load() {
		conn.Close()
		return ErrClosed
	}

	w.r = protocol.NewReader(conn, w.cfg.Limits)
	w.w = protocol.NewWriter(conn)
	w.started.Store(true)
	w.metrics.SessionStarted(telemetry.RoleWorker)
	w.state.store(StateMetadataExchange)
	w.logger.Info("viewer connected", "peer", conn.RemoteAddr())
	return nil
}

// SendMetadata sends the catalog. It may be sent only once, before the
// first frame.
func (w *Worker) SendMetadata(m protocol.Metadata) error {
	if w.conn == nil {
		return ErrNotConnected
	}
	if w.metaSent {
		return ErrMetadataSent
	}
	if err := protocol.WriteMetadata(w.w, &m); err != nil {
		return w.fail("write metadata", err)
	}
	w.metaSent = true
	w.catalog = m.Clone()
	slices.Sort(w.catalog.Timesteps)
	w.variable, w.timestep = m.Variable, m.Timestep
	w.updateBytes()
	w.state.store(StateStreaming)
	w.logger.Info("metadata sent", "variables", len(m.Variables), "timesteps", len(m.Timesteps))
	return nil
}

// SendFrame compresses a width×height framebuffer and sends it with its
// render cost. A compression failure ends the session.
func (w *Worker) SendFrame(pixels []uint32, width, height int, cost time.Duration) error {
	if w.conn == nil {
		return ErrNotConnected
	}
	if !w.metaSent {
		return ErrNoMetadata
	}

	start := time.Now()
	data, err := w.comp.Compress(pixels, width, height)
	w.metrics.Codec("compress", time.Since(start))
	if err != nil {
		return w.fail("compress frame", err)
	}

	if err := protocol.WriteFrame(w.w, data, int32(cost.Milliseconds())); err != nil {
		return w.fail("write frame", err)
	}
	w.frames.Add(1)
	w.lastCost.Store(cost.Milliseconds())
	w.fbWidth.Store(int64(width))
	w.fbHeight.Store(int64(height))
	w.metrics.FrameSent(cost)
	w.updateBytes()
	return nil
}

// ReceiveAppState reads the viewer's reply to the last frame. The
// returned message is reused by the next call.
func (w *Worker) ReceiveAppState() (*protocol.StateMessage, error) {
	if w.conn == nil {
		return nil, ErrNotConnected
	}
	if err := protocol.ReadState(w.r, &w.msg); err != nil {
		return nil, w.fail("read state", err)
	}
	w.states.Add(1)
	w.metrics.StateMessage(telemetry.DirectionIn)
	w.updateBytes()
	return &w.msg, nil
}

// Serve runs the whole session against engine: accept if needed, send the
// catalog, then render, send and apply state until the viewer quits. It
// returns nil after a clean quit. Cancelling ctx closes the connection.
func (w *Worker) Serve(ctx context.Context, engine Engine) (err error) {
	ctx, span := w.cfg.Tracer.StartSession(ctx, telemetry.RoleWorker, w.id)
	defer func() {
		telemetry.End(span, err, attribute.Int64("remoteviz.frames", int64(w.frames.Load())))
	}()

	if w.conn == nil {
		if err := w.Accept(ctx); err != nil {
			w.finish(err)
			return err
		}
	}
	stop := context.AfterFunc(ctx, w.closeConn)
	defer stop()
	defer func() {
		if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			err = &Error{SessionID: w.id, Op: "serve", Kind: KindTransport, Err: ctx.Err()}
		}
		w.finish(err)
	}()

	if !w.metaSent {
		_, hs := w.cfg.Tracer.StartHandshake(ctx)
		err := w.SendMetadata(engine.Catalog())
		telemetry.End(hs, err)
		if err != nil {
			return err
		}
	}

	var limiter *rate.Limiter
	if w.cfg.MaxFPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(w.cfg.MaxFPS), 1)
	}

	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		start := time.Now()
		pixels, width, height := engine.Framebuffer()
		cost := time.Since(start)

		if err := w.SendFrame(pixels, width, height, cost); err != nil {
			return err
		}
		msg, err := w.ReceiveAppState()
		if err != nil {
			return err
		}
		w.apply(engine, msg)
		if msg.State.Quit {
			w.state.store(StateTerminating)
			w.logger.Info("viewer quit", "frames", w.frames.Load())
			return nil
		}
	}
}

// apply pushes the changed parts of msg to engine, framebuffer size
// first so the next frame is rendered at the new size, and clears the
// flags it consumed.
func (w *Worker) apply(engine Engine, msg *protocol.StateMessage) {
	s := &msg.State

	if s.FramebufferSizeChanged {
		if s.FramebufferWidth > 0 && s.FramebufferHeight > 0 {
			engine.ApplyFramebufferSize(int(s.FramebufferWidth), int(s.FramebufferHeight))
		} else {
			w.logger.Warn("ignoring invalid framebuffer size",
				"width", s.FramebufferWidth, "height", s.FramebufferHeight)
		}
	}
	if s.CameraChanged {
		engine.ApplyCamera(s.Camera)
	}
	if s.TransferFunctionChanged {
		engine.ApplyTransferFunction(msg.TransferFunction)
	}
	if s.FieldChanged || s.TimestepChanged {
		variable, timestep := w.variable, w.timestep
		if s.FieldChanged {
			if len(w.catalog.Variables) == 0 || w.catalog.HasVariable(msg.Variable) {
				variable = msg.Variable
			} else {
				w.logger.Warn("ignoring unknown variable", "variable", msg.Variable)
			}
		}
		if s.TimestepChanged {
			if len(w.catalog.Timesteps) == 0 || w.catalog.HasTimestep(s.Timestep) {
				timestep = s.Timestep
			} else {
				w.logger.Warn("ignoring unknown timestep", "timestep", s.Timestep)
			}
		}
		if variable != w.variable || timestep != w.timestep {
			w.variable, w.timestep = variable, timestep
			engine.ApplyVariableAndTimestep(variable, timestep)
		}
	}
	s.ClearFlags()
}

// Close ends the session from any goroutine, closing the listener and
// the connection. A blocked Serve returns.
func (w *Worker) Close() error {
	w.closing.Store(true)
	w.mu.Lock()
	if w.ln != nil {
		w.ln.Close()
	}
	w.mu.Unlock()
	w.closeConn()
	w.finish(nil)
	return nil
}

// Status returns a summary of the session.
func (w *Worker) Status() Status {
	s := Status{
		ID:                w.id,
		Role:              telemetry.RoleWorker,
		State:             w.State().String(),
		Frames:            w.frames.Load(),
		StateMessages:     w.states.Load(),
		BytesIn:           w.bytesIn.Load(),
		BytesOut:          w.bytesOut.Load(),
		LastFrameCostMS:   w.lastCost.Load(),
		FramebufferWidth:  int(w.fbWidth.Load()),
		FramebufferHeight: int(w.fbHeight.Load()),
	}
	w.mu.Lock()
	if w.conn != nil && w.conn.RemoteAddr() != nil {
		s.Peer = w.conn.RemoteAddr().String()
	}
	if w.finishErr != nil {
		s.Error = w.finishErr.Error()
	}
	w.mu.Unlock()
	return s
}

func (w *Worker) fail(op string, err error) error {
	if w.closing.Load() {
		return &Error{SessionID: w.id, Op: op, Kind: KindTransport, Err: ErrClosed}
	}
	return newError(w.id, op, err)
}

func (w *Worker) closeConn() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
	}
}

func (w *Worker) updateBytes() {
	in, out := w.r.BytesRead(), w.w.BytesWritten()
	w.bytesIn.Store(in)
	w.bytesOut.Store(out)
	w.metrics.Bytes(telemetry.DirectionIn, in-w.lastIn)
	w.metrics.Bytes(telemetry.DirectionOut, out-w.lastOut)
	w.lastIn, w.lastOut = in, out
}

// finish moves the session to Closed once.
func (w *Worker) finish(err error) {
	w.finished.Do(func() {
		w.closeConn()
		w.mu.Lock()
		w.finishErr = err
		w.mu.Unlock()
		w.state.store(StateClosed)
		if w.started.Load() {
			kind := ""
			if err != nil {
				kind = KindOf(err).String()
			}
			w.metrics.SessionEnded(telemetry.RoleWorker, kind)
		}
		if err != nil {
			w.logger.Error("session ended", "error", err, "kind", KindOf(err).String())
		} else {
			w.logger.Info("session closed", "frames", w.frames.Load())
		}
	})
}
