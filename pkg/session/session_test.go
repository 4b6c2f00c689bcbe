package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/remoteviz/pkg/imagecodec"
	"github.com/vango-dev/remoteviz/pkg/protocol"
	"github.com/vango-dev/remoteviz/pkg/transport"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeEngine renders flat frames and records what it was told.
type fakeEngine struct {
	mu       sync.Mutex
	width    int
	height   int
	fixed    bool
	calls    []string
	camera   protocol.Camera
	tf       protocol.TransferFunction
	variable string
	timestep uint64
	renders  int
	catalog  protocol.Metadata
}

func newFakeEngine(w, h int) *fakeEngine {
	return &fakeEngine{
		width:  w,
		height: h,
		catalog: protocol.Metadata{
			Variables: []string{"density", "pressure"},
			Timesteps: []uint64{0, 10, 20},
			Variable:  "density",
		},
	}
}

func (e *fakeEngine) Framebuffer() ([]uint32, int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renders++
	px := make([]uint32, e.width*e.height)
	for i := range px {
		px[i] = imagecodec.Pack(uint8(e.renders), 128, 64, 255)
	}
	return px, e.width, e.height
}

func (e *fakeEngine) ApplyCamera(cam protocol.Camera) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "camera")
	e.camera = cam
}

func (e *fakeEngine) ApplyFramebufferSize(w, h int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "fbsize")
	if !e.fixed {
		e.width, e.height = w, h
	}
}

func (e *fakeEngine) ApplyTransferFunction(tf protocol.TransferFunction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "tfcn")
	e.tf = tf.Clone()
}

func (e *fakeEngine) ApplyVariableAndTimestep(name string, ts uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "select")
	e.variable, e.timestep = name, ts
}

func (e *fakeEngine) Catalog() protocol.Metadata {
	return e.catalog.Clone()
}

func (e *fakeEngine) snapshot() (calls []string, renders int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls), e.renders
}

// fakeDisplay hands out queued edits and records rendered frames.
type fakeDisplay struct {
	mu       sync.Mutex
	camera   *protocol.Camera
	tf       *protocol.TransferFunction
	variable *string
	timestep *uint64
	resize   [2]int
	frames   [][2]int
}

func (d *fakeDisplay) PollCamera() (protocol.Camera, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.camera == nil {
		return protocol.Camera{}, false
	}
	c := *d.camera
	d.camera = nil
	return c, true
}

func (d *fakeDisplay) PollTransferFunction() (protocol.TransferFunction, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tf == nil {
		return protocol.TransferFunction{}, false
	}
	tf := *d.tf
	d.tf = nil
	return tf, true
}

func (d *fakeDisplay) PollVariable() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.variable == nil {
		return "", false
	}
	v := *d.variable
	d.variable = nil
	return v, true
}

func (d *fakeDisplay) PollTimestep() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timestep == nil {
		return 0, false
	}
	ts := *d.timestep
	d.timestep = nil
	return ts, true
}

func (d *fakeDisplay) PollResize() (int, int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resize[0] == 0 {
		return 0, 0, false
	}
	w, h := d.resize[0], d.resize[1]
	d.resize = [2]int{}
	return w, h, true
}

func (d *fakeDisplay) RenderFrame(pixels []uint32, w, h int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(pixels) != w*h {
		panic("RenderFrame: pixel count does not match size")
	}
	d.frames = append(d.frames, [2]int{w, h})
}

func (d *fakeDisplay) lastSize() (int, int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return 0, 0, 0
	}
	f := d.frames[len(d.frames)-1]
	return f[0], f[1], len(d.frames)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func smallUpdate(w, h int32) *Update {
	u := Update{}
	u.State.Camera = DefaultCamera()
	u.State.FramebufferWidth = w
	u.State.FramebufferHeight = h
	u.State.CameraChanged = true
	u.State.FramebufferSizeChanged = true
	return &u
}

// newPair binds a worker on a free port and starts a viewer against it.
// The worker has not accepted yet.
func newPair(t *testing.T, initial *Update) (*Worker, *Viewer) {
	t.Helper()
	ln, err := transport.ListenTCP(0, transport.Options{})
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(p)

	w := NewWorker(WorkerConfig{Listener: ln, Logger: quietLogger, MaxFPS: 500})
	t.Cleanup(func() { w.Close() })

	v := NewViewer(context.Background(), ViewerConfig{
		Host:    "127.0.0.1",
		Port:    port,
		Initial: initial,
		Logger:  quietLogger,
	})
	t.Cleanup(func() {
		v.Abort()
		<-v.Done()
	})
	return w, v
}

func serve(w *Worker, e Engine) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- w.Serve(context.Background(), e) }()
	return errc
}

func TestMetadataAvailableAfterExchange(t *testing.T) {
	w, v := newPair(t, smallUpdate(1920, 1080))

	if _, ok := v.Metadata(); ok {
		t.Fatal("Metadata() ok = true before the worker sent it")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Accept(ctx); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	want := protocol.Metadata{
		Variables: []string{"density", "pressure"},
		Timesteps: []uint64{20, 0, 10, 10},
		Variable:  "density",
		Timestep:  0,
	}
	if err := w.SendMetadata(want); err != nil {
		t.Fatalf("SendMetadata() error = %v", err)
	}
	if err := w.SendMetadata(want); !errors.Is(err, ErrMetadataSent) {
		t.Errorf("second SendMetadata() error = %v, want ErrMetadataSent", err)
	}

	var got protocol.Metadata
	waitFor(t, "metadata", func() bool {
		var ok bool
		got, ok = v.Metadata()
		return ok
	})

	if !slices.Equal(got.Variables, want.Variables) {
		t.Errorf("Variables = %v, want %v", got.Variables, want.Variables)
	}
	if !slices.Equal(got.Timesteps, []uint64{0, 10, 20}) {
		t.Errorf("Timesteps = %v, want [0 10 20]", got.Timesteps)
	}
	if got.Variable != "density" || got.Timestep != 0 {
		t.Errorf("selection = %q/%d, want density/0", got.Variable, got.Timestep)
	}
	waitFor(t, "streaming state", func() bool { return v.State() == StateStreaming })
}

func TestStepwiseExchange(t *testing.T) {
	w, v := newPair(t, smallUpdate(16, 8))

	if err := w.SendFrame(nil, 1, 1, 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendFrame() before Accept error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Accept(ctx); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if err := w.SendFrame(make([]uint32, 16*8), 16, 8, 0); !errors.Is(err, ErrNoMetadata) {
		t.Errorf("SendFrame() before SendMetadata error = %v, want ErrNoMetadata", err)
	}
	if err := w.SendMetadata(newFakeEngine(16, 8).Catalog()); err != nil {
		t.Fatalf("SendMetadata() error = %v", err)
	}

	// First reply carries the initial state.
	if err := w.SendFrame(make([]uint32, 16*8), 16, 8, 7*time.Millisecond); err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}
	msg, err := w.ReceiveAppState()
	if err != nil {
		t.Fatalf("ReceiveAppState() error = %v", err)
	}
	if !msg.State.CameraChanged || !msg.State.FramebufferSizeChanged {
		t.Errorf("first state flags = %+v, want camera and framebuffer", msg.State)
	}
	if msg.State.FramebufferWidth != 16 || msg.State.FramebufferHeight != 8 {
		t.Errorf("first state size = %dx%d", msg.State.FramebufferWidth, msg.State.FramebufferHeight)
	}

	var f Frame
	if !v.NewFrame(&f) {
		t.Fatal("NewFrame() = false after a frame was acknowledged")
	}
	if f.Width != 16 || f.Height != 8 || f.Cost != 7*time.Millisecond || f.Seq != 1 {
		t.Errorf("frame = %dx%d cost %v seq %d", f.Width, f.Height, f.Cost, f.Seq)
	}
	if v.NewFrame(&f) {
		t.Error("NewFrame() = true twice for one frame")
	}

	// Edits between frames are latched into the next reply.
	u := Update{Variable: "pressure"}
	u.State.Camera = DefaultCamera()
	u.State.FramebufferWidth, u.State.FramebufferHeight = 16, 8
	u.State.FieldChanged = true
	v.UpdateAppState(&u)

	if err := w.SendFrame(make([]uint32, 16*8), 16, 8, 0); err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}
	msg, err = w.ReceiveAppState()
	if err != nil {
		t.Fatalf("ReceiveAppState() error = %v", err)
	}
	if !msg.State.FieldChanged || msg.Variable != "pressure" {
		t.Errorf("second state = %+v variable %q, want pressure", msg.State, msg.Variable)
	}
	if msg.State.CameraChanged || msg.State.FramebufferSizeChanged {
		t.Errorf("second state repeated sent flags: %+v", msg.State)
	}

	// Nothing new: every flag is clear.
	if err := w.SendFrame(make([]uint32, 16*8), 16, 8, 0); err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}
	msg, err = w.ReceiveAppState()
	if err != nil {
		t.Fatalf("ReceiveAppState() error = %v", err)
	}
	if msg.State.Dirty() || msg.State.Quit {
		t.Errorf("third state = %+v, want no flags", msg.State)
	}
}

func TestServeAppliesEdits(t *testing.T) {
	w, v := newPair(t, smallUpdate(64, 48))
	engine := newFakeEngine(64, 48)
	errc := serve(w, engine)

	display := &fakeDisplay{}
	p := NewPresenter(v, display, imagecodec.Options{})

	waitFor(t, "first frame", func() bool {
		p.Step()
		return p.Rendered() > 0
	})

	cam := protocol.Camera{
		Eye: protocol.Vec3{X: 1, Y: 2, Z: 3},
		Dir: protocol.Vec3{Z: -1},
		Up:  protocol.Vec3{Y: 1},
	}
	tf := protocol.TransferFunction{
		Colors:    []protocol.Vec3{{X: 1}, {Y: 1}},
		Opacities: []float32{0, 0.5, 1},
	}
	variable := "pressure"
	timestep := uint64(20)
	display.mu.Lock()
	display.camera = &cam
	display.tf = &tf
	display.variable = &variable
	display.timestep = &timestep
	display.resize = [2]int{32, 16}
	display.mu.Unlock()

	waitFor(t, "resized frame", func() bool {
		p.Step()
		w, h, _ := display.lastSize()
		return w == 32 && h == 16
	})

	calls, _ := engine.snapshot()
	if len(calls) < 6 {
		t.Fatalf("engine calls = %v", calls)
	}
	if got := calls[:2]; !slices.Equal(got, []string{"fbsize", "camera"}) {
		t.Errorf("initial calls = %v, want [fbsize camera]", got)
	}
	if got := calls[len(calls)-4:]; !slices.Equal(got, []string{"fbsize", "camera", "tfcn", "select"}) {
		t.Errorf("edit calls = %v, want [fbsize camera tfcn select]", got)
	}

	engine.mu.Lock()
	if engine.camera != cam {
		t.Errorf("camera = %+v, want %+v", engine.camera, cam)
	}
	if !slices.Equal(engine.tf.Opacities, tf.Opacities) || !slices.Equal(engine.tf.Colors, tf.Colors) {
		t.Errorf("transfer function = %+v", engine.tf)
	}
	if engine.variable != "pressure" || engine.timestep != 20 {
		t.Errorf("selection = %q/%d", engine.variable, engine.timestep)
	}
	engine.mu.Unlock()

	if p.Discarded() != 0 {
		t.Errorf("Discarded() = %d, want 0", p.Discarded())
	}
	if err := v.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := <-errc; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}

func TestServeIgnoresUnknownSelection(t *testing.T) {
	w, v := newPair(t, smallUpdate(8, 8))
	engine := newFakeEngine(8, 8)
	errc := serve(w, engine)

	waitFor(t, "streaming", func() bool { return w.Status().StateMessages > 0 })

	u := Update{Variable: "temperature"}
	u.State.Camera = DefaultCamera()
	u.State.FramebufferWidth, u.State.FramebufferHeight = 8, 8
	u.State.Timestep = 15
	u.State.FieldChanged = true
	u.State.TimestepChanged = true
	v.UpdateAppState(&u)

	base := v.Status().StateMessages
	waitFor(t, "state delivery", func() bool { return w.Status().StateMessages > base+1 })

	calls, _ := engine.snapshot()
	if slices.Contains(calls, "select") {
		t.Errorf("engine calls = %v, unknown selection was applied", calls)
	}

	if err := v.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := <-errc; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}

func TestTerminationHandshake(t *testing.T) {
	w, v := newPair(t, smallUpdate(8, 8))
	engine := newFakeEngine(8, 8)
	errc := serve(w, engine)

	waitFor(t, "frames", func() bool { return v.Status().Frames >= 3 })

	if err := v.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after quit")
	}

	_, renders := engine.snapshot()
	sent := w.Status().Frames
	received := v.Status().Frames
	if uint64(renders) != sent || sent != received {
		t.Errorf("renders = %d, sent = %d, received = %d; want all equal", renders, sent, received)
	}
	if v.State() != StateClosed || w.State() != StateClosed {
		t.Errorf("states = %v/%v, want closed", v.State(), w.State())
	}
	if v.Err() != nil {
		t.Errorf("Err() = %v, want nil", v.Err())
	}
}

func TestPresenterDiscardsStaleSize(t *testing.T) {
	w, v := newPair(t, smallUpdate(64, 48))
	engine := newFakeEngine(80, 60)
	engine.fixed = true
	errc := serve(w, engine)

	display := &fakeDisplay{}
	p := NewPresenter(v, display, imagecodec.Options{})
	waitFor(t, "discard", func() bool {
		p.Step()
		return p.Discarded() > 0
	})
	if p.Rendered() != 0 {
		t.Errorf("Rendered() = %d, want 0", p.Rendered())
	}
	if _, _, n := display.lastSize(); n != 0 {
		t.Errorf("display got %d frames, want none", n)
	}

	v.Close()
	<-errc
}

func TestPresenterDiscardsUndecodableFrame(t *testing.T) {
	cfg := ViewerConfig{Logger: quietLogger}.withDefaults()
	v := &Viewer{cfg: cfg, logger: cfg.Logger, done: make(chan struct{})}
	display := &fakeDisplay{}
	p := NewPresenter(v, display, imagecodec.Options{})

	v.slot.put(Frame{Data: []byte("not a jpeg"), Width: 4, Height: 4, Seq: 1})
	if p.Step() {
		t.Fatal("Step() = true for an undecodable frame")
	}
	if p.Discarded() != 1 {
		t.Fatalf("Discarded() = %d, want 1", p.Discarded())
	}

	// The next good frame is shown.
	px := make([]uint32, 4*4)
	data, err := imagecodec.NewCompressor(imagecodec.Options{}).Compress(px, 4, 4)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	v.slot.put(Frame{Data: data, Width: 4, Height: 4, Seq: 2})
	if !p.Step() {
		t.Fatal("Step() = false for a valid frame")
	}
	if _, w, h := p.LastFrame(); w != 4 || h != 4 {
		t.Errorf("LastFrame() size = %dx%d", w, h)
	}
	if p.Step() {
		t.Error("Step() = true with no new frame")
	}
}

func TestWorkerPortZeroBindsFreePort(t *testing.T) {
	w := NewWorker(WorkerConfig{Port: 0, Logger: quietLogger})
	defer w.Close()

	addr, err := w.Listen()
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	port := addr.(*net.TCPAddr).Port
	if port == 0 || port == DefaultPort {
		t.Errorf("Listen() with port 0 bound %d, want a free port", port)
	}
}

func TestViewerDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	v := NewViewer(context.Background(), ViewerConfig{Host: "127.0.0.1", Port: port, Logger: quietLogger})
	select {
	case <-v.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("viewer did not give up")
	}
	if k := KindOf(v.Err()); k != KindConnection {
		t.Errorf("KindOf(Err()) = %v, want connection (err %v)", k, v.Err())
	}
	if _, ok := v.Metadata(); ok {
		t.Error("Metadata() ok = true after a failed dial")
	}
}

func TestViewerRejectsOversizedMetadata(t *testing.T) {
	ln, err := transport.ListenTCP(0, transport.Options{})
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	v := NewViewer(context.Background(), ViewerConfig{Host: "127.0.0.1", Port: port, Logger: quietLogger})
	defer v.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := ln.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer conn.Close()

	pw := protocol.NewWriter(conn)
	pw.WriteUint64(1 << 40)
	if err := pw.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	<-v.Done()
	if k := KindOf(v.Err()); k != KindProtocol {
		t.Errorf("KindOf(Err()) = %v, want protocol (err %v)", k, v.Err())
	}
}

func TestWorkerSeesViewerAbort(t *testing.T) {
	w, v := newPair(t, smallUpdate(8, 8))
	errc := serve(w, newFakeEngine(8, 8))

	waitFor(t, "frames", func() bool { return v.Status().Frames >= 1 })
	v.Abort()
	<-v.Done()

	if !errors.Is(v.Err(), ErrAborted) {
		t.Errorf("viewer Err() = %v, want ErrAborted", v.Err())
	}
	select {
	case err := <-errc:
		if k := KindOf(err); k != KindTransport {
			t.Errorf("Serve() kind = %v, want transport (err %v)", k, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not notice the viewer leaving")
	}
	if w.Status().Error == "" {
		t.Error("Status().Error is empty after a failed session")
	}
}

func TestServeCancelled(t *testing.T) {
	w, v := newPair(t, smallUpdate(8, 8))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Serve(ctx, newFakeEngine(8, 8)) }()

	waitFor(t, "frames", func() bool { return v.Status().Frames >= 1 })
	cancel()

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("Serve() error = nil after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() ignored cancellation")
	}
	<-v.Done()
	if v.Err() == nil {
		t.Error("viewer Err() = nil after the worker went away")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		k    Kind
		want string
	}{
		{KindConnection, "connection"},
		{KindTransport, "transport"},
		{KindCodec, "codec"},
		{KindProtocol, "protocol"},
		{Kind(0), "Kind(0)"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"dial", &transport.Error{Op: "dial", Err: errors.New("refused")}, KindConnection},
		{"violation", protocol.ErrCollectionTooLarge, KindProtocol},
		{"codec", &imagecodec.CodecError{Op: "compress", Err: imagecodec.ErrInvalidDimensions}, KindCodec},
		{"eof", io.ErrUnexpectedEOF, KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newError("id", "op", tt.err)
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("session error does not unwrap to its cause")
			}
		})
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Error("KindOf(plain error) != 0")
	}
}
