package session

import (
	"slices"
	"testing"

	"github.com/vango-dev/remoteviz/pkg/protocol"
)

func TestPendingLatch(t *testing.T) {
	var p pendingState
	p.init(&Update{})

	for i := 0; i < 5; i++ {
		u := Update{}
		u.State.CameraChanged = true
		u.State.Camera.Eye = protocol.Vec3{X: float32(i)}
		p.merge(&u)
	}

	var msg protocol.StateMessage
	p.take(&msg)
	if !msg.State.CameraChanged {
		t.Fatal("CameraChanged = false after merges, want true")
	}
	if msg.State.Camera.Eye.X != 4 {
		t.Errorf("Camera.Eye.X = %v, want 4 (last write)", msg.State.Camera.Eye.X)
	}

	p.take(&msg)
	if msg.State.CameraChanged {
		t.Error("CameraChanged = true on second take, want false")
	}
}

func TestPendingMergeConditionalFields(t *testing.T) {
	var p pendingState
	p.init(&Update{Variable: "density"})

	// Timestep and variable without their flags are ignored.
	u := Update{Variable: "pressure"}
	u.State.Timestep = 20
	u.State.FramebufferWidth = 640
	u.State.FramebufferHeight = 480
	p.merge(&u)

	var msg protocol.StateMessage
	p.take(&msg)
	if msg.Variable != "density" {
		t.Errorf("Variable = %q, want density", msg.Variable)
	}
	if msg.State.Timestep != 0 {
		t.Errorf("Timestep = %d, want 0", msg.State.Timestep)
	}
	if msg.State.FramebufferWidth != 640 || msg.State.FramebufferHeight != 480 {
		t.Errorf("framebuffer = %dx%d, want 640x480", msg.State.FramebufferWidth, msg.State.FramebufferHeight)
	}

	// With flags they are taken.
	u.State.TimestepChanged = true
	u.State.FieldChanged = true
	p.merge(&u)
	p.take(&msg)
	if msg.Variable != "pressure" || msg.State.Timestep != 20 {
		t.Errorf("selection = %q/%d, want pressure/20", msg.Variable, msg.State.Timestep)
	}
	if !msg.State.TimestepChanged || !msg.State.FieldChanged {
		t.Errorf("flags = %+v, want timestep and field set", msg.State)
	}
}

func TestPendingFlagsAccumulate(t *testing.T) {
	var p pendingState
	p.init(&Update{})

	a := Update{}
	a.State.CameraChanged = true
	b := Update{}
	b.State.TimestepChanged = true
	b.State.Timestep = 10
	c := Update{}
	c.State.FramebufferSizeChanged = true

	p.merge(&a)
	p.merge(&b)
	p.merge(&c)

	var msg protocol.StateMessage
	p.take(&msg)
	s := msg.State
	if !s.CameraChanged || !s.TimestepChanged || !s.FramebufferSizeChanged {
		t.Errorf("flags lost in merge: %+v", s)
	}
	if s.Timestep != 10 {
		t.Errorf("Timestep = %d, want 10", s.Timestep)
	}
}

func TestPendingTransferFunction(t *testing.T) {
	var p pendingState
	p.init(&Update{})

	tf := DefaultTransferFunction()
	u := Update{TransferFunction: tf}
	u.State.TransferFunctionChanged = true
	p.merge(&u)

	// The caller's slices are not shared with the pending state.
	tf.Colors[0] = protocol.Vec3{X: 9}

	// An update without the flag leaves the payload alone.
	p.merge(&Update{TransferFunction: protocol.TransferFunction{Opacities: []float32{5}}})

	var msg protocol.StateMessage
	p.take(&msg)
	if !msg.State.TransferFunctionChanged {
		t.Fatal("TransferFunctionChanged = false")
	}
	want := DefaultTransferFunction()
	if !slices.Equal(msg.TransferFunction.Colors, want.Colors) {
		t.Errorf("Colors = %v, want %v", msg.TransferFunction.Colors, want.Colors)
	}
	if !slices.Equal(msg.TransferFunction.Opacities, want.Opacities) {
		t.Errorf("Opacities = %v, want %v", msg.TransferFunction.Opacities, want.Opacities)
	}
}

func TestPendingQuitSticky(t *testing.T) {
	var p pendingState
	p.init(&Update{})
	p.setQuit()

	var msg protocol.StateMessage
	p.take(&msg)
	if !msg.State.Quit {
		t.Fatal("Quit = false after setQuit")
	}

	p.merge(&Update{})
	p.take(&msg)
	if !msg.State.Quit {
		t.Error("Quit cleared by a later merge or take")
	}
}

func TestFrameSlotAtMostOnce(t *testing.T) {
	var s frameSlot
	var dst Frame

	if s.take(&dst) {
		t.Fatal("take() = true on empty slot")
	}

	s.put(Frame{Data: []byte{1}, Seq: 1})
	if !s.take(&dst) {
		t.Fatal("take() = false after put")
	}
	if dst.Seq != 1 {
		t.Errorf("Seq = %d, want 1", dst.Seq)
	}

	before := dst
	if s.take(&dst) {
		t.Error("second take() = true without a new frame")
	}
	if dst.Seq != before.Seq || &dst.Data[0] != &before.Data[0] {
		t.Error("second take() modified the destination")
	}
}

func TestFrameSlotOverwrite(t *testing.T) {
	var s frameSlot

	s.put(Frame{Data: []byte{1}, Seq: 1})
	_, dropped := s.put(Frame{Data: []byte{2}, Seq: 2})
	if !dropped {
		t.Error("put() over an unconsumed frame: dropped = false")
	}
	if s.drops() != 1 {
		t.Errorf("drops() = %d, want 1", s.drops())
	}

	var dst Frame
	s.take(&dst)
	if dst.Seq != 2 || dst.Data[0] != 2 {
		t.Errorf("take() = seq %d data %v, want newest", dst.Seq, dst.Data)
	}
}

func TestFrameSlotRecyclesBuffers(t *testing.T) {
	var s frameSlot
	a := make([]byte, 1, 8)
	b := make([]byte, 1, 8)

	s.put(Frame{Data: a})
	dst := Frame{Data: b}
	s.take(&dst)

	spare, _ := s.put(Frame{Data: make([]byte, 1)})
	if cap(spare) != 8 || &spare[:1][0] != &b[0] {
		t.Error("put() did not hand back the owner's old buffer")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateConnecting, "connecting"},
		{StateMetadataExchange, "metadata_exchange"},
		{StateStreaming, "streaming"},
		{StateTerminating, "terminating"},
		{StateClosed, "closed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestDefaults(t *testing.T) {
	tf := DefaultTransferFunction()
	if len(tf.Colors) != 7 || len(tf.Opacities) != 2 {
		t.Errorf("DefaultTransferFunction() = %d colors, %d opacities", len(tf.Colors), len(tf.Opacities))
	}
	u := DefaultUpdate()
	if u.State.FramebufferWidth != DefaultFramebufferWidth || !u.State.FramebufferSizeChanged {
		t.Errorf("DefaultUpdate() = %+v", u.State)
	}
	if u.State.Camera.Eye.Z != -500 {
		t.Errorf("default eye = %v", u.State.Camera.Eye)
	}
}
