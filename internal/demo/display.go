package demo

import (
	"math"
	"sync"

	"github.com/vango-dev/remoteviz/pkg/imagecodec"
	"github.com/vango-dev/remoteviz/pkg/protocol"
	"github.com/vango-dev/remoteviz/pkg/session"
)

var _ session.Display = (*Display)(nil)

// Display is a headless session.Display. It can orbit the camera around
// the origin and queues edits made through its setters until the next
// poll. It keeps a copy of the last frame for snapshots and tracks the
// window size, which changes on Resize before the worker catches up.
type Display struct {
	mu sync.Mutex

	orbit  float64
	angle  float64
	radius float64

	resize   *[2]int
	tf       *protocol.TransferFunction
	variable *string
	timestep *uint64

	pixels        []uint32
	width, height int
	frames        int

	winW, winH int
}

// NewDisplay creates a display that turns the camera by orbit radians on
// every poll. Zero keeps the camera still.
func NewDisplay(orbit float64) *Display {
	eye := session.DefaultCamera().Eye
	return &Display{
		orbit:  orbit,
		radius: math.Abs(float64(eye.Z)),
	}
}

// Resize requests a new framebuffer size. The window takes the new size
// at once; frames keep the old one until the worker renders at it.
func (d *Display) Resize(width, height int) {
	d.mu.Lock()
	d.resize = &[2]int{width, height}
	if width > 0 && height > 0 {
		d.winW, d.winH = width, height
	}
	d.mu.Unlock()
}

// SetTransferFunction requests a new transfer function.
func (d *Display) SetTransferFunction(tf protocol.TransferFunction) {
	tf = tf.Clone()
	d.mu.Lock()
	d.tf = &tf
	d.mu.Unlock()
}

// SelectVariable requests a different variable.
func (d *Display) SelectVariable(name string) {
	d.mu.Lock()
	d.variable = &name
	d.mu.Unlock()
}

// SelectTimestep requests a different timestep.
func (d *Display) SelectTimestep(ts uint64) {
	d.mu.Lock()
	d.timestep = &ts
	d.mu.Unlock()
}

func (d *Display) PollCamera() (protocol.Camera, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.orbit == 0 {
		return protocol.Camera{}, false
	}
	d.angle += d.orbit
	sin, cos := math.Sincos(d.angle)
	eye := protocol.Vec3{X: float32(d.radius * sin), Z: float32(-d.radius * cos)}
	return protocol.Camera{
		Eye: eye,
		Dir: protocol.Vec3{X: float32(-sin), Z: float32(cos)},
		Up:  protocol.Vec3{Y: 1},
	}, true
}

func (d *Display) PollTransferFunction() (protocol.TransferFunction, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tf == nil {
		return protocol.TransferFunction{}, false
	}
	tf := *d.tf
	d.tf = nil
	return tf, true
}

func (d *Display) PollVariable() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.variable == nil {
		return "", false
	}
	v := *d.variable
	d.variable = nil
	return v, true
}

func (d *Display) PollTimestep() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timestep == nil {
		return 0, false
	}
	ts := *d.timestep
	d.timestep = nil
	return ts, true
}

func (d *Display) PollResize() (int, int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resize == nil {
		return 0, 0, false
	}
	r := *d.resize
	d.resize = nil
	return r[0], r[1], true
}

// RenderFrame keeps a copy of the frame.
func (d *Display) RenderFrame(pixels []uint32, width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pixels = append(d.pixels[:0], pixels...)
	d.width, d.height = width, height
	d.frames++
}

// Frames returns the number of frames shown.
func (d *Display) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Snapshot returns a copy of the last frame shown. ok is false before the
// first frame.
func (d *Display) Snapshot() (pixels []uint32, width, height int, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frames == 0 {
		return nil, 0, 0, false
	}
	return append([]uint32(nil), d.pixels...), d.width, d.height, true
}

// View returns the last frame fitted to the window. Until the first
// Resize, or if the frame cannot be scaled, it is the frame as received.
func (d *Display) View() (pixels []uint32, width, height int, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frames == 0 {
		return nil, 0, 0, false
	}
	if d.winW == 0 || (d.winW == d.width && d.winH == d.height) {
		return append([]uint32(nil), d.pixels...), d.width, d.height, true
	}
	out, err := imagecodec.Scale(d.pixels, d.width, d.height, d.winW, d.winH, nil)
	if err != nil {
		return append([]uint32(nil), d.pixels...), d.width, d.height, true
	}
	return out, d.winW, d.winH, true
}
