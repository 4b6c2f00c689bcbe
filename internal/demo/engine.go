// Package demo provides a synthetic render engine and a headless display
// so workers and viewers can run without an external renderer.
package demo

import (
	"math"
	"slices"

	"github.com/vango-dev/remoteviz/pkg/imagecodec"
	"github.com/vango-dev/remoteviz/pkg/protocol"
	"github.com/vango-dev/remoteviz/pkg/session"
)

var _ session.Engine = (*Engine)(nil)

// Engine renders an analytic scalar field through the transfer function.
// Each variable has its own ring frequency, the timestep shifts the
// phase and the camera eye pans and zooms the view.
type Engine struct {
	width, height int
	camera        protocol.Camera
	tf            protocol.TransferFunction
	variable      string
	timestep      uint64
	catalog       protocol.Metadata
	pixels        []uint32
	frame         uint64
}

// NewEngine creates an engine with a width×height framebuffer and the
// given catalog. The first variable and smallest timestep are selected.
func NewEngine(width, height int, variables []string, timesteps []uint64) *Engine {
	ts := slices.Clone(timesteps)
	slices.Sort(ts)
	ts = slices.Compact(ts)

	e := &Engine{
		width:  width,
		height: height,
		camera: session.DefaultCamera(),
		tf:     session.DefaultTransferFunction(),
		catalog: protocol.Metadata{
			Variables: slices.Clone(variables),
			Timesteps: ts,
		},
	}
	if len(variables) > 0 {
		e.variable = variables[0]
	}
	if len(ts) > 0 {
		e.timestep = ts[0]
	}
	return e
}

// Catalog returns the variables and timesteps with the current selection.
func (e *Engine) Catalog() protocol.Metadata {
	m := e.catalog.Clone()
	m.Variable, m.Timestep = e.variable, e.timestep
	return m
}

func (e *Engine) ApplyCamera(cam protocol.Camera) {
	e.camera = cam
}

func (e *Engine) ApplyFramebufferSize(width, height int) {
	e.width, e.height = width, height
}

func (e *Engine) ApplyTransferFunction(tf protocol.TransferFunction) {
	e.tf = tf.Clone()
}

func (e *Engine) ApplyVariableAndTimestep(name string, timestep uint64) {
	e.variable, e.timestep = name, timestep
}

// Selection returns the current variable and timestep.
func (e *Engine) Selection() (string, uint64) {
	return e.variable, e.timestep
}

// Size returns the framebuffer size.
func (e *Engine) Size() (int, int) {
	return e.width, e.height
}

// Framebuffer renders the next frame into a reused buffer.
func (e *Engine) Framebuffer() ([]uint32, int, int) {
	w, h := e.width, e.height
	if cap(e.pixels) < w*h {
		e.pixels = make([]uint32, w*h)
	}
	px := e.pixels[:w*h]

	freq := 6.0 + 2.0*float64(max(slices.Index(e.catalog.Variables, e.variable), 0))
	phase := float64(e.timestep)*0.1 + float64(e.frame)*0.05
	e.frame++

	eye := e.camera.Eye
	dist := math.Abs(float64(eye.Z))
	zoom := 500.0 / math.Max(dist, 1)
	cx, cy := float64(eye.X)/500, float64(eye.Y)/500
	aspect := float64(w) / float64(h)

	for y := 0; y < h; y++ {
		ny := (1 - 2*(float64(y)+0.5)/float64(h) - cy) / zoom
		row := px[y*w : (y+1)*w]
		for x := range row {
			nx := ((2*(float64(x)+0.5)/float64(w)-1)*aspect - cx) / zoom
			r := math.Hypot(nx, ny)
			s := 0.5 + 0.5*math.Cos(r*freq-phase)*math.Exp(-r)
			row[x] = e.shade(float32(s))
		}
	}
	return px, w, h
}

// shade maps a scalar in [0, 1] through the transfer function and
// composites it over black.
func (e *Engine) shade(s float32) uint32 {
	c := lerpVec3(e.tf.Colors, s)
	a := lerpFloat(e.tf.Opacities, s)
	return imagecodec.Pack(unit(c.X*a), unit(c.Y*a), unit(c.Z*a), 255)
}

func lerpVec3(v []protocol.Vec3, s float32) protocol.Vec3 {
	switch len(v) {
	case 0:
		return protocol.Vec3{X: s, Y: s, Z: s}
	case 1:
		return v[0]
	}
	i, f := split(len(v), s)
	a, b := v[i], v[i+1]
	return protocol.Vec3{
		X: a.X + (b.X-a.X)*f,
		Y: a.Y + (b.Y-a.Y)*f,
		Z: a.Z + (b.Z-a.Z)*f,
	}
}

func lerpFloat(v []float32, s float32) float32 {
	switch len(v) {
	case 0:
		return 1
	case 1:
		return v[0]
	}
	i, f := split(len(v), s)
	return v[i] + (v[i+1]-v[i])*f
}

// split locates s on n evenly spaced control points.
func split(n int, s float32) (int, float32) {
	s = min(max(s, 0), 1)
	pos := s * float32(n-1)
	i := min(int(pos), n-2)
	return i, pos - float32(i)
}

func unit(v float32) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}
