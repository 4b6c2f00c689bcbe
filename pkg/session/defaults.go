package session

import "github.com/vango-dev/remoteviz/pkg/protocol"

// Default framebuffer size.
const (
	DefaultFramebufferWidth  = 1024
	DefaultFramebufferHeight = 1024
)

// DefaultCamera looks down +Z from 500 units back.
func DefaultCamera() protocol.Camera {
	return protocol.Camera{
		Eye: protocol.Vec3{X: 0, Y: 0, Z: -500},
		Dir: protocol.Vec3{X: 0, Y: 0, Z: 1},
		Up:  protocol.Vec3{X: 0, Y: 1, Z: 0},
	}
}

// DefaultTransferFunction is a dark-blue to dark-red ramp with a linear
// opacity ramp.
func DefaultTransferFunction() protocol.TransferFunction {
	return protocol.TransferFunction{
		Colors: []protocol.Vec3{
			{X: 0, Y: 0, Z: 0.56},
			{X: 0, Y: 0, Z: 1},
			{X: 0, Y: 1, Z: 1},
			{X: 0.5, Y: 1, Z: 0.5},
			{X: 1, Y: 1, Z: 0},
			{X: 1, Y: 0, Z: 0},
			{X: 0.5, Y: 0, Z: 0},
		},
		Opacities: []float32{0.0001, 1},
	}
}

// DefaultUpdate is the state a viewer announces first: default camera,
// default framebuffer size and transfer function, all flagged so the
// worker adopts them before its second frame.
func DefaultUpdate() Update {
	return Update{
		State: protocol.AppState{
			Camera:                  DefaultCamera(),
			FramebufferWidth:        DefaultFramebufferWidth,
			FramebufferHeight:       DefaultFramebufferHeight,
			CameraChanged:           true,
			FramebufferSizeChanged:  true,
			TransferFunctionChanged: true,
		},
		TransferFunction: DefaultTransferFunction(),
	}
}
