package session

import "github.com/vango-dev/remoteviz/pkg/protocol"

// Engine is the rendering side a Worker drives. Calls come from the
// goroutine running Worker.Serve, one at a time.
type Engine interface {
	// Framebuffer renders the current frame and returns its pixels,
	// packed RGBA, with its dimensions. The slice is only read until the
	// next call.
	Framebuffer() (pixels []uint32, width, height int)

	// ApplyCamera sets the camera basis.
	ApplyCamera(cam protocol.Camera)

	// ApplyFramebufferSize resizes the framebuffer and recomputes any
	// size-dependent camera parameters, such as the aspect ratio.
	ApplyFramebufferSize(width, height int)

	// ApplyTransferFunction replaces the color and opacity maps. The
	// slices are reused after the call returns; copy them to keep them.
	ApplyTransferFunction(tf protocol.TransferFunction)

	// ApplyVariableAndTimestep switches the displayed field.
	ApplyVariableAndTimestep(name string, timestep uint64)

	// Catalog returns the variables and timesteps available, with the
	// current selection.
	Catalog() protocol.Metadata
}

// Display is the user-facing side a viewer's Presenter drives. The Poll
// methods return ok=false when nothing changed since the previous poll.
type Display interface {
	PollCamera() (cam protocol.Camera, ok bool)
	PollTransferFunction() (tf protocol.TransferFunction, ok bool)
	PollVariable() (name string, ok bool)
	PollTimestep() (timestep uint64, ok bool)
	PollResize() (width, height int, ok bool)

	// RenderFrame shows a decoded frame. pixels is only valid for the
	// duration of the call.
	RenderFrame(pixels []uint32, width, height int)
}
