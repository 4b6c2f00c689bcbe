package session

import (
	"sync"
	"sync/atomic"

	"github.com/vango-dev/remoteviz/pkg/protocol"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateConnecting State = iota
	StateMetadataExchange
	StateStreaming
	StateTerminating
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateMetadataExchange:
		return "metadata_exchange"
	case StateStreaming:
		return "streaming"
	case StateTerminating:
		return "terminating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateVar is an atomically updated State.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) load() State   { return State(s.v.Load()) }
func (s *stateVar) store(v State) { s.v.Store(int32(v)) }

// Update is the owner's current view of the application state plus the
// flags marking what changed since its previous update. Camera and
// framebuffer size are taken as-is; Timestep, Variable and
// TransferFunction are only taken when their flag is set.
type Update struct {
	State            protocol.AppState
	Variable         string
	TransferFunction protocol.TransferFunction
}

// pendingState accumulates updates between two sends.
type pendingState struct {
	mu  sync.Mutex
	msg protocol.StateMessage
}

func (p *pendingState) init(u *Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msg = protocol.StateMessage{
		State:            u.State,
		Variable:         u.Variable,
		TransferFunction: u.TransferFunction.Clone(),
	}
}

// merge ORs the update's flags onto the unsent ones and overwrites the
// fields the update owns.
func (p *pendingState) merge(u *Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &p.msg.State
	s.Camera = u.State.Camera
	s.FramebufferWidth = u.State.FramebufferWidth
	s.FramebufferHeight = u.State.FramebufferHeight

	if u.State.TimestepChanged {
		s.Timestep = u.State.Timestep
	}
	if u.State.FieldChanged {
		p.msg.Variable = u.Variable
	}
	if u.State.TransferFunctionChanged {
		p.msg.TransferFunction = u.TransferFunction.Clone()
	}

	s.CameraChanged = s.CameraChanged || u.State.CameraChanged
	s.FramebufferSizeChanged = s.FramebufferSizeChanged || u.State.FramebufferSizeChanged
	s.TransferFunctionChanged = s.TransferFunctionChanged || u.State.TransferFunctionChanged
	s.TimestepChanged = s.TimestepChanged || u.State.TimestepChanged
	s.FieldChanged = s.FieldChanged || u.State.FieldChanged
	s.Quit = s.Quit || u.State.Quit
}

// setQuit marks the pending state as the final one.
func (p *pendingState) setQuit() {
	p.mu.Lock()
	p.msg.State.Quit = true
	p.mu.Unlock()
}

// take copies the pending state into dst and clears the dirty flags. The
// payload slices of dst are reused. Quit stays set once set.
func (p *pendingState) take(dst *protocol.StateMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dst.State = p.msg.State
	dst.Variable = p.msg.Variable
	if p.msg.State.TransferFunctionChanged {
		dst.TransferFunction.Colors = append(dst.TransferFunction.Colors[:0], p.msg.TransferFunction.Colors...)
		dst.TransferFunction.Opacities = append(dst.TransferFunction.Opacities[:0], p.msg.TransferFunction.Opacities...)
	}
	p.msg.State.ClearFlags()
}

// snapshot returns a copy of the pending state without clearing flags.
func (p *pendingState) snapshot() protocol.AppState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msg.State
}
