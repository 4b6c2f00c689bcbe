package session

import "github.com/vango-dev/remoteviz/pkg/protocol"

// Status is a point-in-time summary of a session, shaped for JSON.
type Status struct {
	ID                string             `json:"id"`
	Role              string             `json:"role"`
	State             string             `json:"state"`
	Peer              string             `json:"peer,omitempty"`
	Frames            uint64             `json:"frames"`
	FramesDropped     uint64             `json:"frames_dropped"`
	StateMessages     uint64             `json:"state_messages"`
	BytesIn           uint64             `json:"bytes_in"`
	BytesOut          uint64             `json:"bytes_out"`
	LastFrameCostMS   int64              `json:"last_frame_cost_ms"`
	FramebufferWidth  int                `json:"framebuffer_width,omitempty"`
	FramebufferHeight int                `json:"framebuffer_height,omitempty"`
	Metadata          *protocol.Metadata `json:"metadata,omitempty"`
	Error             string             `json:"error,omitempty"`
}
