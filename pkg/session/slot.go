package session

import (
	"sync"
	"time"
)

// Frame is a compressed frame as received by a viewer.
type Frame struct {
	// Data is the compressed image. Its storage is recycled by the
	// viewer on the next NewFrame call that swaps it out.
	Data []byte

	// Width and Height are the dimensions the viewer had requested when
	// the frame was produced.
	Width, Height int

	// Cost is the worker's time to render the frame.
	Cost time.Duration

	// Seq numbers frames from 1 in arrival order.
	Seq uint64
}

// frameSlot is a single-slot mailbox: the I/O goroutine overwrites the
// slot, the owner takes it at most once.
type frameSlot struct {
	mu    sync.Mutex
	frame Frame
	fresh bool

	dropped uint64
}

// put publishes f, swapping its buffer with the slot's. The returned
// slice is storage the caller may reuse for the next receive. dropped
// reports whether an unconsumed frame was overwritten.
func (s *frameSlot) put(f Frame) (spare []byte, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spare = s.frame.Data
	dropped = s.fresh
	if dropped {
		s.dropped++
	}
	s.frame = f
	s.fresh = true
	return spare[:0], dropped
}

// take moves the newest frame into dst if one arrived since the last
// take. dst's old buffer goes back to the slot.
func (s *frameSlot) take(dst *Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fresh {
		return false
	}
	old := dst.Data
	*dst = s.frame
	s.frame = Frame{Data: old}
	s.fresh = false
	return true
}

func (s *frameSlot) drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
