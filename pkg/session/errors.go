package session

import (
	"errors"
	"fmt"

	"github.com/vango-dev/remoteviz/pkg/imagecodec"
	"github.com/vango-dev/remoteviz/pkg/protocol"
	"github.com/vango-dev/remoteviz/pkg/transport"
)

// Sentinel errors for session conditions.
var (
	// ErrClosed is returned when an operation is attempted on a closed session.
	ErrClosed = errors.New("session: closed")

	// ErrNotConnected is returned when a worker operation needs a peer
	// that has not connected yet.
	ErrNotConnected = errors.New("session: not connected")

	// ErrAlreadyConnected is returned by a second Accept.
	ErrAlreadyConnected = errors.New("session: already connected")

	// ErrMetadataSent is returned when metadata is sent twice.
	ErrMetadataSent = errors.New("session: metadata already sent")

	// ErrNoMetadata is returned when a frame is sent before the metadata.
	ErrNoMetadata = errors.New("session: metadata not sent")

	// ErrAborted is recorded when a session is torn down without the quit
	// handshake.
	ErrAborted = errors.New("session: aborted")
)

// Kind classifies session failures.
type Kind uint8

const (
	// KindConnection is a dial, listen or accept failure. The session
	// never reached the metadata exchange.
	KindConnection Kind = iota + 1

	// KindTransport is a send or receive failure on an established
	// connection. The wire is presumed broken; no further handshake.
	KindTransport

	// KindCodec is an image compression or decompression failure.
	KindCodec

	// KindProtocol means the peer sent bytes that do not fit the schema,
	// usually because the two sides were built from different versions.
	KindProtocol
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTransport:
		return "transport"
	case KindCodec:
		return "codec"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Error wraps a session failure with its kind and the failing operation.
type Error struct {
	SessionID string
	Op        string // Operation that failed
	Kind      Kind
	Err       error // Underlying error
}

// Error returns the error message with session context.
func (e *Error) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("session: %s: %s error: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("session %s: %s: %s error: %v", e.SessionID, e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of a session error, or zero if err is not one.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// classify picks the Kind for an error returned by the layers below.
func classify(err error) Kind {
	var ce *imagecodec.CodecError
	switch {
	case transport.IsConnecting(err):
		return KindConnection
	case protocol.IsViolation(err):
		return KindProtocol
	case errors.As(err, &ce):
		return KindCodec
	default:
		return KindTransport
	}
}

func newError(id, op string, err error) *Error {
	return &Error{SessionID: id, Op: op, Kind: classify(err), Err: err}
}
