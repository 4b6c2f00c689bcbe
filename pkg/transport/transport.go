package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Kind selects the wire carrying a session.
type Kind string

const (
	// KindTCP is a raw TCP byte stream.
	KindTCP Kind = "tcp"

	// KindWebSocket carries the byte stream in binary WebSocket messages,
	// one message per Flush.
	KindWebSocket Kind = "ws"
)

// ErrClosed is returned by operations on a closed connection or listener.
var ErrClosed = errors.New("transport: closed")

// ErrUnknownKind is returned when a transport kind is not recognized.
var ErrUnknownKind = errors.New("transport: unknown kind")

// Conn is a blocking, ordered byte stream to exactly one peer.
//
// Conn is not safe for concurrent use: a session hands it to a single
// goroutine after the connection is established.
type Conn interface {
	// Send queues b for transmission. Data may be buffered until Flush.
	Send(b []byte) error

	// ReceiveExact fills p completely or returns an error.
	ReceiveExact(p []byte) error

	// Flush pushes every queued byte to the peer before returning.
	Flush() error

	// Close releases the connection. It is safe to call more than once.
	Close() error

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
}

// Listener waits for the single peer of a session.
type Listener interface {
	// Accept blocks until one peer connects or ctx is done. After a
	// successful Accept the listener stops taking connections.
	Accept(ctx context.Context) (Conn, error)

	// Addr returns the bound address.
	Addr() net.Addr

	// Close stops listening.
	Close() error
}

// Options tune a connection. The zero value is valid.
type Options struct {
	// ReadTimeout bounds every ReceiveExact call. Zero disables the
	// timeout, which means a hung peer blocks the reader indefinitely.
	ReadTimeout time.Duration

	// WriteTimeout bounds every Flush. Zero disables the timeout.
	WriteTimeout time.Duration

	// BufferSize is the size of the read and write buffers.
	// Default: 64KB.
	BufferSize int

	// Path is the HTTP path used by the WebSocket transport.
	// Default: "/session".
	Path string
}

const (
	defaultBufferSize = 64 * 1024
	defaultPath       = "/session"
)

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.Path == "" {
		o.Path = defaultPath
	}
	return o
}

// Error describes a failed transport operation.
type Error struct {
	Op   string // dial, listen, accept, send, receive, flush
	Addr string
	Err  error
}

// Error returns the error message with the operation and address.
func (e *Error) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Connecting reports whether the failure happened while establishing the
// connection rather than on an established stream.
func (e *Error) Connecting() bool {
	switch e.Op {
	case "dial", "listen", "accept":
		return true
	}
	return false
}

// IsConnecting reports whether err is a transport failure that happened
// before a connection existed.
func IsConnecting(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Connecting()
}

// Dial connects to host:port over the given transport kind.
func Dial(ctx context.Context, kind Kind, host string, port int, opts Options) (Conn, error) {
	switch kind {
	case KindTCP, "":
		return DialTCP(ctx, host, port, opts)
	case KindWebSocket:
		return DialWebSocket(ctx, host, port, opts)
	default:
		return nil, &Error{Op: "dial", Err: fmt.Errorf("%w: %q", ErrUnknownKind, kind)}
	}
}

// Listen binds port over the given transport kind.
func Listen(kind Kind, port int, opts Options) (Listener, error) {
	switch kind {
	case KindTCP, "":
		return ListenTCP(port, opts)
	case KindWebSocket:
		return ListenWebSocket(port, opts)
	default:
		return nil, &Error{Op: "listen", Err: fmt.Errorf("%w: %q", ErrUnknownKind, kind)}
	}
}

// ParseKind converts a configuration string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTCP, "":
		return KindTCP, nil
	case KindWebSocket, "websocket":
		return KindWebSocket, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
