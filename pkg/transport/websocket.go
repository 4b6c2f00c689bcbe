package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn carries the byte stream over binary WebSocket messages. Every
// Flush emits exactly one message; the receiver treats message boundaries
// as invisible and reads across them.
type wsConn struct {
	conn *websocket.Conn
	opts Options

	pending []byte
	reader  io.Reader

	closeOnce sync.Once
	closeErr  error
}

func newWSConn(c *websocket.Conn, opts Options) *wsConn {
	if tc, ok := c.NetConn().(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &wsConn{
		conn:    c,
		opts:    opts,
		pending: make([]byte, 0, opts.BufferSize),
	}
}

// DialWebSocket connects to ws://host:port<Path>.
func DialWebSocket(ctx context.Context, host string, port int, opts Options) (Conn, error) {
	opts = opts.withDefaults()
	url := "ws://" + hostPort(host, port) + opts.Path

	dialer := websocket.Dialer{
		ReadBufferSize:   opts.BufferSize,
		WriteBufferSize:  opts.BufferSize,
		HandshakeTimeout: 45 * time.Second,
	}
	c, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &Error{Op: "dial", Addr: url, Err: err}
	}
	return newWSConn(c, opts), nil
}

func (c *wsConn) Send(b []byte) error {
	c.pending = append(c.pending, b...)
	return nil
}

func (c *wsConn) ReceiveExact(p []byte) error {
	if c.opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
	for len(p) > 0 {
		if c.reader == nil {
			mt, r, err := c.conn.NextReader()
			if err != nil {
				return &Error{Op: "receive", Addr: c.addr(), Err: err}
			}
			if mt != websocket.BinaryMessage {
				return &Error{Op: "receive", Addr: c.addr(), Err: fmt.Errorf("unexpected message type %d", mt)}
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		p = p[n:]
		if errors.Is(err, io.EOF) {
			c.reader = nil
			continue
		}
		if err != nil {
			return &Error{Op: "receive", Addr: c.addr(), Err: err}
		}
	}
	return nil
}

func (c *wsConn) Flush() error {
	if len(c.pending) == 0 {
		return nil
	}
	if c.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	err := c.conn.WriteMessage(websocket.BinaryMessage, c.pending)
	c.pending = c.pending[:0]
	if err != nil {
		return &Error{Op: "flush", Addr: c.addr(), Err: err}
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *wsConn) addr() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// wsListener serves a single upgrade on Path. Later peers get 503.
type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	opts     Options
	upgrader websocket.Upgrader

	conns chan *websocket.Conn
	done  chan struct{}

	mu       sync.Mutex
	accepted bool
	closed   bool
}

// ListenWebSocket binds all interfaces on port and serves the session
// endpoint at opts.Path.
func ListenWebSocket(port int, opts Options) (Listener, error) {
	opts = opts.withDefaults()
	addr := hostPort("", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &Error{Op: "listen", Addr: addr, Err: err}
	}

	l := &wsListener{
		ln:   ln,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.BufferSize,
			WriteBufferSize: opts.BufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(chan *websocket.Conn, 1),
		done:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(opts.Path, l.handle)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() { _ = l.srv.Serve(ln) }()
	return l, nil
}

func (l *wsListener) handle(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	if l.accepted || l.closed {
		l.mu.Unlock()
		http.Error(w, "session already connected", http.StatusServiceUnavailable)
		return
	}
	l.accepted = true
	l.mu.Unlock()

	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		l.mu.Lock()
		l.accepted = false
		l.mu.Unlock()
		return
	}
	l.conns <- c
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return newWSConn(c, l.opts), nil
	case <-ctx.Done():
		_ = l.Close()
		return nil, &Error{Op: "accept", Addr: l.ln.Addr().String(), Err: ctx.Err()}
	case <-l.done:
		return nil, &Error{Op: "accept", Addr: l.ln.Addr().String(), Err: ErrClosed}
	}
}

func (l *wsListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops the HTTP server. Hijacked connections are unaffected.
func (l *wsListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()
	return l.srv.Close()
}
