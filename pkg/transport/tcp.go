package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"
)

type tcpConn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	opts Options

	closeOnce sync.Once
	closeErr  error
}

func newTCPConn(c net.Conn, opts Options) *tcpConn {
	if tc, ok := c.(*net.TCPConn); ok {
		// Frames and state replies are latency sensitive.
		_ = tc.SetNoDelay(true)
	}
	return &tcpConn{
		conn: c,
		r:    bufio.NewReaderSize(c, opts.BufferSize),
		w:    bufio.NewWriterSize(c, opts.BufferSize),
		opts: opts,
	}
}

// NewConn wraps an established net.Conn. It is mostly useful with
// net.Pipe in tests.
func NewConn(c net.Conn, opts Options) Conn {
	return newTCPConn(c, opts.withDefaults())
}

// DialTCP connects to host:port and blocks until the connection is up.
func DialTCP(ctx context.Context, host string, port int, opts Options) (Conn, error) {
	opts = opts.withDefaults()
	addr := hostPort(host, port)

	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Op: "dial", Addr: addr, Err: err}
	}
	return newTCPConn(c, opts), nil
}

func (c *tcpConn) Send(b []byte) error {
	if _, err := c.w.Write(b); err != nil {
		return &Error{Op: "send", Addr: c.addr(), Err: err}
	}
	return nil
}

func (c *tcpConn) ReceiveExact(p []byte) error {
	if c.opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
	if _, err := io.ReadFull(c.r, p); err != nil {
		return &Error{Op: "receive", Addr: c.addr(), Err: err}
	}
	return nil
}

func (c *tcpConn) Flush() error {
	if c.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if err := c.w.Flush(); err != nil {
		return &Error{Op: "flush", Addr: c.addr(), Err: err}
	}
	return nil
}

func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *tcpConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *tcpConn) addr() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

type tcpListener struct {
	ln   net.Listener
	opts Options

	mu     sync.Mutex
	closed bool
}

// ListenTCP binds all interfaces on port. Port 0 picks a free port.
func ListenTCP(port int, opts Options) (Listener, error) {
	opts = opts.withDefaults()
	addr := hostPort("", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &Error{Op: "listen", Addr: addr, Err: err}
	}
	return &tcpListener{ln: ln, opts: opts}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, &Error{Op: "accept", Addr: l.ln.Addr().String(), Err: ErrClosed}
	}
	l.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	c, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &Error{Op: "accept", Addr: l.ln.Addr().String(), Err: err}
	}

	// One peer per session: stop listening once it has connected.
	_ = l.Close()
	return newTCPConn(c, l.opts), nil
}

func (l *tcpListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *tcpListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.ln.Close()
}
