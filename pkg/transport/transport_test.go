package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func listenerPort(t *testing.T, ln Listener) int {
	t.Helper()
	_, p, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	return port
}

func connectPair(t *testing.T, kind Kind, opts Options) (server, client Conn) {
	t.Helper()
	ln, err := Listen(kind, 0, opts)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	client, err = Dial(ctx, kind, "127.0.0.1", listenerPort(t, ln), opts)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("Accept() error = %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server, client
}

func TestRoundTrip(t *testing.T) {
	for _, kind := range []Kind{KindTCP, KindWebSocket} {
		t.Run(string(kind), func(t *testing.T) {
			server, client := connectPair(t, kind, Options{})

			// Two sends, one flush; the receiver reads across the boundary.
			if err := client.Send([]byte("hello ")); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if err := client.Send([]byte("world")); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if err := client.Flush(); err != nil {
				t.Fatalf("Flush() error = %v", err)
			}

			got := make([]byte, 11)
			if err := server.ReceiveExact(got); err != nil {
				t.Fatalf("ReceiveExact() error = %v", err)
			}
			if string(got) != "hello world" {
				t.Errorf("ReceiveExact() = %q, want %q", got, "hello world")
			}

			// Reply in the other direction, read in pieces spanning flushes.
			server.Send([]byte{1, 2, 3})
			server.Flush()
			server.Send([]byte{4, 5})
			server.Flush()

			first := make([]byte, 2)
			rest := make([]byte, 3)
			if err := client.ReceiveExact(first); err != nil {
				t.Fatalf("ReceiveExact() error = %v", err)
			}
			if err := client.ReceiveExact(rest); err != nil {
				t.Fatalf("ReceiveExact() error = %v", err)
			}
			if !bytes.Equal(append(first, rest...), []byte{1, 2, 3, 4, 5}) {
				t.Errorf("got %v %v, want [1 2] [3 4 5]", first, rest)
			}
		})
	}
}

func TestReceiveAfterPeerClose(t *testing.T) {
	for _, kind := range []Kind{KindTCP, KindWebSocket} {
		t.Run(string(kind), func(t *testing.T) {
			server, client := connectPair(t, kind, Options{})
			client.Close()

			err := server.ReceiveExact(make([]byte, 4))
			if err == nil {
				t.Fatal("ReceiveExact() error = nil, want error")
			}
			var te *Error
			if !errors.As(err, &te) || te.Op != "receive" {
				t.Errorf("ReceiveExact() error = %v, want receive *Error", err)
			}
			if IsConnecting(err) {
				t.Error("IsConnecting() = true for receive failure")
			}
		})
	}
}

func TestReadTimeout(t *testing.T) {
	server, _ := connectPair(t, KindTCP, Options{ReadTimeout: 50 * time.Millisecond})

	start := time.Now()
	err := server.ReceiveExact(make([]byte, 1))
	if err == nil {
		t.Fatal("ReceiveExact() error = nil, want timeout")
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Errorf("ReceiveExact() error = %v, want timeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := ListenTCP(0, Options{})
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}
	port := listenerPort(t, ln)
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = DialTCP(ctx, "127.0.0.1", port, Options{})
	if err == nil {
		t.Fatal("DialTCP() error = nil, want error")
	}
	if !IsConnecting(err) {
		t.Errorf("IsConnecting(%v) = false, want true", err)
	}
}

func TestAcceptCancelled(t *testing.T) {
	for _, kind := range []Kind{KindTCP, KindWebSocket} {
		t.Run(string(kind), func(t *testing.T) {
			ln, err := Listen(kind, 0, Options{})
			if err != nil {
				t.Fatalf("Listen() error = %v", err)
			}
			defer ln.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, err = ln.Accept(ctx)
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Accept() error = %v, want deadline exceeded", err)
			}
			if !IsConnecting(err) {
				t.Errorf("IsConnecting(%v) = false, want true", err)
			}
		})
	}
}

func TestWebSocketRejectsSecondPeer(t *testing.T) {
	ln, err := ListenWebSocket(0, Options{})
	if err != nil {
		t.Fatalf("ListenWebSocket() error = %v", err)
	}
	defer ln.Close()
	port := listenerPort(t, ln)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := DialWebSocket(ctx, "127.0.0.1", port, Options{})
	if err != nil {
		t.Fatalf("first DialWebSocket() error = %v", err)
	}
	defer first.Close()

	server, err := ln.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer server.Close()

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/session")
	if err != nil {
		t.Fatalf("http.Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("second peer status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", KindTCP, false},
		{"tcp", KindTCP, false},
		{"ws", KindWebSocket, false},
		{"websocket", KindWebSocket, false},
		{"udp", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
