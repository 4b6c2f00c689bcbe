package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/remoteviz/pkg/protocol"
	"github.com/vango-dev/remoteviz/pkg/session"
	"github.com/vango-dev/remoteviz/pkg/telemetry"
)

type staticSource struct {
	status session.Status
}

func (s staticSource) Status() session.Status { return s.status }

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, src StatusSource) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(Config{Gatherer: reg, Logger: quiet()}, src), reg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestSession(t *testing.T) {
	meta := protocol.Metadata{
		Variables: []string{"density", "pressure"},
		Timesteps: []uint64{0, 10, 20},
		Variable:  "density",
	}
	src := staticSource{status: session.Status{
		ID:                "abc",
		Role:              telemetry.RoleViewer,
		State:             session.StateStreaming.String(),
		Frames:            42,
		FramesDropped:     3,
		FramebufferWidth:  1920,
		FramebufferHeight: 1080,
		Metadata:          &meta,
	}}
	s, _ := newTestServer(t, src)

	rec := get(t, s.Handler(), "/session")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got session.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, src.status.ID, got.ID)
	assert.Equal(t, uint64(42), got.Frames)
	assert.Equal(t, uint64(3), got.FramesDropped)
	assert.Equal(t, 1920, got.FramebufferWidth)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, meta.Variables, got.Metadata.Variables)
	assert.Equal(t, meta.Timesteps, got.Metadata.Timesteps)
}

func TestSessionUnavailable(t *testing.T) {
	s, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/session").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/readyz").Code)

	s, _ = newTestServer(t, staticSource{status: session.Status{State: session.StateStreaming.String()}})
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/session").Code)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/readyz").Code)
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		state session.State
		want  int
	}{
		{session.StateConnecting, http.StatusServiceUnavailable},
		{session.StateMetadataExchange, http.StatusServiceUnavailable},
		{session.StateStreaming, http.StatusOK},
		{session.StateClosed, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			s, _ := newTestServer(t, staticSource{status: session.Status{State: tt.state.String()}})
			assert.Equal(t, tt.want, get(t, s.Handler(), "/readyz").Code)
		})
	}
}

func TestMetrics(t *testing.T) {
	s, reg := newTestServer(t, nil)
	m := telemetry.NewMetrics(telemetry.WithRegistry(reg))
	m.FrameSent(5 * time.Millisecond)
	m.FrameDropped()

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "remoteviz_frames_sent_total 1")
	assert.Contains(t, body, "remoteviz_frames_dropped_total 1")
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/nope").Code)

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeAndShutdown(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	actx, acancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer acancel()
	addr, err := s.Addr(actx)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "ok"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
