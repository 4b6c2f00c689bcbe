package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(WithRegistry(reg), WithNamespace("test")), reg
}

func TestMetricsCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.FrameSent(20 * time.Millisecond)
	m.FrameSent(30 * time.Millisecond)
	m.FrameReceived(10 * time.Millisecond)
	m.FrameDropped()
	m.FrameDiscarded("decode")
	m.FrameDiscarded("stale_size")
	m.FrameDiscarded("decode")
	m.StateMessage(DirectionOut)
	m.Bytes(DirectionIn, 1024)
	m.Bytes(DirectionIn, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesDiscarded.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDiscarded.WithLabelValues("stale_size")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stateMessages.WithLabelValues(DirectionOut)))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.bytes.WithLabelValues(DirectionIn)))
}

func TestMetricsSessions(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SessionStarted(RoleWorker)
	m.SessionStarted(RoleViewer)
	m.SessionEnded(RoleViewer, "")
	m.SessionEnded(RoleWorker, "transport")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeSessions.WithLabelValues(RoleWorker)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeSessions.WithLabelValues(RoleViewer)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionErrors.WithLabelValues("transport")))
}

func TestMetricsRegistered(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.FrameSent(time.Millisecond)
	m.Codec("compress", time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_frames_sent_total"])
	assert.True(t, names["test_frame_cost_seconds"])
	assert.True(t, names["test_codec_duration_seconds"])
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted(RoleWorker)
		m.SessionEnded(RoleWorker, "codec")
		m.FrameSent(time.Millisecond)
		m.FrameReceived(time.Millisecond)
		m.FrameDropped()
		m.FrameDiscarded("decode")
		m.StateMessage(DirectionIn)
		m.Bytes(DirectionOut, 10)
		m.Codec("decompress", time.Millisecond)
	})
}

func TestTracerSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer tp.Shutdown(context.Background())

	tr := NewTracer(tp)
	ctx, session := tr.StartSession(context.Background(), RoleWorker, "abc")
	_, hs := tr.StartHandshake(ctx)
	End(hs, nil)
	End(session, errors.New("boom"), attribute.Int("remoteviz.frames", 3))

	spans := exp.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "remoteviz.handshake", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, spans[1].SpanContext.TraceID(), spans[0].SpanContext.TraceID())

	assert.Equal(t, "remoteviz.worker", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[1].Attributes {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "abc", attrs["remoteviz.session_id"].AsString())
	assert.Equal(t, int64(3), attrs["remoteviz.frames"].AsInt64())
}

func TestNilTracer(t *testing.T) {
	var tr *Tracer
	assert.NotPanics(t, func() {
		_, span := tr.StartSession(context.Background(), RoleViewer, "x")
		End(span, nil)
	})
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "", "remoteviz")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTracerProviderEndpointForms(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().String()
	tests := []struct {
		name     string
		endpoint string
	}{
		{"host:port", addr},
		{"url", "http://" + addr + "/v1/traces"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mu.Lock()
			paths = nil
			mu.Unlock()

			ctx := context.Background()
			tp, err := NewTracerProvider(ctx, tt.endpoint, "remoteviz-test")
			require.NoError(t, err)

			_, span := tp.Tracer("test").Start(ctx, "frame")
			span.End()
			require.NoError(t, tp.ForceFlush(ctx))
			require.NoError(t, tp.Shutdown(ctx))

			mu.Lock()
			defer mu.Unlock()
			require.NotEmpty(t, paths, "collector received no export")
			assert.Equal(t, "POST /v1/traces", paths[0])
		})
	}
}
