package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session roles used as label values.
const (
	RoleWorker = "worker"
	RoleViewer = "viewer"
)

// Directions used as label values.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "remoteviz").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for frame cost and codec time.
	// Default: 1ms to ~2s.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "remoteviz",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors for sessions. All methods are
// safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	framesSent      prometheus.Counter
	framesReceived  prometheus.Counter
	framesDropped   prometheus.Counter
	framesDiscarded *prometheus.CounterVec
	stateMessages   *prometheus.CounterVec
	bytes           *prometheus.CounterVec
	frameCost       prometheus.Histogram
	codecDuration   *prometheus.HistogramVec
	activeSessions  *prometheus.GaugeVec
	sessionErrors   *prometheus.CounterVec
}

// NewMetrics registers the session metrics.
//
// Metrics collected:
//   - remoteviz_frames_sent_total: frames written by workers
//   - remoteviz_frames_received_total: frames read by viewers
//   - remoteviz_frames_dropped_total: received frames overwritten before being consumed
//   - remoteviz_frames_discarded_total: frames that could not be decoded, by reason
//   - remoteviz_state_messages_total: state messages by direction
//   - remoteviz_bytes_total: wire bytes by direction
//   - remoteviz_frame_cost_seconds: worker-reported frame cost
//   - remoteviz_codec_duration_seconds: compress/decompress time by operation
//   - remoteviz_active_sessions: running sessions by role
//   - remoteviz_session_errors_total: session failures by error kind
//
// Expose them with promhttp, e.g. through the admin server.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Metrics{
		framesSent:      counter("frames_sent_total", "Total number of frames sent by workers"),
		framesReceived:  counter("frames_received_total", "Total number of frames received by viewers"),
		framesDropped:   counter("frames_dropped_total", "Total number of received frames overwritten before being consumed"),
		framesDiscarded: counterVec("frames_discarded_total", "Total number of frames discarded without display", "reason"),
		stateMessages:   counterVec("state_messages_total", "Total number of state messages", "direction"),
		bytes:           counterVec("bytes_total", "Total number of wire bytes", "direction"),

		frameCost: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_cost_seconds",
			Help:        "Worker-reported time to render a frame",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		codecDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "codec_duration_seconds",
			Help:        "Image compression and decompression time",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"op"}),

		activeSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of running sessions",
			ConstLabels: config.ConstLabels,
		}, []string{"role"}),

		sessionErrors: counterVec("session_errors_total", "Total number of sessions ended by an error", "kind"),
	}
}

// SessionStarted records a session entering the running state.
func (m *Metrics) SessionStarted(role string) {
	if m != nil {
		m.activeSessions.WithLabelValues(role).Inc()
	}
}

// SessionEnded records a session ending. kind is empty for a clean end.
func (m *Metrics) SessionEnded(role, kind string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(role).Dec()
	if kind != "" {
		m.sessionErrors.WithLabelValues(kind).Inc()
	}
}

// FrameSent records a frame written by a worker.
func (m *Metrics) FrameSent(cost time.Duration) {
	if m != nil {
		m.framesSent.Inc()
		m.frameCost.Observe(cost.Seconds())
	}
}

// FrameReceived records a frame read by a viewer.
func (m *Metrics) FrameReceived(cost time.Duration) {
	if m != nil {
		m.framesReceived.Inc()
		m.frameCost.Observe(cost.Seconds())
	}
}

// FrameDropped records an unconsumed frame being overwritten.
func (m *Metrics) FrameDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

// FrameDiscarded records a frame that was received but not displayed.
func (m *Metrics) FrameDiscarded(reason string) {
	if m != nil {
		m.framesDiscarded.WithLabelValues(reason).Inc()
	}
}

// StateMessage records a state message in the given direction.
func (m *Metrics) StateMessage(direction string) {
	if m != nil {
		m.stateMessages.WithLabelValues(direction).Inc()
	}
}

// Bytes records n wire bytes in the given direction.
func (m *Metrics) Bytes(direction string, n uint64) {
	if m != nil && n > 0 {
		m.bytes.WithLabelValues(direction).Add(float64(n))
	}
}

// Codec records the duration of a compress or decompress call.
func (m *Metrics) Codec(op string, d time.Duration) {
	if m != nil {
		m.codecDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}
