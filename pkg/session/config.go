package session

import (
	"context"
	"log/slog"

	"github.com/vango-dev/remoteviz/pkg/imagecodec"
	"github.com/vango-dev/remoteviz/pkg/protocol"
	"github.com/vango-dev/remoteviz/pkg/telemetry"
	"github.com/vango-dev/remoteviz/pkg/transport"
)

// DefaultPort is the port workers listen on.
const DefaultPort = 29374

// ViewerConfig holds configuration for a viewer session.
type ViewerConfig struct {
	// Host and Port locate the worker.
	// Default: localhost, DefaultPort.
	Host string
	Port int

	// Transport selects the wire. Default: TCP.
	Transport transport.Kind

	// TransportOptions tune the connection, including the optional
	// ReadTimeout. Default: no timeouts.
	TransportOptions transport.Options

	// Dial replaces Host/Port/Transport when set.
	Dial func(ctx context.Context) (transport.Conn, error)

	// Limits bound allocations driven by the worker's length prefixes.
	Limits protocol.Limits

	// Initial is the first state sent to the worker. Its framebuffer size
	// is also the size expected of frames until the first resize, so a
	// first frame rendered at a different size is discarded as stale.
	// Default: DefaultUpdate().
	Initial *Update

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// DefaultViewerConfig returns a ViewerConfig with sensible defaults.
func DefaultViewerConfig() *ViewerConfig {
	u := DefaultUpdate()
	return &ViewerConfig{
		Host:      "localhost",
		Port:      DefaultPort,
		Transport: transport.KindTCP,
		Initial:   &u,
	}
}

func (c ViewerConfig) withDefaults() ViewerConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Transport == "" {
		c.Transport = transport.KindTCP
	}
	if c.Initial == nil {
		u := DefaultUpdate()
		c.Initial = &u
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// WorkerConfig holds configuration for a worker session.
type WorkerConfig struct {
	// Port is the port to listen on. Zero binds a free port; Listen
	// reports which. DefaultWorkerConfig uses DefaultPort.
	Port int

	// Transport selects the wire. Default: TCP.
	Transport transport.Kind

	// TransportOptions tune the connection, including the optional
	// ReadTimeout. Default: no timeouts.
	TransportOptions transport.Options

	// Listener replaces Port/Transport when set.
	Listener transport.Listener

	// Limits bound allocations driven by the viewer's length prefixes.
	Limits protocol.Limits

	// Codec configures frame compression.
	// Default: quality 90, top-down rows.
	Codec imagecodec.Options

	// MaxFPS caps the frame rate of Serve. Zero means unlimited.
	MaxFPS float64

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// DefaultWorkerConfig returns a WorkerConfig with sensible defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Port:      DefaultPort,
		Transport: transport.KindTCP,
		Codec:     imagecodec.Options{Quality: imagecodec.DefaultQuality},
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Transport == "" {
		c.Transport = transport.KindTCP
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
