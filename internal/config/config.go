package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/remoteviz/internal/errors"
	"github.com/vango-dev/remoteviz/pkg/transport"
)

const (
	// ConfigFileName is the base name of the configuration file.
	ConfigFileName = "remoteviz"

	// DefaultPort is the port workers listen on.
	DefaultPort = 29374

	// DefaultHost is the host viewers connect to.
	DefaultHost = "localhost"

	// DefaultQuality is the JPEG quality for streamed frames.
	DefaultQuality = 90

	// DefaultMovieQuality is the JPEG quality for movie frames.
	DefaultMovieQuality = 100

	// DefaultServiceName names the process in traces.
	DefaultServiceName = "remoteviz"
)

// extensions are tried in order by Load.
var extensions = []string{".json", ".yaml", ".yml"}

// Config represents the complete remoteviz configuration.
type Config struct {
	Log       LogConfig       `json:"log" yaml:"log"`
	Worker    WorkerConfig    `json:"worker" yaml:"worker"`
	Viewer    ViewerConfig    `json:"viewer" yaml:"viewer"`
	Movie     MovieConfig     `json:"movie" yaml:"movie"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Admin     AdminConfig     `json:"admin" yaml:"admin"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// WorkerConfig contains render worker settings.
type WorkerConfig struct {
	// Port is the port to listen on. 0 picks a free port.
	Port int `json:"port" yaml:"port"`

	// Transport is tcp or ws.
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`

	// Quality is the JPEG quality, 1 to 100.
	Quality int `json:"quality,omitempty" yaml:"quality,omitempty"`

	// BottomUp sends rows bottom first, as OpenGL framebuffers store them.
	BottomUp bool `json:"bottomUp,omitempty" yaml:"bottomUp,omitempty"`

	// MaxFPS caps the frame rate. Zero means unlimited.
	MaxFPS float64 `json:"maxFPS,omitempty" yaml:"maxFPS,omitempty"`

	// ReadTimeout bounds each read (e.g., "30s"). Empty means none.
	ReadTimeout string `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`

	// Width and Height are the framebuffer size before the first resize.
	Width  int `json:"width,omitempty" yaml:"width,omitempty"`
	Height int `json:"height,omitempty" yaml:"height,omitempty"`

	// Variables and Timesteps make up the catalog of the demo engine.
	Variables []string `json:"variables,omitempty" yaml:"variables,omitempty"`
	Timesteps []uint64 `json:"timesteps,omitempty" yaml:"timesteps,omitempty"`
}

// ViewerConfig contains viewer settings.
type ViewerConfig struct {
	// Host and Port locate the worker.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`

	// Transport is tcp or ws.
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`

	// BottomUp must match the worker.
	BottomUp bool `json:"bottomUp,omitempty" yaml:"bottomUp,omitempty"`

	// ReadTimeout bounds each read (e.g., "30s"). Empty means none.
	ReadTimeout string `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`

	// Width and Height are the requested framebuffer size.
	Width  int `json:"width,omitempty" yaml:"width,omitempty"`
	Height int `json:"height,omitempty" yaml:"height,omitempty"`

	// Frames stops the viewer after this many rendered frames.
	// Zero runs until interrupted.
	Frames int `json:"frames,omitempty" yaml:"frames,omitempty"`

	// Interval is how often the display is polled (e.g., "16ms").
	Interval string `json:"interval,omitempty" yaml:"interval,omitempty"`

	// Snapshot is a directory or s3://bucket/prefix that receives the
	// last frame on exit. Empty disables snapshots.
	Snapshot string `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
}

// MovieConfig contains offline movie rendering settings.
type MovieConfig struct {
	Frames  int `json:"frames,omitempty" yaml:"frames,omitempty"`
	Width   int `json:"width,omitempty" yaml:"width,omitempty"`
	Height  int `json:"height,omitempty" yaml:"height,omitempty"`
	Quality int `json:"quality,omitempty" yaml:"quality,omitempty"`

	// Output is a directory or s3://bucket/prefix.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// Prefix starts every frame name: <prefix>-00000000.jpg.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// TelemetryConfig contains tracing and metrics settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector, either host:port (plain
	// HTTP) or a full URL such as https://otel.example:4318/v1/traces.
	// Empty disables tracing export.
	OTLPEndpoint string `json:"otlpEndpoint,omitempty" yaml:"otlpEndpoint,omitempty"`

	// ServiceName is reported as service.name.
	ServiceName string `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`

	// Namespace prefixes every metric name.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// AdminConfig contains the admin HTTP endpoint settings.
type AdminConfig struct {
	// Addr is the listen address (e.g., ":9090"). Empty disables it.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Worker: WorkerConfig{
			Port:      DefaultPort,
			Transport: string(transport.KindTCP),
			Quality:   DefaultQuality,
			Width:     1024,
			Height:    1024,
			Variables: []string{"density", "pressure"},
			Timesteps: []uint64{0, 10, 20},
		},
		Viewer: ViewerConfig{
			Host:      DefaultHost,
			Port:      DefaultPort,
			Transport: string(transport.KindTCP),
			Width:     1024,
			Height:    1024,
			Interval:  "16ms",
		},
		Movie: MovieConfig{
			Frames:  25,
			Width:   1920,
			Height:  1080,
			Quality: DefaultMovieQuality,
			Output:  "frames",
			Prefix:  "frame",
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
			Namespace:   "remoteviz",
		},
	}
}

// Load reads configuration from the specified directory. It looks for
// remoteviz.json, remoteviz.yaml and remoteviz.yml, in that order.
func Load(dir string) (*Config, error) {
	for _, ext := range extensions {
		path := filepath.Join(dir, ConfigFileName+ext)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New(errors.CodeConfigNotFound).
		WithDetail("No remoteviz.json or remoteviz.yaml found in " + dir)
}

// LoadFile reads configuration from the specified file path. The format
// follows the extension; anything but .yaml and .yml is read as JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).
				WithDetail("No file at " + path)
		}
		return nil, errors.New(errors.CodeConfigParse).Wrap(err)
	}

	cfg := New()
	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	var err error
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(cfg)
		if err == io.EOF {
			// Empty file.
			err = nil
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	}
	if err == nil {
		return nil
	}

	msg := err.Error()
	if strings.Contains(msg, "unknown field") || strings.Contains(msg, "not found in type") {
		return errors.New(errors.CodeConfigUnknownField).
			WithDetail(msg).
			WithField(filepath.Base(path))
	}
	return errors.New(errors.CodeConfigParse).
		WithDetail("Failed to parse " + filepath.Base(path) + ": " + msg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// SaveTo writes the configuration to path, as YAML or JSON by extension.
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.New(errors.CodeConfigParse).Wrap(err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New(errors.CodeConfigParse).Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	// Worker. Port 0 is kept: it binds a free port.
	if c.Worker.Transport == "" {
		c.Worker.Transport = d.Worker.Transport
	}
	if c.Worker.Quality == 0 {
		c.Worker.Quality = DefaultQuality
	}
	if c.Worker.Width == 0 {
		c.Worker.Width = d.Worker.Width
	}
	if c.Worker.Height == 0 {
		c.Worker.Height = d.Worker.Height
	}
	if len(c.Worker.Variables) == 0 {
		c.Worker.Variables = d.Worker.Variables
	}
	if len(c.Worker.Timesteps) == 0 {
		c.Worker.Timesteps = d.Worker.Timesteps
	}

	// Viewer
	if c.Viewer.Host == "" {
		c.Viewer.Host = DefaultHost
	}
	if c.Viewer.Port == 0 {
		c.Viewer.Port = DefaultPort
	}
	if c.Viewer.Transport == "" {
		c.Viewer.Transport = d.Viewer.Transport
	}
	if c.Viewer.Width == 0 {
		c.Viewer.Width = d.Viewer.Width
	}
	if c.Viewer.Height == 0 {
		c.Viewer.Height = d.Viewer.Height
	}
	if c.Viewer.Interval == "" {
		c.Viewer.Interval = d.Viewer.Interval
	}

	// Movie
	if c.Movie.Frames == 0 {
		c.Movie.Frames = d.Movie.Frames
	}
	if c.Movie.Width == 0 {
		c.Movie.Width = d.Movie.Width
	}
	if c.Movie.Height == 0 {
		c.Movie.Height = d.Movie.Height
	}
	if c.Movie.Quality == 0 {
		c.Movie.Quality = DefaultMovieQuality
	}
	if c.Movie.Output == "" {
		c.Movie.Output = d.Movie.Output
	}
	if c.Movie.Prefix == "" {
		c.Movie.Prefix = d.Movie.Prefix
	}

	// Telemetry
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	if c.Telemetry.Namespace == "" {
		c.Telemetry.Namespace = d.Telemetry.Namespace
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "Level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format", "Format must be text or json")
	}

	// Worker
	if c.Worker.Port < 0 || c.Worker.Port > 65535 {
		return invalid("worker.port", "Port must be between 0 and 65535")
	}
	if _, err := transport.ParseKind(c.Worker.Transport); err != nil {
		return invalid("worker.transport", "Transport must be tcp or ws")
	}
	if err := checkQuality("worker.quality", c.Worker.Quality); err != nil {
		return err
	}
	if c.Worker.MaxFPS < 0 {
		return invalid("worker.maxFPS", "MaxFPS must not be negative")
	}
	if err := checkSize("worker", c.Worker.Width, c.Worker.Height); err != nil {
		return err
	}
	if _, err := parseDuration("worker.readTimeout", c.Worker.ReadTimeout); err != nil {
		return err
	}

	// Viewer
	if c.Viewer.Port < 1 || c.Viewer.Port > 65535 {
		return invalid("viewer.port", "Port must be between 1 and 65535")
	}
	if _, err := transport.ParseKind(c.Viewer.Transport); err != nil {
		return invalid("viewer.transport", "Transport must be tcp or ws")
	}
	if err := checkSize("viewer", c.Viewer.Width, c.Viewer.Height); err != nil {
		return err
	}
	if c.Viewer.Frames < 0 {
		return invalid("viewer.frames", "Frames must not be negative")
	}
	if _, err := parseDuration("viewer.readTimeout", c.Viewer.ReadTimeout); err != nil {
		return err
	}
	if d, err := parseDuration("viewer.interval", c.Viewer.Interval); err != nil {
		return err
	} else if d <= 0 {
		return invalid("viewer.interval", "Interval must be positive")
	}

	// Movie
	if c.Movie.Frames < 1 {
		return invalid("movie.frames", "Frames must be at least 1")
	}
	if err := checkSize("movie", c.Movie.Width, c.Movie.Height); err != nil {
		return err
	}
	if err := checkQuality("movie.quality", c.Movie.Quality); err != nil {
		return err
	}
	return nil
}

// WorkerReadTimeout returns the parsed worker read timeout.
func (c *Config) WorkerReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Worker.ReadTimeout)
	return d
}

// ViewerReadTimeout returns the parsed viewer read timeout.
func (c *Config) ViewerReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Viewer.ReadTimeout)
	return d
}

// ViewerInterval returns the parsed display poll interval.
func (c *Config) ViewerInterval() time.Duration {
	d, err := time.ParseDuration(c.Viewer.Interval)
	if err != nil || d <= 0 {
		return 16 * time.Millisecond
	}
	return d
}

func invalid(field, detail string) error {
	return errors.New(errors.CodeConfigInvalid).WithField(field).WithDetail(detail)
}

func checkQuality(field string, q int) error {
	if q < 1 || q > 100 {
		return invalid(field, "Quality must be between 1 and 100")
	}
	return nil
}

func checkSize(section string, w, h int) error {
	if w < 1 {
		return invalid(section+".width", "Width must be positive")
	}
	if h < 1 {
		return invalid(section+".height", "Height must be positive")
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, invalid(field, "Not a duration: "+s)
	}
	if d < 0 {
		return 0, invalid(field, "Duration must not be negative")
	}
	return d, nil
}
