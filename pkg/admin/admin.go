// Package admin serves health, session status and Prometheus metrics over
// HTTP for a running worker or viewer.
//
//	GET /healthz   liveness, always 200
//	GET /readyz    200 while the session is streaming, 503 otherwise
//	GET /session   session.Status as JSON
//	GET /metrics   Prometheus exposition
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vango-dev/remoteviz/pkg/session"
)

// StatusSource reports the current session. *session.Worker and
// *session.Viewer implement it.
type StatusSource interface {
	Status() session.Status
}

// Config configures the admin server.
type Config struct {
	// Addr is the listen address. Default: ":9090".
	Addr string

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// ShutdownTimeout bounds graceful shutdown. Default: 5s.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
	if c.Gatherer == nil {
		c.Gatherer = prometheus.DefaultGatherer
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Server is the admin HTTP server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router chi.Router
	source StatusSource

	addrOnce sync.Once
	addr     chan net.Addr
}

// New creates a Server. With a nil src, /session and /readyz report 503.
func New(cfg Config, src StatusSource) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "admin"),
		source: src,
		addr:   make(chan net.Addr, 1),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", s.handleReady)
	r.Get("/session", s.handleSession)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	return r
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "remoteviz.admin")
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	src := s.source
	if src == nil {
		http.Error(w, "no session", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(src.Status()); err != nil {
		s.logger.Warn("encode status", "error", err)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	src := s.source
	if src == nil || src.Status().State != session.StateStreaming.String() {
		http.Error(w, "not streaming", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}

// Run listens on Addr and serves until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.addrOnce.Do(func() { s.addr <- ln.Addr() })

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server starting", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}
	s.logger.Info("admin server stopped")
	return nil
}

// Addr blocks until the server is listening and returns its address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case a := <-s.addr:
		s.addr <- a
		return a, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
