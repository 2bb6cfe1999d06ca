// Package server exposes the live aggregate snapshot as JSON, next to
// Prometheus metrics and health endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/health"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/logging"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/pool"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/profiling"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/stats"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/tracing"
)

// DefaultDataPath is where the snapshot is served
const DefaultDataPath = "/data"

// SnapshotSource produces a fresh detached snapshot per call
type SnapshotSource interface {
	Snapshot() *stats.Snapshot
}

// Config holds server configuration
type Config struct {
	Address       string
	DataPath      string
	MetricsPath   string
	Source        SnapshotSource
	Registry      *prometheus.Registry
	HealthChecker *health.Checker
	Metrics       *metrics.Collector
	Tracer        trace.Tracer
	Logger        *logging.Logger
	Profiling     bool // mount /debug/pprof and /debug/stats
}

// Server serves the stats feed
type Server struct {
	cfg    Config
	srv    *http.Server
	logger *logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new server
func New(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("server requires a snapshot source")
	}
	if cfg.DataPath == "" {
		cfg.DataPath = DefaultDataPath
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.WithComponent("server"),
	}

	s.srv = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return s, nil
}

// Handler returns the routing handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.DataPath, s.instrument(s.cfg.DataPath, http.HandlerFunc(s.handleData)))

	if s.cfg.Registry != nil {
		mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(
			s.cfg.Registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		))
	}

	if s.cfg.HealthChecker != nil {
		mux.Handle("/health", s.instrument("/health", s.cfg.HealthChecker.HTTPHandler()))
		mux.HandleFunc("/health/live", s.cfg.HealthChecker.LivenessHandler())
	}

	if s.cfg.Profiling {
		profiling.Register(mux)
	}

	return mux
}

// handleData writes the current snapshot
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_, span := tracing.TraceSnapshot(r.Context(), s.cfg.Tracer)
	start := time.Now()
	snap := s.cfg.Source.Snapshot()
	s.cfg.Metrics.ObserveSnapshot(time.Since(start))
	span.End()

	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)

	if err := json.NewEncoder(buf).Encode(snap); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode snapshot")
		http.Error(w, "failed to encode snapshot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	w.Write(buf.Bytes())
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency per handler
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.cfg.Metrics.ObserveHTTP(name, rec.code, time.Since(start))
	})
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("stats server listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("address", ln.Addr().String()).
			Str("path", s.cfg.DataPath).
			Msg("Starting stats server")

		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Stats server error")
			errCh <- fmt.Errorf("stats server error: %w", err)
		}
	}()

	// Wait a bit to see if there are any immediate startup errors
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Address
	}
	return s.listener.Addr().String()
}

// Name identifies the server to the shutdown manager
func (s *Server) Name() string {
	return "stats-server"
}

// Stop gracefully shuts down the server, letting in-flight requests finish
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down stats server")
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down stats server")
		return err
	}
	return nil
}
