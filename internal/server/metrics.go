package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/giantswarm/kubefs/internal/instrumentation"
	"github.com/giantswarm/kubefs/internal/server/middleware"
)

const (
	// DefaultMetricsAddr is the default listen address of the metrics server
	DefaultMetricsAddr = ":9090"

	// DefaultReadHeaderTimeout is the default timeout for reading request headers
	DefaultReadHeaderTimeout = 10 * time.Second
)

// MetricsServerConfig configures the metrics server.
type MetricsServerConfig struct {
	// Addr is the listen address (default ":9090")
	Addr string

	// Health serves the probe endpoints. Required.
	Health *HealthChecker

	// InstrumentationProvider supplies the /metrics handler. Optional; without
	// it, or without the prometheus exporter, /metrics is not registered.
	InstrumentationProvider *instrumentation.Provider

	Logger *slog.Logger
}

// MetricsServer serves probes and metrics on a side port.
type MetricsServer struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// NewMetricsServer builds the server without starting it.
func NewMetricsServer(config MetricsServerConfig) (*MetricsServer, error) {
	if config.Health == nil {
		return nil, errors.New("health checker is required")
	}
	if config.Addr == "" {
		config.Addr = DefaultMetricsAddr
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	config.Health.RegisterHealthEndpoints(mux)
	if config.InstrumentationProvider != nil {
		if h := config.InstrumentationProvider.PrometheusHandler(); h != nil {
			mux.Handle("/metrics", h)
		}
	}

	var handler http.Handler = mux
	handler = middleware.AllowMethods(http.MethodGet, http.MethodHead)(handler)
	handler = middleware.SecurityHeaders()(handler)

	return &MetricsServer{
		addr:    config.Addr,
		handler: handler,
		logger:  config.Logger,
	}, nil
}

// Addr returns the configured listen address.
func (s *MetricsServer) Addr() string {
	return s.addr
}

// Handler returns the routed handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a clean shutdown.
func (s *MetricsServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on listener until Shutdown.
func (s *MetricsServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("metrics server listening", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully. It is a no-op if the server was
// never started.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
