package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/knsock/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPort of the metrics endpoint.
const DefaultPort = 9090

// Server exposes the registry over HTTP.
//
//   - GET /metrics: Prometheus exposition (503 when collection is off)
//   - GET /healthz: liveness probe, always "ok"
type Server struct {
	server       *http.Server
	port         int
	shutdownOnce sync.Once

	mu   sync.Mutex
	addr net.Addr
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Host to bind. Empty binds all interfaces.
	Host string

	// Port to listen on. Default: 9090
	Port int
}

// NewServer creates a metrics server in the stopped state.
func NewServer(config ServerConfig) *Server {
	if config.Port <= 0 {
		config.Port = DefaultPort
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})

	if registry := GetRegistry(); registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}

	return &Server{
		server: &http.Server{
			Addr:              net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		port: config.Port,
	}
}

// Handler returns the HTTP handler, for mounting or testing without a socket.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
// A bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.server.Addr, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
		} else {
			logger.Debug("Metrics server stopped")
		}
	})
	return shutdownErr
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
