package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/adapter"
	"github.com/marmos91/knsock/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoAdapters is returned by Start when nothing was registered.
	ErrNoAdapters = errors.New("no adapters registered")

	// ErrAlreadyStarted is returned by Start and AddAdapter once the
	// server has been started.
	ErrAlreadyStarted = errors.New("server already started")
)

// DefaultStopTimeout bounds a shutdown triggered by context cancellation.
const DefaultStopTimeout = 30 * time.Second

// Server manages the lifecycle of several protocol adapters.
//
// Lifecycle:
//  1. Creation: New() with options
//  2. Registration: AddAdapter() for each endpoint
//  3. Startup: Start() binds every adapter, then serves them concurrently
//  4. Shutdown: Stop() or cancellation of Start's context stops all
//     adapters in reverse order; Wait() blocks until they are done
//
// Example usage:
//
//	srv := server.New(server.WithCloser(ledger))
//	srv.AddAdapter(jsonAcceptor)
//	srv.AddAdapter(transferAcceptor)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err) // e.g. stream.ErrBindFailure
//	}
//	err := srv.Wait()
type Server struct {
	mu       sync.Mutex
	adapters []adapter.Adapter
	started  bool

	metricsServer *metrics.Server
	closers       []io.Closer
	stopTimeout   time.Duration

	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error

	done    chan struct{}
	waitErr error
}

// Option customizes a Server.
type Option func(*Server)

// WithMetricsServer runs m alongside the adapters.
func WithMetricsServer(m *metrics.Server) Option {
	return func(s *Server) {
		s.metricsServer = m
	}
}

// WithCloser closes c after every adapter has stopped. Closers run in
// reverse registration order.
func WithCloser(c io.Closer) Option {
	return func(s *Server) {
		if c != nil {
			s.closers = append(s.closers, c)
		}
	}
}

// WithStopTimeout bounds shutdowns triggered by context cancellation.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// New creates a server with no adapters.
func New(opts ...Option) *Server {
	s := &Server{
		adapters:    make([]adapter.Adapter, 0, 4),
		stopTimeout: DefaultStopTimeout,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddAdapter registers an adapter. Protocol names must be unique, and so
// must fixed ports (port 0 is assigned by the OS and never conflicts).
//
// Panics if a is nil.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Debug("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Start binds every adapter in registration order and, once all are
// bound, serves them in the background.
//
// A bind failure stops the adapters already bound and is returned; no
// adapter serves in that case. Cancelling ctx stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return ErrNoAdapters
	}
	s.started = true
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting knsock server with %d adapter(s)", len(adapters))
	startTime := time.Now()

	for i, a := range adapters {
		if err := a.Listen(ctx); err != nil {
			logger.Error("%s adapter failed to bind: %v", a.Protocol(), err)
			stopAdapters(context.Background(), adapters[:i])
			s.waitErr = err
			close(s.done)
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if s.metricsServer != nil {
		go func() {
			if err := s.metricsServer.Start(runCtx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(runCtx)
	for _, a := range adapters {
		g.Go(func() error {
			if err := a.Serve(gctx); err != nil {
				logger.Error("%s adapter stopped with error: %v", a.Protocol(), err)
				return fmt.Errorf("%s adapter: %w", a.Protocol(), err)
			}
			logger.Debug("%s adapter stopped", a.Protocol())
			return nil
		})
	}

	go func() {
		s.waitErr = g.Wait()
		close(s.done)
	}()

	// Cancellation of ctx (or an adapter failing) stops everything.
	go func() {
		select {
		case <-gctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
			defer cancel()
			_ = s.Stop(stopCtx)
		case <-s.done:
		}
	}()

	logger.Info("All adapters started in %v", time.Since(startTime))
	return nil
}

// Stop stops every adapter in reverse registration order, waits for them
// to finish and closes registered resources. When ctx expires first,
// adapters force-close their remaining connections.
//
// Stop is safe to call more than once; later calls return the first
// result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		cancel := s.cancel
		adapters := make([]adapter.Adapter, len(s.adapters))
		copy(adapters, s.adapters)
		s.mu.Unlock()

		var errs []error
		if started {
			logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))
			errs = append(errs, stopAdapters(ctx, adapters)...)

			select {
			case <-s.done:
			case <-ctx.Done():
				errs = append(errs, ctx.Err())
			}
			if cancel != nil {
				cancel()
			}
			if s.metricsServer != nil {
				_ = s.metricsServer.Stop(ctx)
			}
		}

		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i].Close(); err != nil {
				logger.Warn("Error closing resource: %v", err)
				errs = append(errs, err)
			}
		}

		s.stopErr = errors.Join(errs...)
		logger.Info("knsock server stopped")
	})
	return s.stopErr
}

// Wait blocks until every adapter has returned from Serve. It returns the
// first adapter error, or the bind error if Start failed.
func (s *Server) Wait() error {
	<-s.done
	return s.waitErr
}

// Done is closed when every adapter has returned from Serve.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// stopAdapters stops adapters in reverse order and returns their errors.
func stopAdapters(ctx context.Context, adapters []adapter.Adapter) []error {
	var errs []error
	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		logger.Debug("Stopping %s adapter (port %d)", a.Protocol(), a.Port())

		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
			errs = append(errs, fmt.Errorf("stop %s adapter: %w", a.Protocol(), err))
		}
	}
	return errs
}
