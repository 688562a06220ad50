// Package stream implements the TCP acceptor shared by the framed and raw
// protocols.
//
// An Acceptor owns a listening socket and hands every accepted connection to
// a Handler, either on its own goroutine (threaded mode) or under a single
// execution token (cooperative mode).
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/internal/ratelimiter"
	"github.com/marmos91/knsock/pkg/conn"
	"github.com/marmos91/knsock/pkg/frame"
	"github.com/marmos91/knsock/pkg/metrics"
)

// Acceptor implements adapter.Adapter for stream protocols.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed under mu (no connection is registered afterwards)
//  3. Wait for active connections to finish (up to ShutdownTimeout)
//  4. Force-close remaining connections and cancel handler contexts
//
// Thread safety:
// All methods are safe for concurrent use.
type Acceptor struct {
	protocol string
	config   Config
	handler  Handler
	metrics  metrics.SocketMetrics

	// mu guards listener and closing. The accept path registers a
	// connection and the shutdown path closes the listener under it.
	mu       sync.Mutex
	listener net.Listener
	closing  bool
	serving  bool

	shutdownOnce sync.Once
	shutdown     chan struct{}

	forceOnce sync.Once
	force     chan struct{}

	// serveDone is closed when Serve has drained all connections.
	serveDone chan struct{}
	serveErr  error

	// activeConns counts running handlers for graceful shutdown.
	activeConns sync.WaitGroup
	connCount   atomic.Int32

	// connSemaphore bounds concurrent connections when MaxConnections > 0.
	connSemaphore chan struct{}

	// gate is the execution token in cooperative mode, nil otherwise.
	gate *conn.Gate

	// connections maps connection ID to *conn.Connection for forced closure.
	connections sync.Map

	cancelHandlers context.CancelFunc
}

// Option customizes an Acceptor.
type Option func(*Acceptor)

// WithMetrics reports connection and frame counters to m.
func WithMetrics(m metrics.SocketMetrics) Option {
	return func(a *Acceptor) {
		if m != nil {
			a.metrics = m
		}
	}
}

// New creates an acceptor in the stopped state.
//
// Zero values in config are replaced with defaults. Panics if the resulting
// configuration is invalid or handler is nil (programmer error).
func New(protocol string, config Config, handler Handler, opts ...Option) *Acceptor {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("invalid %s config: %v", protocol, err))
	}
	if handler == nil {
		panic(fmt.Sprintf("%s acceptor requires a handler", protocol))
	}

	a := &Acceptor{
		protocol:  protocol,
		config:    config,
		handler:   handler,
		metrics:   metrics.NewNoopSocketMetrics(),
		shutdown:  make(chan struct{}),
		force:     make(chan struct{}),
		serveDone: make(chan struct{}),
	}

	if config.MaxConnections > 0 {
		a.connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("%s connection limit: %d (overflow: %s)", protocol, config.MaxConnections, config.Overflow)
	} else {
		logger.Debug("%s connection limit: unlimited", protocol)
	}

	if config.Mode == ModeCooperative {
		a.gate = conn.NewGate()
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Listen binds the listening socket.
func (a *Acceptor) Listen(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closing {
		return ErrAcceptorClosed
	}
	if a.listener != nil {
		return nil
	}

	addr := a.config.Address()

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s listener on %s: %w", ErrBindFailure, a.protocol, addr, err)
	}

	a.listener = listener
	logger.Info("%s server listening on %s (mode: %s)", a.protocol, listener.Addr(), a.config.Mode)
	logger.Debug("%s config: max_connections=%d max_frame_size=%d read_timeout=%v write_timeout=%v idle_timeout=%v",
		a.protocol, a.config.MaxConnections, a.config.MaxFrameSize,
		a.config.ReadTimeout, a.config.WriteTimeout, a.config.IdleTimeout)

	return nil
}

// Serve accepts connections until ctx is cancelled or Stop is called, then
// drains in-flight connections.
func (a *Acceptor) Serve(ctx context.Context) error {
	if err := a.Listen(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	if a.serving {
		a.mu.Unlock()
		return fmt.Errorf("%s acceptor is already serving", a.protocol)
	}
	a.serving = true
	listener := a.listener
	a.mu.Unlock()

	defer close(a.serveDone)

	// Handlers keep running through the grace period; their context is
	// cancelled only by forceCloseConnections.
	handlerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancelHandlers = cancel
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("%s shutdown signal received: %v", a.protocol, ctx.Err())
			a.initiateShutdown()
		case <-a.shutdown:
		}
	}()

	if a.config.MetricsLogInterval > 0 {
		go a.logMetrics()
	}

	queue := a.connSemaphore != nil && a.config.Overflow == OverflowQueue
	reject := a.connSemaphore != nil && a.config.Overflow == OverflowReject

	for {
		if queue {
			select {
			case a.connSemaphore <- struct{}{}:
			case <-a.shutdown:
				a.serveErr = a.drain()
				return a.serveErr
			}
		}

		nc, err := listener.Accept()
		if err != nil {
			if queue {
				<-a.connSemaphore
			}

			select {
			case <-a.shutdown:
				a.serveErr = a.drain()
				return a.serveErr
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				a.initiateShutdown()
				a.serveErr = a.drain()
				return a.serveErr
			}

			logger.Debug("Error accepting %s connection: %v", a.protocol, err)
			time.Sleep(5 * time.Millisecond)
			continue
		}

		if reject {
			select {
			case a.connSemaphore <- struct{}{}:
			default:
				a.metrics.RecordConnectionRejected(a.protocol)
				logger.Warn("%s connection from %s rejected: %d connection(s) active (max %d)",
					a.protocol, nc.RemoteAddr(), a.connCount.Load(), a.config.MaxConnections)
				_ = nc.Close()
				continue
			}
		}

		c := conn.New(nc, a.connOptions())
		if !a.register(c) {
			_ = nc.Close()
			if a.connSemaphore != nil {
				<-a.connSemaphore
			}
			continue
		}

		go a.serveConn(handlerCtx, c)
	}
}

func (a *Acceptor) connOptions() conn.Options {
	return conn.Options{
		MaxFrameSize: a.config.MaxFrameSize,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
		Gate:         a.gate,
		Limiter:      ratelimiter.New(a.config.RateLimit),
		Metrics:      a.metrics,
	}
}

// register tracks c for shutdown. It fails once shutdown has begun, so the
// wait group never grows after drain starts waiting on it.
func (a *Acceptor) register(c *conn.Connection) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closing {
		return false
	}

	a.activeConns.Add(1)
	count := a.connCount.Add(1)
	a.connections.Store(c.ID(), c)

	a.metrics.RecordConnectionAccepted(a.protocol)
	a.metrics.SetActiveConnections(a.protocol, count)

	logger.Debug("%s connection %s accepted from %s (active: %d)",
		a.protocol, c.ID(), c.RemoteAddr(), count)
	return true
}

func (a *Acceptor) serveConn(ctx context.Context, c *conn.Connection) {
	holding := false

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in %s handler for %s: %v\n%s", a.protocol, c.RemoteAddr(), r, debug.Stack())
		}
		if holding {
			a.gate.Release()
		}

		_ = c.Close()
		a.connections.Delete(c.ID())

		count := a.connCount.Add(-1)
		if a.connSemaphore != nil {
			<-a.connSemaphore
		}

		a.metrics.RecordConnectionClosed(a.protocol)
		a.metrics.SetActiveConnections(a.protocol, count)
		logger.Debug("%s connection %s from %s closed (active: %d)", a.protocol, c.ID(), c.RemoteAddr(), count)

		a.activeConns.Done()
	}()

	if a.gate != nil {
		if err := a.gate.Acquire(ctx); err != nil {
			return
		}
		holding = true
	}

	if err := a.handler.ServeConn(ctx, c); err != nil {
		logConnError(a.protocol, c, err)
	}
}

func logConnError(protocol string, c *conn.Connection, err error) {
	switch {
	case errors.Is(err, frame.ErrConnectionClosed):
		logger.Debug("%s connection %s closed by client", protocol, c.RemoteAddr())
	case errors.Is(err, conn.ErrTimeout):
		logger.Debug("%s connection %s timed out: %v", protocol, c.RemoteAddr(), err)
	case errors.Is(err, context.Canceled):
		logger.Debug("%s connection %s cancelled: %v", protocol, c.RemoteAddr(), err)
	default:
		logger.Warn("%s connection %s ended with error: %v", protocol, c.RemoteAddr(), err)
	}
}

// initiateShutdown closes the listener. Safe to call multiple times.
func (a *Acceptor) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		logger.Debug("%s shutdown initiated", a.protocol)
		a.closing = true
		close(a.shutdown)

		if a.listener != nil {
			if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				logger.Debug("Error closing %s listener: %v", a.protocol, err)
			}
		}
	})
}

// drain waits for active connections, force-closing them after
// ShutdownTimeout or when Stop's context expires.
func (a *Acceptor) drain() error {
	activeCount := a.connCount.Load()
	logger.Info("%s graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		a.protocol, activeCount, a.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	timer := time.NewTimer(a.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		logger.Info("%s graceful shutdown complete: all connections closed", a.protocol)
		return nil
	case <-timer.C:
	case <-a.force:
	}

	remaining := a.connCount.Load()
	logger.Warn("%s shutdown grace period over: %d connection(s) still active, forcing closure",
		a.protocol, remaining)

	a.forceCloseConnections()

	select {
	case <-done:
	case <-time.After(a.config.ShutdownTimeout):
		logger.Error("%s handlers did not exit after forced closure", a.protocol)
	}

	return fmt.Errorf("%s shutdown timeout: %d connection(s) force-closed", a.protocol, remaining)
}

func (a *Acceptor) forceCloseConnections() {
	if a.cancelHandlers != nil {
		a.cancelHandlers()
	}

	closedCount := 0
	a.connections.Range(func(key, value any) bool {
		c := value.(*conn.Connection)
		if err := c.Close(); err != nil {
			logger.Debug("Error force-closing %s connection %s: %v", a.protocol, key, err)
		}
		closedCount++
		a.metrics.RecordConnectionForceClosed(a.protocol)
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d %s connection(s)", closedCount, a.protocol)
	}
}

// Stop closes the listener and waits for Serve to drain. If ctx expires
// first, remaining connections are force-closed and ctx.Err() is returned.
func (a *Acceptor) Stop(ctx context.Context) error {
	a.initiateShutdown()

	a.mu.Lock()
	serving := a.serving
	a.mu.Unlock()

	if !serving {
		return nil
	}

	select {
	case <-a.serveDone:
		return a.serveErr
	case <-ctx.Done():
		a.forceOnce.Do(func() { close(a.force) })
		<-a.serveDone
		return ctx.Err()
	}
}

func (a *Acceptor) logMetrics() {
	ticker := time.NewTicker(a.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.shutdown:
			return
		case <-ticker.C:
			logger.Info("%s metrics: active_connections=%d", a.protocol, a.connCount.Load())
		}
	}
}

// ActiveConnections returns the number of connections being served.
func (a *Acceptor) ActiveConnections() int32 {
	return a.connCount.Load()
}

// Addr returns the bound address, or nil before Listen.
func (a *Acceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Port returns the bound port, or the configured port before Listen.
func (a *Acceptor) Port() int {
	if tcp, ok := a.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return a.config.Port
}

// Protocol returns the adapter name.
func (a *Acceptor) Protocol() string {
	return a.protocol
}

// Mode returns the configured concurrency mode.
func (a *Acceptor) Mode() Mode {
	return a.config.Mode
}
