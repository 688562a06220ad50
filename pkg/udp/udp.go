// Package udp sends and serves single datagrams. There is no framing and
// no delivery guarantee: datagrams may be lost, duplicated or reordered.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/metrics"
)

// Protocol is the name used in logs and metrics.
const Protocol = "udp"

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

// ErrBindFailure indicates the socket could not be bound.
var ErrBindFailure = errors.New("udp bind failure")

// Config holds the datagram server configuration.
type Config struct {
	// Enabled controls whether the adapter is started by the server.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Host is the bind address. Empty binds all interfaces.
	Host string `mapstructure:"host" yaml:"host" json:"host,omitempty"`

	// Port is the UDP port to listen on.
	Port int `mapstructure:"port" yaml:"port" json:"port" validate:"min=0,max=65535"`

	// BufferSize is the largest datagram accepted. Longer datagrams are
	// truncated by the kernel. Default: 65507.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" json:"buffer_size" validate:"min=0,max=65507"`
}

// Address returns the host:port the server binds.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Handler processes one datagram. A non-empty reply is sent back to from.
type Handler interface {
	HandleDatagram(ctx context.Context, from net.Addr, data []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, from net.Addr, data []byte) ([]byte, error)

// HandleDatagram calls f(ctx, from, data).
func (f HandlerFunc) HandleDatagram(ctx context.Context, from net.Addr, data []byte) ([]byte, error) {
	return f(ctx, from, data)
}

// Server implements adapter.Adapter for datagrams. Datagrams are handled
// one at a time in arrival order.
type Server struct {
	config  Config
	handler Handler
	metrics metrics.SocketMetrics

	mu      sync.Mutex
	pc      net.PacketConn
	closing bool
	serving bool

	stopOnce  sync.Once
	serveDone chan struct{}
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics reports datagram counters to m.
func WithMetrics(m metrics.SocketMetrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a datagram server. Panics if handler is nil.
func New(config Config, handler Handler, opts ...Option) *Server {
	if handler == nil {
		panic("udp server requires a handler")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = MaxDatagramSize
	}

	s := &Server{
		config:    config,
		handler:   handler,
		metrics:   metrics.NewNoopSocketMetrics(),
		serveDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the socket.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return errors.New("udp server is stopped")
	}
	if s.pc != nil {
		return nil
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", s.config.Address())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBindFailure, s.config.Address(), err)
	}

	s.pc = pc
	logger.Info("udp server listening on %s", pc.LocalAddr())
	return nil
}

// Serve reads datagrams until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		return errors.New("udp server is already serving")
	}
	s.serving = true
	pc := s.pc
	s.mu.Unlock()

	defer close(s.serveDone)

	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	handlerCtx := context.WithoutCancel(ctx)
	buf := make([]byte, s.config.BufferSize)

	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Info("udp server on %s stopped", pc.LocalAddr())
				return nil
			}
			logger.Debug("Error reading udp datagram: %v", err)
			time.Sleep(5 * time.Millisecond)
			continue
		}

		s.metrics.RecordFrame(metrics.DirectionIn, n)
		s.handle(handlerCtx, pc, from, buf[:n])
	}
}

func (s *Server) handle(ctx context.Context, pc net.PacketConn, from net.Addr, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in udp handler for %s: %v\n%s", from, r, debug.Stack())
		}
	}()

	start := time.Now()
	reply, err := s.handler.HandleDatagram(ctx, from, data)
	s.metrics.RecordRequest(Protocol, time.Since(start), err)
	if err != nil {
		logger.Warn("udp handler error for datagram from %s: %v", from, err)
		return
	}
	if len(reply) == 0 {
		return
	}

	if _, err := pc.WriteTo(reply, from); err != nil {
		logger.Debug("Could not reply to %s: %v", from, err)
		return
	}
	s.metrics.RecordFrame(metrics.DirectionOut, len(reply))
}

func (s *Server) close() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.closing = true
		if s.pc != nil {
			_ = s.pc.Close()
		}
	})
}

// Stop closes the socket and waits for the datagram being handled, if any.
func (s *Server) Stop(ctx context.Context) error {
	s.close()

	s.mu.Lock()
	serving := s.serving
	s.mu.Unlock()
	if !serving {
		return nil
	}

	select {
	case <-s.serveDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Protocol returns "udp".
func (s *Server) Protocol() string { return Protocol }

// Port returns the bound port, or the configured port before Listen.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return s.config.Port
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return nil
	}
	return s.pc.LocalAddr()
}
