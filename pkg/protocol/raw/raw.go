// Package raw serves unframed byte streams: every read is passed to a
// handler and its output is written back.
//
// There are no message boundaries on the wire, so a handler may see one
// client write split across reads or several writes merged into one.
package raw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/conn"
	"github.com/marmos91/knsock/pkg/metrics"
)

// Protocol is the name used in logs and metrics.
const Protocol = "raw"

// DefaultBufferSize is the read size used when none is configured.
const DefaultBufferSize = 4096

// Handler turns received bytes into a reply. An empty reply writes
// nothing. An error ends the connection.
type Handler interface {
	HandleRaw(ctx context.Context, data []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, data []byte) ([]byte, error)

// HandleRaw calls f(ctx, data).
func (f HandlerFunc) HandleRaw(ctx context.Context, data []byte) ([]byte, error) {
	return f(ctx, data)
}

// Echo replies with the bytes it received.
var Echo = HandlerFunc(func(_ context.Context, data []byte) ([]byte, error) {
	return data, nil
})

// Server serves the raw protocol. It implements stream.Handler.
type Server struct {
	handler    Handler
	bufferSize int
	metrics    metrics.SocketMetrics
}

// Option customizes a Server.
type Option func(*Server)

// WithBufferSize sets the maximum bytes passed to the handler per read.
func WithBufferSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithMetrics records one request per handled read.
func WithMetrics(m metrics.SocketMetrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewServer returns a raw server dispatching to h.
func NewServer(h Handler, opts ...Option) *Server {
	s := &Server{
		handler:    h,
		bufferSize: DefaultBufferSize,
		metrics:    metrics.NewNoopSocketMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeConn answers reads until the client half-closes or closes the
// connection.
func (s *Server) ServeConn(ctx context.Context, c *conn.Connection) error {
	buf := make([]byte, s.bufferSize)

	for {
		n, err := c.Read(buf)
		if n > 0 {
			start := time.Now()
			reply, herr := s.handler.HandleRaw(ctx, buf[:n])
			s.metrics.RecordRequest(Protocol, time.Since(start), herr)
			if herr != nil {
				return fmt.Errorf("raw handler: %w", herr)
			}

			if len(reply) > 0 {
				if _, werr := c.Write(reply); werr != nil {
					return werr
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("Raw connection %s finished", c.RemoteAddr())
				return nil
			}
			return err
		}
	}
}

// Send dials addr, writes msg, half-closes and returns everything the
// server writes back before closing its side.
func Send(ctx context.Context, addr string, msg []byte, opts conn.Options) ([]byte, error) {
	c, err := conn.Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if len(msg) > 0 {
		if _, err := c.Write(msg); err != nil {
			return nil, fmt.Errorf("write message: %w", err)
		}
	}
	if err := c.CloseWrite(); err != nil {
		return nil, fmt.Errorf("half-close: %w", err)
	}

	reply, err := io.ReadAll(c)
	if err != nil {
		if ctx.Err() != nil {
			return reply, ctx.Err()
		}
		return reply, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
