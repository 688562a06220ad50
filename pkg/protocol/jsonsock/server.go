// Package jsonsock implements a request/response protocol carrying one
// UTF-8 JSON document per frame.
package jsonsock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/conn"
	"github.com/marmos91/knsock/pkg/frame"
	"github.com/marmos91/knsock/pkg/metrics"
)

// Protocol is the name used in logs and metrics.
const Protocol = "json"

// Handler produces the response document for one request. A returned error
// is sent to the client as a handler_error envelope.
type Handler interface {
	HandleJSON(ctx context.Context, msg *Message) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) (any, error)

// HandleJSON calls f(ctx, msg).
func (f HandlerFunc) HandleJSON(ctx context.Context, msg *Message) (any, error) {
	return f(ctx, msg)
}

// Server serves the JSON protocol on accepted connections. It implements
// stream.Handler.
type Server struct {
	handler Handler
	metrics metrics.SocketMetrics
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics records per-request latency and errors.
func WithMetrics(m metrics.SocketMetrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewServer returns a protocol server dispatching to h.
func NewServer(h Handler, opts ...Option) *Server {
	s := &Server{
		handler: h,
		metrics: metrics.NewNoopSocketMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeConn answers requests until the client closes the connection.
// Malformed requests and handler failures are answered with an error
// envelope and do not end the loop.
func (s *Server) ServeConn(ctx context.Context, c *conn.Connection) error {
	for {
		payload, err := c.ReceiveFrame()
		if err != nil {
			if errors.Is(err, frame.ErrConnectionClosed) {
				return nil
			}
			return err
		}

		start := time.Now()
		response, err := s.handle(ctx, c, payload)
		s.metrics.RecordRequest(Protocol, time.Since(start), err)

		if err := c.SendFrame(response); err != nil {
			if !errors.Is(err, frame.ErrFrameTooLarge) {
				return err
			}
			logger.Warn("JSON response for %s exceeds frame limit: %v", c.RemoteAddr(), err)
			msg := fmt.Sprintf("response of %d bytes exceeds maximum frame size", len(response))
			if err := c.SendFrame(encodeError(CodeResponseTooLarge, msg)); err != nil {
				return err
			}
		}
	}
}

// handle returns the encoded response and the request error, if any.
func (s *Server) handle(ctx context.Context, c *conn.Connection, payload []byte) ([]byte, error) {
	var doc any
	if err := unmarshal(payload, &doc); err != nil {
		logger.Debug("Malformed JSON from %s: %v", c.RemoteAddr(), err)
		return encodeError(CodeMalformedJSON, err.Error()), err
	}

	result, err := s.handler.HandleJSON(ctx, &Message{Doc: doc, Raw: payload, Conn: c})
	if err != nil {
		logger.Debug("JSON handler error for %s: %v", c.RemoteAddr(), err)
		return encodeError(CodeHandlerError, err.Error()), err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return encodeError(CodeHandlerError, "encode response: "+err.Error()), err
	}
	return out, nil
}
