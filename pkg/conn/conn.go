// Package conn wraps one stream socket with frame-level and raw I/O.
//
// The same Connection type is used by both concurrency modes of the
// acceptor. In cooperative mode a Gate is attached and every blocking socket
// operation becomes a point where other handlers may run.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/internal/ratelimiter"
	"github.com/marmos91/knsock/pkg/frame"
	"github.com/marmos91/knsock/pkg/metrics"
)

// Options configures a Connection. The zero value is usable: no timeouts,
// default frame size, no gate, no rate limit, no metrics.
type Options struct {
	// MaxFrameSize bounds frame payloads in both directions.
	// 0 selects frame.DefaultMaxSize.
	MaxFrameSize int

	// ReadTimeout bounds each read (a frame payload or a raw read).
	ReadTimeout time.Duration

	// WriteTimeout bounds each write.
	WriteTimeout time.Duration

	// IdleTimeout bounds the wait for the header of the next frame. When
	// zero, ReadTimeout applies to the header as well.
	IdleTimeout time.Duration

	// Gate is released around socket I/O. Set by cooperative acceptors.
	Gate *Gate

	// Limiter throttles received frames. nil disables throttling.
	Limiter *ratelimiter.Limiter

	// Metrics receives frame counters. nil disables collection.
	Metrics metrics.SocketMetrics
}

// Connection owns one stream socket for its lifetime.
//
// A Connection is owned by a single handler goroutine. Close may be called
// from any goroutine, any number of times.
type Connection struct {
	id      string
	nc      net.Conn
	codec   *frame.Codec
	opts    Options
	metrics metrics.SocketMetrics

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// New wraps an established socket.
func New(nc net.Conn, opts Options) *Connection {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopSocketMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		id:      uuid.NewString(),
		nc:      nc,
		codec:   frame.NewCodec(opts.MaxFrameSize),
		opts:    opts,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dial connects to addr over TCP and wraps the socket.
func Dial(ctx context.Context, addr string, opts Options) (*Connection, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(nc, opts), nil
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// LocalAddr returns the local address.
func (c *Connection) LocalAddr() net.Addr { return c.nc.LocalAddr() }

// MaxFrameSize returns the largest payload SendFrame accepts.
func (c *Connection) MaxFrameSize() int { return c.codec.MaxSize() }

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Close closes the socket. Only the first call has an effect; later calls
// return the result of the first.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.closeErr = c.nc.Close()
		logger.Debug("Connection %s to %s closed", c.id, c.nc.RemoteAddr())
	})
	return c.closeErr
}

// SendFrame writes payload as one frame. ErrFrameTooLarge is returned
// without writing anything and leaves the connection open.
func (c *Connection) SendFrame(payload []byte) error {
	if c.IsClosed() {
		return frame.ErrConnectionClosed
	}
	if err := c.codec.Check(len(payload)); err != nil {
		return err
	}

	c.setWriteDeadline()

	c.yield()
	err := c.codec.WriteFrame(c.nc, payload)
	c.resume()

	if err != nil {
		return c.fail("send frame", err)
	}

	c.metrics.RecordFrame(metrics.DirectionOut, len(payload))
	return nil
}

// ReceiveFrame reads the next frame. Any error closes the connection;
// frame.ErrConnectionClosed at a frame boundary means the peer is done.
func (c *Connection) ReceiveFrame() ([]byte, error) {
	if c.IsClosed() {
		return nil, frame.ErrConnectionClosed
	}

	headerTimeout := c.opts.IdleTimeout
	if headerTimeout <= 0 {
		headerTimeout = c.opts.ReadTimeout
	}
	return c.receiveFrame(headerTimeout)
}

// ReceiveContinuation reads a frame that continues a message in progress,
// such as the next chunk of a file. The peer is mid-message rather than
// idle, so the header wait is bound by ReadTimeout instead of IdleTimeout.
func (c *Connection) ReceiveContinuation() ([]byte, error) {
	if c.IsClosed() {
		return nil, frame.ErrConnectionClosed
	}
	return c.receiveFrame(c.opts.ReadTimeout)
}

func (c *Connection) receiveFrame(headerTimeout time.Duration) ([]byte, error) {
	c.yield()
	payload, err := c.receive(headerTimeout)
	c.resume()

	if err != nil {
		return nil, c.fail("receive frame", err)
	}

	c.metrics.RecordFrame(metrics.DirectionIn, len(payload))
	return payload, nil
}

func (c *Connection) receive(headerTimeout time.Duration) ([]byte, error) {
	if err := c.opts.Limiter.Wait(c.ctx); err != nil {
		return nil, frame.ErrConnectionClosed
	}

	setDeadline(c.nc.SetReadDeadline, headerTimeout)

	length, err := c.codec.ReadHeader(c.nc)
	if err != nil {
		return nil, err
	}

	setDeadline(c.nc.SetReadDeadline, c.opts.ReadTimeout)

	return c.codec.ReadPayload(c.nc, length)
}

// Read reads raw bytes from the socket. Errors other than a short read
// close the connection.
func (c *Connection) Read(p []byte) (int, error) {
	if c.IsClosed() {
		return 0, net.ErrClosed
	}

	setDeadline(c.nc.SetReadDeadline, c.opts.ReadTimeout)

	c.yield()
	n, err := c.nc.Read(p)
	c.resume()

	if err != nil {
		return n, c.failRaw(err)
	}
	c.metrics.RecordFrame(metrics.DirectionIn, n)
	return n, nil
}

// Write writes raw bytes to the socket.
func (c *Connection) Write(p []byte) (int, error) {
	if c.IsClosed() {
		return 0, net.ErrClosed
	}

	c.setWriteDeadline()

	c.yield()
	n, err := c.nc.Write(p)
	c.resume()

	if err != nil {
		return n, c.failRaw(err)
	}
	c.metrics.RecordFrame(metrics.DirectionOut, n)
	return n, nil
}

// CloseWrite shuts down the sending side so the peer reads EOF while this
// side can still read the reply. Sockets without half-close are closed.
func (c *Connection) CloseWrite() error {
	if c.IsClosed() {
		return net.ErrClosed
	}
	if hc, ok := c.nc.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return c.Close()
}

func (c *Connection) setWriteDeadline() {
	setDeadline(c.nc.SetWriteDeadline, c.opts.WriteTimeout)
}

func setDeadline(set func(time.Time) error, timeout time.Duration) {
	if timeout > 0 {
		_ = set(time.Now().Add(timeout))
	} else {
		_ = set(time.Time{})
	}
}

// yield hands the execution token back while the socket blocks.
func (c *Connection) yield() {
	c.opts.Gate.Release()
}

func (c *Connection) resume() {
	_ = c.opts.Gate.Acquire(context.Background())
}

// fail closes the connection and classifies err.
func (c *Connection) fail(op string, err error) error {
	_ = c.Close()

	if isTimeout(err) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	if errors.Is(err, net.ErrClosed) {
		return frame.ErrConnectionClosed
	}
	return err
}

func (c *Connection) failRaw(err error) error {
	_ = c.Close()

	if isTimeout(err) {
		return fmt.Errorf("raw i/o: %w", ErrTimeout)
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
