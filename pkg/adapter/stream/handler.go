package stream

import (
	"context"

	"github.com/marmos91/knsock/pkg/conn"
)

// Handler serves one accepted connection. The acceptor closes the
// connection after ServeConn returns, so handlers need not.
//
// The context is cancelled only when the acceptor force-closes connections
// at the end of the shutdown grace period.
type Handler interface {
	ServeConn(ctx context.Context, c *conn.Connection) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *conn.Connection) error

// ServeConn calls f(ctx, c).
func (f HandlerFunc) ServeConn(ctx context.Context, c *conn.Connection) error {
	return f(ctx, c)
}
