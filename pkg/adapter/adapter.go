package adapter

import (
	"context"
	"net"
)

// Adapter is a network endpoint managed by server.Server.
//
// Each adapter owns one listening socket and the connections accepted on it.
// Binding is split from serving so the server can report bind failures
// before any adapter starts accepting.
//
// Lifecycle:
//  1. Creation: the adapter is built with its configuration and handler
//  2. Listen: the socket is bound; failures are reported immediately
//  3. Serve: the accept loop runs until the context is cancelled or Stop is called
//  4. Stop: the listener is closed and in-flight work is drained
//
// Thread safety:
// Stop may be called concurrently with Serve and more than once.
type Adapter interface {
	// Listen binds the adapter's socket. Calling Listen on a bound adapter
	// is a no-op.
	Listen(ctx context.Context) error

	// Serve runs the accept loop and blocks until shutdown completes.
	// It calls Listen first if the adapter is not bound yet.
	//
	// Returns nil after a graceful shutdown, or an error when the shutdown
	// grace period expired and connections had to be force-closed.
	Serve(ctx context.Context) error

	// Stop stops accepting and waits for in-flight connections. When ctx
	// expires first, remaining connections are force-closed.
	Stop(ctx context.Context) error

	// Protocol returns the adapter name used in logs and metrics.
	Protocol() string

	// Port returns the bound port, or the configured port before Listen.
	Port() int

	// Addr returns the bound address, or nil before Listen.
	Addr() net.Addr
}
