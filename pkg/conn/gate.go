package conn

import "context"

// Gate is a single execution token shared by the handlers of a cooperative
// acceptor. A handler runs only while it holds the token; a Connection with
// a gate attached hands the token back while it waits on the socket.
//
// A nil *Gate is valid and never blocks.
type Gate struct {
	token chan struct{}
}

// NewGate returns an unheld gate.
func NewGate() *Gate {
	return &Gate{token: make(chan struct{}, 1)}
}

// Acquire blocks until the token is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if g == nil {
		return nil
	}
	select {
	case g.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the token. It must only be called by the current holder.
func (g *Gate) Release() {
	if g == nil {
		return
	}
	<-g.token
}
