package stream

import "errors"

var (
	// ErrBindFailure indicates the listening socket could not be bound.
	// It is fatal to startup.
	ErrBindFailure = errors.New("bind failure")

	// ErrAcceptorClosed is returned by Listen and Serve after Stop.
	ErrAcceptorClosed = errors.New("acceptor closed")
)
