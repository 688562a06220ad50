package frame

import "errors"

var (
	// ErrFrameTooLarge indicates a payload (outgoing) or a declared length
	// (incoming) above the codec's maximum frame size.
	//
	// On encode nothing has been written to the stream. On decode the stream
	// position is undefined and the connection must be dropped.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrIncompleteFrame indicates the stream ended after a length prefix
	// but before the declared number of payload bytes arrived.
	ErrIncompleteFrame = errors.New("incomplete frame")

	// ErrConnectionClosed indicates the stream ended before a full 4-byte
	// length prefix could be read. At a message boundary this is the normal
	// way for a peer to say it is done.
	ErrConnectionClosed = errors.New("connection closed")
)
