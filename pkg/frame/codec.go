// Package frame implements the length-prefixed framing shared by every
// stream protocol in knsock.
//
// Wire format (big-endian):
//
//	+----------------+---------------------------+
//	| length: uint32 | payload: length bytes     |
//	+----------------+---------------------------+
//
// The length never exceeds the codec's configured maximum. Oversized frames
// are rejected on both sides so a peer cannot make us allocate arbitrary
// amounts of memory.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
)

const (
	// HeaderSize is the size of the length prefix in bytes.
	HeaderSize = 4

	// DefaultMaxSize bounds payloads when no explicit limit is configured.
	DefaultMaxSize = 16 << 20 // 16MB
)

// Codec encodes and decodes frames with a fixed maximum payload size.
//
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	maxSize uint32
}

// NewCodec returns a codec accepting payloads up to maxSize bytes.
// maxSize <= 0 selects DefaultMaxSize.
func NewCodec(maxSize int) *Codec {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if uint64(maxSize) > math.MaxUint32 {
		maxSize = math.MaxUint32
	}
	return &Codec{maxSize: uint32(maxSize)}
}

// MaxSize returns the largest accepted payload size.
func (c *Codec) MaxSize() int {
	return int(c.maxSize)
}

// Check returns ErrFrameTooLarge if a payload of n bytes cannot be framed.
func (c *Codec) Check(n int) error {
	if uint64(n) > uint64(c.maxSize) {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrFrameTooLarge, n, c.maxSize)
	}
	return nil
}

// Encode returns header and payload as one contiguous frame.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	if err := c.Check(len(payload)); err != nil {
		return nil, err
	}

	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[:HeaderSize], uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// WriteFrame writes one frame to w. The size check happens before anything
// is written, so ErrFrameTooLarge leaves the stream untouched.
//
// Header and payload go out through net.Buffers, which becomes a single
// writev(2) on TCP connections and avoids copying large chunks.
func (c *Codec) WriteFrame(w io.Writer, payload []byte) error {
	if err := c.Check(len(payload)); err != nil {
		return err
	}

	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	bufs := net.Buffers{header[:], payload}
	if _, err := bufs.WriteTo(w); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadHeader reads and validates a length prefix.
func (c *Codec) ReadHeader(r io.Reader) (uint32, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if isEOF(err) {
			return 0, ErrConnectionClosed
		}
		return 0, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > c.maxSize {
		return 0, fmt.Errorf("%w: declared %d bytes, maximum %d", ErrFrameTooLarge, length, c.maxSize)
	}
	return length, nil
}

// Decode reads one complete frame from r and returns its payload.
//
// Short reads are accumulated until the prefix and then the payload are
// complete, so r may be any stream (a TCP socket returns whatever has
// arrived so far).
func (c *Codec) Decode(r io.Reader) ([]byte, error) {
	length, err := c.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	return c.ReadPayload(r, length)
}

// ReadPayload reads the length bytes announced by a header.
func (c *Codec) ReadPayload(r io.Reader, length uint32) ([]byte, error) {
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if isEOF(err) {
			return nil, fmt.Errorf("%w: expected %d bytes", ErrIncompleteFrame, length)
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// isEOF reports stream ends, including reads on a socket that was closed
// locally (the universal cancellation signal).
func isEOF(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
