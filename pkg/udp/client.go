package udp

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Send writes msg to addr as one datagram. Delivery is not confirmed.
func Send(ctx context.Context, addr string, msg []byte) error {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer nc.Close()

	if len(msg) > MaxDatagramSize {
		return fmt.Errorf("message of %d bytes exceeds maximum datagram size %d", len(msg), MaxDatagramSize)
	}
	if _, err := nc.Write(msg); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

// Request sends msg and waits for one reply datagram until ctx is done.
// A lost request or reply surfaces as the context's error.
func Request(ctx context.Context, addr string, msg []byte) ([]byte, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer nc.Close()

	stop := context.AfterFunc(ctx, func() { _ = nc.SetReadDeadline(time.Now()) })
	defer stop()

	if _, err := nc.Write(msg); err != nil {
		return nil, fmt.Errorf("send datagram: %w", err)
	}

	buf := make([]byte, MaxDatagramSize)
	n, err := nc.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return buf[:n], nil
}
