package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/conn"
)

// DefaultChunkSize is the body frame size used when SendOptions leaves it
// unset.
const DefaultChunkSize = 64 << 10

// SendOptions configures the sending side.
type SendOptions struct {
	// Name overrides the destination name. Default: base name of the path.
	Name string

	// ChunkSize is the body frame size. Default: 64KiB. Must not exceed
	// the connection's maximum frame size.
	ChunkSize int

	// Algorithm selects the checksum. Default: sha256.
	Algorithm string

	// Progress is called after every chunk with the bytes sent so far.
	Progress func(sent, total int64)
}

func (o *SendOptions) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Algorithm == "" {
		o.Algorithm = DefaultAlgorithm
	}
}

// SendFile hashes the file at path and transfers it over c.
//
// The returned Result is non-nil whenever the receiver reported an outcome;
// a failed outcome is also returned as an error (see RemoteError).
func SendFile(ctx context.Context, c *conn.Connection, path string, opts SendOptions) (*Result, error) {
	opts.applyDefaults()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sum, size, err := Checksum(f, opts.Algorithm)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind %s: %w", path, err)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}

	return Send(ctx, c, Metadata{
		Name:              name,
		Size:              size,
		ChecksumAlgorithm: opts.Algorithm,
		ExpectedChecksum:  sum,
	}, f, opts)
}

// SendFileTo dials addr, sends one file and closes the connection.
func SendFileTo(ctx context.Context, addr, path string, opts SendOptions, connOpts conn.Options) (*Result, error) {
	c, err := conn.Dial(ctx, addr, connOpts)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return SendFile(ctx, c, path, opts)
}

// Send transfers meta.Size bytes read from r. The checksum in meta is sent
// as is, so a wrong checksum makes the receiver fail the session.
//
// A receiver that refuses the session early keeps draining the body for its
// linger timeout, so the whole body is sent and its reason is returned
// afterwards (ErrInvalidMetadata, ErrStore, ...). A body still in flight
// when the linger timeout expires fails with ErrTransferAborted.
func Send(ctx context.Context, c *conn.Connection, meta Metadata, r io.Reader, opts SendOptions) (*Result, error) {
	opts.applyDefaults()
	if meta.ChecksumAlgorithm == "" {
		meta.ChecksumAlgorithm = opts.Algorithm
	}

	if opts.ChunkSize > c.MaxFrameSize() {
		return nil, fmt.Errorf("chunk size %d exceeds maximum frame size %d", opts.ChunkSize, c.MaxFrameSize())
	}
	if err := meta.Validate(0); err != nil {
		return nil, err
	}

	handshake, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if err := c.SendFrame(handshake); err != nil {
		return nil, fmt.Errorf("%w: send metadata: %w", ErrTransferAborted, err)
	}

	logger.Debug("Sending %s (%d bytes, %s) to %s in %d byte chunks",
		meta.Name, meta.Size, meta.ChecksumAlgorithm, c.RemoteAddr(), opts.ChunkSize)

	buf := make([]byte, opts.ChunkSize)
	var sent int64

	for sent < meta.Size {
		if err := ctx.Err(); err != nil {
			// Closing mid-body makes the receiver abort and discard.
			_ = c.Close()
			return nil, fmt.Errorf("%w: %w", ErrTransferAborted, err)
		}

		n := int(min(int64(opts.ChunkSize), meta.Size-sent))
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("%w: read source after %d bytes: %w", ErrTransferAborted, sent, err)
		}

		if err := c.SendFrame(buf[:n]); err != nil {
			return nil, fmt.Errorf("%w: send chunk: %w", ErrTransferAborted, err)
		}

		sent += int64(n)
		if opts.Progress != nil {
			opts.Progress(sent, meta.Size)
		}
	}

	res, err := awaitResult(c)
	if err != nil {
		return nil, err
	}
	return res, res.Err()
}

func awaitResult(c *conn.Connection) (*Result, error) {
	payload, err := c.ReceiveFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: await result: %w", ErrTransferAborted, err)
	}

	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode transfer result: %w", err)
	}
	if res.Status != StatusComplete && res.Status != StatusFailed {
		return nil, errors.New("transfer result has unknown status " + res.Status)
	}
	return &res, nil
}
