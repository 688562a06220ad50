// Package transfer implements the framed file-transfer protocol.
//
// A session is one handshake frame (JSON Metadata), then body frames whose
// payloads concatenate to exactly Metadata.Size bytes, then one JSON Result
// frame from the receiver. A connection may carry several sessions in a
// row.
//
// Session states: HANDSHAKE -> TRANSFER -> VERIFY -> COMPLETE | FAILED.
// Staged output is published only in COMPLETE.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/conn"
	"github.com/marmos91/knsock/pkg/frame"
	"github.com/marmos91/knsock/pkg/ledger"
	"github.com/marmos91/knsock/pkg/metrics"
	"github.com/marmos91/knsock/pkg/store"
)

// Protocol is the name used in logs and metrics.
const Protocol = "transfer"

// DefaultLingerTimeout is how long a refused sender may keep streaming
// before the receiver hangs up.
const DefaultLingerTimeout = 5 * time.Second

// Recorder persists session outcomes. *ledger.Ledger implements it.
type Recorder interface {
	Record(ctx context.Context, r *ledger.Record) error
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Store receives committed files. Required.
	Store store.Store

	// Ledger records every session outcome. Optional.
	Ledger Recorder

	// MaxFileSize refuses larger handshakes. 0 means unlimited.
	MaxFileSize int64

	// MaxChunkSize refuses larger body frames. 0 leaves the frame size
	// limit as the only bound.
	MaxChunkSize int

	// LingerTimeout bounds how long a refused sender's remaining body is
	// drained before the connection is closed. Default: DefaultLingerTimeout.
	LingerTimeout time.Duration

	// Metrics receives per-session counters. Optional.
	Metrics metrics.SocketMetrics

	// OnSession is called after every session reaches a terminal state.
	OnSession func(s *Session)
}

// Receiver serves the transfer protocol. It implements stream.Handler.
type Receiver struct {
	config  ReceiverConfig
	metrics metrics.SocketMetrics
}

// NewReceiver creates a receiver. Panics if cfg.Store is nil.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.Store == nil {
		panic("transfer receiver requires a store")
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoopSocketMetrics()
	}
	if cfg.LingerTimeout <= 0 {
		cfg.LingerTimeout = DefaultLingerTimeout
	}
	return &Receiver{config: cfg, metrics: m}
}

// ServeConn runs sessions until the sender closes the connection at a
// session boundary.
func (r *Receiver) ServeConn(ctx context.Context, c *conn.Connection) error {
	for {
		payload, err := c.ReceiveFrame()
		if err != nil {
			if errors.Is(err, frame.ErrConnectionClosed) {
				return nil
			}
			return err
		}

		session, err := r.runSession(ctx, c, payload)
		r.finish(ctx, session)

		if err != nil {
			// The stream is no longer at a frame boundary we can trust.
			if session.reported {
				r.linger(c)
			}
			return err
		}
	}
}

// runSession drives one session from its handshake frame. A non-nil error
// means the connection must be closed; session-level failures that leave
// the stream usable (checksum mismatch, commit failure) return nil.
func (r *Receiver) runSession(ctx context.Context, c *conn.Connection, handshake []byte) (*Session, error) {
	s := newSession(c.RemoteAddr().String())

	meta, err := decodeMetadata(handshake)
	if err == nil {
		err = s.begin(ctx, meta, r.config.Store, r.config.MaxFileSize)
	} else {
		_ = s.fail(err)
	}
	if err != nil {
		logger.Warn("Transfer %s from %s refused: %v", s.ID, s.Peer, err)
		r.sendResult(c, s)
		return s, err
	}

	logger.Debug("Transfer %s started: name=%s size=%d algorithm=%s peer=%s",
		s.ID, s.Meta.Name, s.Meta.Size, s.Meta.ChecksumAlgorithm, s.Peer)

	for s.State == StateTransfer && s.Remaining() > 0 {
		chunk, err := c.ReceiveContinuation()
		if err != nil {
			_ = s.abort(err)
			return s, s.Err
		}

		if r.config.MaxChunkSize > 0 && len(chunk) > r.config.MaxChunkSize {
			_ = s.fail(fmt.Errorf("%w: chunk of %d bytes exceeds maximum %d",
				ErrTransferAborted, len(chunk), r.config.MaxChunkSize))
			r.sendResult(c, s)
			return s, s.Err
		}

		if err := s.write(chunk); err != nil {
			r.sendResult(c, s)
			return s, err
		}
	}

	if err := s.verify(ctx); err != nil {
		logger.Warn("Transfer %s of %s failed verification: %v", s.ID, s.Meta.Name, err)
	}

	if err := r.sendResult(c, s); err != nil {
		return s, err
	}
	return s, nil
}

func (r *Receiver) sendResult(c *conn.Connection, s *Session) error {
	payload, err := json.Marshal(s.result())
	if err != nil {
		return fmt.Errorf("encode transfer result: %w", err)
	}
	if err := c.SendFrame(payload); err != nil {
		logger.Debug("Could not report transfer %s result to %s: %v", s.ID, s.Peer, err)
		return err
	}
	s.reported = true
	return nil
}

// linger half-closes c after a failed result and discards whatever the
// sender still has in flight. Closing with unread data would reset the
// connection and could destroy the result before the sender reads it.
// Draining stops at the sender's EOF or after LingerTimeout.
func (r *Receiver) linger(c *conn.Connection) {
	if err := c.CloseWrite(); err != nil {
		return
	}

	timer := time.AfterFunc(r.config.LingerTimeout, func() { _ = c.Close() })
	defer timer.Stop()

	n, _ := io.Copy(io.Discard, c)
	logger.Debug("Discarded %d bytes from %s after a failed transfer", n, c.RemoteAddr())
}

// finish records the outcome of a terminal session.
func (r *Receiver) finish(ctx context.Context, s *Session) {
	finished := time.Now()
	duration := finished.Sub(s.StartedAt)

	switch {
	case s.State == StateComplete:
		logger.Info("Transfer %s complete: %s (%d bytes, %s %s) from %s in %v",
			s.ID, s.Meta.Name, s.Received, s.Meta.ChecksumAlgorithm, s.Checksum, s.Peer, duration)
		r.metrics.RecordTransfer(metrics.OutcomeComplete, s.Received, duration)
	case errors.Is(s.Err, ErrChecksumMismatch):
		r.metrics.RecordTransfer(metrics.OutcomeChecksumMismatch, s.Received, duration)
	case errors.Is(s.Err, ErrInvalidMetadata):
		r.metrics.RecordTransfer(metrics.OutcomeRejected, 0, duration)
	default:
		logger.Warn("Transfer %s of %q aborted after %d/%d bytes: %v",
			s.ID, s.Meta.Name, s.Received, s.Meta.Size, s.Err)
		r.metrics.RecordTransfer(metrics.OutcomeAborted, s.Received, duration)
	}

	if r.config.OnSession != nil {
		r.config.OnSession(s)
	}

	if r.config.Ledger == nil {
		return
	}

	res := s.result()
	rec := &ledger.Record{
		ID:               s.ID,
		Name:             s.Meta.Name,
		Size:             s.Meta.Size,
		BytesReceived:    s.Received,
		Algorithm:        s.Meta.ChecksumAlgorithm,
		ExpectedChecksum: s.Meta.ExpectedChecksum,
		ActualChecksum:   s.Checksum,
		Status:           res.Status,
		Peer:             s.Peer,
		Store:            r.config.Store.Type(),
		StartedAt:        s.StartedAt,
		FinishedAt:       finished,
	}
	if res.Error != nil {
		rec.ErrorCode = res.Error.Code
		rec.ErrorMessage = res.Error.Message
	}

	// Recording must not depend on the connection's fate.
	if err := r.config.Ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("Failed to record transfer %s in ledger: %v", s.ID, err)
	}
}
