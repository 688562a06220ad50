package transfer

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/knsock/pkg/store"
)

// State of a transfer session.
type State int

const (
	StateHandshake State = iota
	StateTransfer
	StateVerify
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "HANDSHAKE"
	case StateTransfer:
		return "TRANSFER"
	case StateVerify:
		return "VERIFY"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Session is the receiving side of one file transfer.
//
// It is owned by a single connection handler and is not safe for
// concurrent use.
type Session struct {
	ID        string
	Peer      string
	Meta      Metadata
	State     State
	Received  int64
	Checksum  string
	StartedAt time.Time
	Err       error

	hash     hash.Hash
	staged   store.Staged
	reported bool
}

func newSession(peer string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Peer:      peer,
		State:     StateHandshake,
		StartedAt: time.Now(),
	}
}

// begin validates the handshake and stages the destination.
// HANDSHAKE -> TRANSFER.
func (s *Session) begin(ctx context.Context, meta *Metadata, dst store.Store, maxFileSize int64) error {
	s.Meta = *meta

	if err := meta.Validate(maxFileSize); err != nil {
		return s.fail(err)
	}

	h, err := NewHash(meta.ChecksumAlgorithm)
	if err != nil {
		return s.fail(err)
	}

	staged, err := dst.Stage(ctx, meta.Name)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrStore, err))
	}

	s.hash = h
	s.staged = staged
	s.State = StateTransfer
	return nil
}

// Remaining returns the bytes still expected.
func (s *Session) Remaining() int64 {
	return s.Meta.Size - s.Received
}

// write appends one chunk to staging and to the running digest.
func (s *Session) write(chunk []byte) error {
	if s.State != StateTransfer {
		return fmt.Errorf("chunk received in state %s", s.State)
	}
	if int64(len(chunk)) > s.Remaining() {
		return s.fail(fmt.Errorf("%w: chunk of %d bytes overruns declared size (%d remaining)",
			ErrTransferAborted, len(chunk), s.Remaining()))
	}

	if _, err := s.staged.Write(chunk); err != nil {
		return s.fail(fmt.Errorf("%w: %w: %v", ErrTransferAborted, ErrStore, err))
	}
	s.hash.Write(chunk)
	s.Received += int64(len(chunk))

	if s.Remaining() == 0 {
		s.State = StateVerify
	}
	return nil
}

// verify compares digests and commits on a match.
// VERIFY -> COMPLETE | FAILED.
func (s *Session) verify(ctx context.Context) error {
	if s.State == StateTransfer && s.Remaining() == 0 {
		s.State = StateVerify
	}
	if s.State != StateVerify {
		return fmt.Errorf("verify in state %s", s.State)
	}

	s.Checksum = hex.EncodeToString(s.hash.Sum(nil))
	if !strings.EqualFold(s.Checksum, s.Meta.ExpectedChecksum) {
		return s.fail(fmt.Errorf("%w: expected %s, got %s",
			ErrChecksumMismatch, strings.ToLower(s.Meta.ExpectedChecksum), s.Checksum))
	}

	if err := s.staged.Commit(ctx); err != nil {
		return s.fail(fmt.Errorf("%w: commit: %v", ErrStore, err))
	}

	s.State = StateComplete
	return nil
}

// abort ends an in-progress session, e.g. on a transport error.
func (s *Session) abort(cause error) error {
	if s.State.Terminal() {
		return s.Err
	}
	return s.fail(fmt.Errorf("%w: %w", ErrTransferAborted, cause))
}

// fail discards staged output and moves to FAILED. Returns err.
func (s *Session) fail(err error) error {
	if s.staged != nil {
		_ = s.staged.Abort()
	}
	s.State = StateFailed
	s.Err = err
	return err
}

// result builds the frame reported to the sender.
func (s *Session) result() *Result {
	r := &Result{
		SessionID: s.ID,
		Name:      s.Meta.Name,
		Size:      s.Received,
		Checksum:  s.Checksum,
	}
	if s.State == StateComplete {
		r.Status = StatusComplete
		return r
	}

	r.Status = StatusFailed
	if s.Err != nil {
		r.Error = &RemoteError{Code: codeFor(s.Err), Message: s.Err.Error()}
	}
	return r
}
