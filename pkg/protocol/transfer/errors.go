package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksumMismatch indicates the received bytes do not hash to the
	// checksum announced in the handshake. Nothing was published.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrTransferAborted indicates the session ended before VERIFY: an I/O
	// error, a timeout, a premature close or a chunk past the declared size.
	// Nothing was published.
	ErrTransferAborted = errors.New("transfer aborted")

	// ErrInvalidMetadata indicates a handshake the receiver refused.
	ErrInvalidMetadata = errors.New("invalid transfer metadata")

	// ErrStore indicates the destination store failed to stage or commit.
	ErrStore = errors.New("store failure")
)

// Error codes carried in failed result frames.
const (
	CodeInvalidMetadata  = "invalid_metadata"
	CodeChecksumMismatch = "checksum_mismatch"
	CodeTransferAborted  = "transfer_aborted"
	CodeStoreError       = "store_error"
)

func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMetadata):
		return CodeInvalidMetadata
	case errors.Is(err, ErrChecksumMismatch):
		return CodeChecksumMismatch
	case errors.Is(err, ErrStore):
		return CodeStoreError
	default:
		return CodeTransferAborted
	}
}

// RemoteError is a failure reported by the receiver in its result frame.
// It unwraps to the matching sentinel, so errors.Is(err,
// ErrChecksumMismatch) works on the sending side.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("receiver reported %s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeInvalidMetadata:
		return ErrInvalidMetadata
	case CodeChecksumMismatch:
		return ErrChecksumMismatch
	case CodeStoreError:
		return ErrStore
	case CodeTransferAborted:
		return ErrTransferAborted
	default:
		return nil
	}
}
