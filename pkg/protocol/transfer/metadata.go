package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/marmos91/knsock/pkg/store"
)

// Metadata is the handshake frame:
//
//	{"name": "...", "size": N, "checksum_algorithm": "sha256", "expected_checksum": "<hex>"}
type Metadata struct {
	Name              string `json:"name"`
	Size              int64  `json:"size"`
	ChecksumAlgorithm string `json:"checksum_algorithm"`
	ExpectedChecksum  string `json:"expected_checksum"`
}

// Validate checks the handshake. maxFileSize <= 0 means no size limit.
func (m *Metadata) Validate(maxFileSize int64) error {
	if err := store.ValidateName(m.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if m.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidMetadata, m.Size)
	}
	if maxFileSize > 0 && m.Size > maxFileSize {
		return fmt.Errorf("%w: size %d exceeds maximum %d", ErrInvalidMetadata, m.Size, maxFileSize)
	}
	return validateChecksum(m.ChecksumAlgorithm, m.ExpectedChecksum)
}

func decodeMetadata(payload []byte) (*Metadata, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: handshake is not valid UTF-8", ErrInvalidMetadata)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	var m Metadata
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after handshake", ErrInvalidMetadata)
	}
	if m.ChecksumAlgorithm == "" {
		m.ChecksumAlgorithm = DefaultAlgorithm
	}
	return &m, nil
}

// Status values of a Result.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Result is the frame the receiver sends after VERIFY (or after refusing a
// handshake).
type Result struct {
	Status    string       `json:"status"`
	SessionID string       `json:"session_id,omitempty"`
	Name      string       `json:"name"`
	Size      int64        `json:"size"`
	Checksum  string       `json:"checksum,omitempty"`
	Error     *RemoteError `json:"error,omitempty"`
}

// Err returns the reported failure, or nil for a complete transfer.
func (r *Result) Err() error {
	if r.Status == StatusComplete {
		return nil
	}
	if r.Error == nil {
		return &RemoteError{Code: CodeTransferAborted, Message: "receiver reported failure without details"}
	}
	return r.Error
}
