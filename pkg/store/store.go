// Package store defines where received files end up.
//
// A transfer never writes to its final name directly. It stages the bytes,
// and only a verified transfer is committed. Commit publishes the file
// atomically; Abort leaves nothing behind.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrInvalidName indicates a destination name that is not a plain
	// base name.
	ErrInvalidName = errors.New("invalid file name")

	// ErrNotFound indicates no committed file exists under the name.
	ErrNotFound = errors.New("file not found")
)

// Store is a destination for received files.
//
// Implementations must be safe for concurrent use. Concurrent commits of
// the same name resolve as last-writer-wins.
type Store interface {
	// Stage prepares a staging area for name. The name has already been
	// validated with ValidateName.
	Stage(ctx context.Context, name string) (Staged, error)

	// Open returns the committed content of name, or ErrNotFound.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Type returns the store type as used in configuration.
	Type() string

	// Close releases resources held by the store.
	Close() error
}

// Staged is an in-progress file.
//
// Exactly one of Commit or Abort ends it. Abort after Commit is a no-op so
// callers can defer it unconditionally.
type Staged interface {
	io.Writer

	// Commit publishes the staged bytes under the final name.
	Commit(ctx context.Context) error

	// Abort discards the staged bytes.
	Abort() error
}

// MaxNameLength bounds destination names in bytes.
const MaxNameLength = 255

// ValidateName accepts plain base names only: no separators, no "." or "..",
// no control characters.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLength)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}

	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidName, name)
		}
	}
	return nil
}
