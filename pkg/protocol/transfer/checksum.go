package transfer

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultAlgorithm is used when the sender does not choose one.
const DefaultAlgorithm = "sha256"

var algorithms = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha1":   sha1.New,
	"sha512": sha512.New,
	"md5":    md5.New,
	"xxh64":  func() hash.Hash { return xxhash.New() },
}

// Algorithms returns the supported checksum algorithm names, sorted.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewHash returns a fresh digest for algorithm.
func NewHash(algorithm string) (hash.Hash, error) {
	newFn, ok := algorithms[strings.ToLower(algorithm)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported checksum algorithm %q (supported: %s)",
			ErrInvalidMetadata, algorithm, strings.Join(Algorithms(), ", "))
	}
	return newFn(), nil
}

// Checksum reads r to the end and returns its hex digest and length.
func Checksum(r io.Reader, algorithm string) (string, int64, error) {
	h, err := NewHash(algorithm)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// validateChecksum checks that sum is a hex digest of the right length.
func validateChecksum(algorithm, sum string) error {
	h, err := NewHash(algorithm)
	if err != nil {
		return err
	}
	raw, err := hex.DecodeString(sum)
	if err != nil {
		return fmt.Errorf("%w: expected_checksum is not hex: %v", ErrInvalidMetadata, err)
	}
	if len(raw) != h.Size() {
		return fmt.Errorf("%w: expected_checksum has %d bytes, %s digests have %d",
			ErrInvalidMetadata, len(raw), algorithm, h.Size())
	}
	return nil
}
