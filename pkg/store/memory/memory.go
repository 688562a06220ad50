// Package memory implements an in-memory store.Store, used by tests and
// by servers that hand received files to application code.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/marmos91/knsock/pkg/store"
)

// Store keeps committed files in memory.
type Store struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// New returns an empty store.
func New() *Store {
	return &Store{files: make(map[string][]byte)}
}

// Stage returns a buffer that is copied into the store on commit.
func (s *Store) Stage(ctx context.Context, name string) (store.Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &staged{store: s, name: name}, nil
}

// Open returns a reader over a snapshot of the committed file.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.files[name]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s: %w", name, store.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Names returns the committed file names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Type returns "memory".
func (s *Store) Type() string { return "memory" }

// Close is a no-op.
func (s *Store) Close() error { return nil }

type staged struct {
	store *Store
	name  string
	buf   bytes.Buffer
	done  bool
}

func (w *staged) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("write to finished staging area for %s", w.name)
	}
	return w.buf.Write(p)
}

func (w *staged) Commit(ctx context.Context) error {
	if w.done {
		return fmt.Errorf("staging area for %s already finished", w.name)
	}
	w.done = true

	data := bytes.Clone(w.buf.Bytes())
	if data == nil {
		data = []byte{}
	}

	w.store.mu.Lock()
	w.store.files[w.name] = data
	w.store.mu.Unlock()
	return nil
}

func (w *staged) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}
