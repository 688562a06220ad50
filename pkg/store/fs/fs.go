// Package fs implements store.Store on a local directory.
//
// Staging files live next to their destination (same filesystem), so
// Commit is a single rename(2) and readers never observe a partial file.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/store"
)

// stagingSuffix marks in-progress files; they are skipped by Names and
// removed by CleanStale.
const stagingSuffix = ".part"

// Store writes received files into a directory.
type Store struct {
	root     string
	fileMode os.FileMode
}

// Config configures a filesystem store.
type Config struct {
	// Path is the destination directory. Created if missing.
	Path string `mapstructure:"path"`

	// FileMode is applied to committed files. Default: 0644
	FileMode os.FileMode `mapstructure:"file_mode"`
}

// New creates a filesystem store rooted at cfg.Path.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("filesystem store: path is required")
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	root, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	return &Store{root: root, fileMode: cfg.FileMode}, nil
}

// Root returns the absolute destination directory.
func (s *Store) Root() string { return s.root }

// Path returns where name is published.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// Stage creates a hidden temporary file in the destination directory.
func (s *Store) Stage(ctx context.Context, name string) (store.Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(s.root, "."+name+".*"+stagingSuffix)
	if err != nil {
		return nil, fmt.Errorf("create staging file for %s: %w", name, err)
	}

	logger.Debug("Staging %s at %s", name, f.Name())
	return &staged{file: f, dest: s.Path(name), mode: s.fileMode}, nil
}

// Open opens the committed file.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, store.ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}

// CleanStale removes staging files left behind by a crash. It must not
// run while transfers are in progress.
func (s *Store) CleanStale() (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read store directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, stagingSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove stale staging file %s: %w", name, err)
		}
		removed++
	}

	if removed > 0 {
		logger.Info("Removed %d stale staging file(s) from %s", removed, s.root)
	}
	return removed, nil
}

// Type returns "filesystem".
func (s *Store) Type() string { return "filesystem" }

// Close is a no-op.
func (s *Store) Close() error { return nil }

type staged struct {
	file *os.File
	dest string
	mode os.FileMode
	done bool
}

func (w *staged) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Commit flushes the staging file and renames it over the destination.
func (w *staged) Commit(ctx context.Context) error {
	if w.done {
		return fmt.Errorf("staging file %s already finished", w.file.Name())
	}
	w.done = true

	tmp := w.file.Name()
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, w.mode); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, w.dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s to %s: %w", tmp, w.dest, err)
	}
	return nil
}

// Abort closes and removes the staging file.
func (w *staged) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	_ = w.file.Close()
	if err := os.Remove(w.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staging file: %w", err)
	}
	return nil
}
