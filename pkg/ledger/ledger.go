// Package ledger persists the outcome of every received file transfer in
// BadgerDB.
//
// Records are XDR-encoded (RFC 4506). Keys are "transfer/<session id>".
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/knsock/internal/logger"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// ErrNotFound is returned by Get for an unknown session ID.
var ErrNotFound = errors.New("transfer record not found")

const keyPrefix = "transfer/"

// Status of a finished session.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Record is the outcome of one transfer session.
type Record struct {
	ID               string
	Name             string
	Size             int64
	BytesReceived    int64
	Algorithm        string
	ExpectedChecksum string
	ActualChecksum   string
	Status           string
	ErrorCode        string
	ErrorMessage     string
	Peer             string
	Store            string
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Duration returns how long the session ran.
func (r *Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// wireRecord is the XDR layout. Times are Unix nanoseconds.
type wireRecord struct {
	ID               string
	Name             string
	Size             int64
	BytesReceived    int64
	Algorithm        string
	ExpectedChecksum string
	ActualChecksum   string
	Status           string
	ErrorCode        string
	ErrorMessage     string
	Peer             string
	Store            string
	StartedAt        int64
	FinishedAt       int64
}

func encodeRecord(r *Record) ([]byte, error) {
	w := wireRecord{
		ID:               r.ID,
		Name:             r.Name,
		Size:             r.Size,
		BytesReceived:    r.BytesReceived,
		Algorithm:        r.Algorithm,
		ExpectedChecksum: r.ExpectedChecksum,
		ActualChecksum:   r.ActualChecksum,
		Status:           r.Status,
		ErrorCode:        r.ErrorCode,
		ErrorMessage:     r.ErrorMessage,
		Peer:             r.Peer,
		Store:            r.Store,
		StartedAt:        r.StartedAt.UnixNano(),
		FinishedAt:       r.FinishedAt.UnixNano(),
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &w); err != nil {
		return nil, fmt.Errorf("encode transfer record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	var w wireRecord
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &w); err != nil {
		return nil, fmt.Errorf("decode transfer record: %w", err)
	}

	return &Record{
		ID:               w.ID,
		Name:             w.Name,
		Size:             w.Size,
		BytesReceived:    w.BytesReceived,
		Algorithm:        w.Algorithm,
		ExpectedChecksum: w.ExpectedChecksum,
		ActualChecksum:   w.ActualChecksum,
		Status:           w.Status,
		ErrorCode:        w.ErrorCode,
		ErrorMessage:     w.ErrorMessage,
		Peer:             w.Peer,
		Store:            w.Store,
		StartedAt:        time.Unix(0, w.StartedAt),
		FinishedAt:       time.Unix(0, w.FinishedAt),
	}, nil
}

// Config configures the ledger database.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `mapstructure:"path" yaml:"path" json:"path,omitempty"`

	// InMemory keeps records only for the lifetime of the process.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory" json:"in_memory"`

	// Retention expires records after this long. 0 keeps them forever.
	Retention time.Duration `mapstructure:"retention" yaml:"retention" json:"retention"`
}

// Ledger stores transfer records. Safe for concurrent use.
type Ledger struct {
	db        *badger.DB
	retention time.Duration
}

// Open opens (or creates) the ledger database.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("ledger: path is required unless in_memory is set")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	if cfg.InMemory {
		logger.Debug("Transfer ledger opened in memory")
	} else {
		logger.Debug("Transfer ledger opened at %s", cfg.Path)
	}

	return &Ledger{db: db, retention: cfg.Retention}, nil
}

// Record stores r, replacing any record with the same ID.
func (l *Ledger) Record(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ID == "" {
		return fmt.Errorf("transfer record has no ID")
	}

	value, err := encodeRecord(r)
	if err != nil {
		return err
	}

	return l.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+r.ID), value)
		if l.retention > 0 {
			entry = entry.WithTTL(l.retention)
		}
		return txn.SetEntry(entry)
	})
}

// Get returns the record for a session ID.
func (l *Ledger) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *Record
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%s: %w", id, ErrNotFound)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns up to limit records, most recently finished first.
// limit <= 0 returns all records.
func (l *Ledger) List(ctx context.Context, limit int) ([]*Record, error) {
	var records []*Record

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].FinishedAt.After(records[j].FinishedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
