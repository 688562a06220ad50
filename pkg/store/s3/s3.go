// Package s3 implements store.Store on Amazon S3 or a compatible service.
//
// Chunks are staged in a local temporary file while the transfer runs and
// uploaded with a single PutObject on commit, so an object only appears in
// the bucket once its checksum has been verified.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/store"
)

// API is the subset of *s3.Client used by the store.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config configures an S3 store.
type Config struct {
	// Client is the S3 API client.
	Client API

	// Bucket must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key.
	// Example: "uploads/" stores "report.pdf" as "uploads/report.pdf"
	KeyPrefix string

	// StagingDir holds staged chunks. Default: os.TempDir()
	StagingDir string
}

// Store uploads committed files to a bucket.
type Store struct {
	client     API
	bucket     string
	keyPrefix  string
	stagingDir string
}

// New creates an S3 store and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:     cfg.Client,
		bucket:     cfg.Bucket,
		keyPrefix:  cfg.KeyPrefix,
		stagingDir: cfg.StagingDir,
	}, nil
}

// Key returns the object key for name.
func (s *Store) Key(name string) string {
	return s.keyPrefix + name
}

// Stage creates a local temporary file for the incoming bytes.
func (s *Store) Stage(ctx context.Context, name string) (store.Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(s.stagingDir, "knsock-s3-*.part")
	if err != nil {
		return nil, fmt.Errorf("create staging file for %s: %w", name, err)
	}
	return &staged{store: s, file: f, key: s.Key(name)}, nil
}

// Open downloads the object for name.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(name)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%s: %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return out.Body, nil
}

// Type returns "s3".
func (s *Store) Type() string { return "s3" }

// Close is a no-op; the client has no resources to release.
func (s *Store) Close() error { return nil }

type staged struct {
	store *Store
	file  *os.File
	key   string
	size  int64
	done  bool
}

func (w *staged) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Commit uploads the staged file and removes it locally.
func (w *staged) Commit(ctx context.Context) error {
	if w.done {
		return fmt.Errorf("staging area for %s already finished", w.key)
	}
	w.done = true
	defer w.cleanup()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind staging file: %w", err)
	}

	_, err := w.store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.store.bucket),
		Key:           aws.String(w.key),
		Body:          w.file,
		ContentLength: aws.Int64(w.size),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", w.key, err)
	}

	logger.Debug("Uploaded %d bytes to s3://%s/%s", w.size, w.store.bucket, w.key)
	return nil
}

// Abort removes the staging file. Nothing was uploaded.
func (w *staged) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.cleanup()
	return nil
}

func (w *staged) cleanup() {
	_ = w.file.Close()
	if err := os.Remove(w.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove S3 staging file %s: %v", w.file.Name(), err)
	}
}
