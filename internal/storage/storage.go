package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/config"
)

// ErrNotFound is returned by Open when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Store abstracts blob storage for session artifacts (chunk records).
// Keys are slash-separated: {session_id}/{file}.
type Store interface {
	// Save writes data under key, replacing any existing object.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for key, or an error wrapping ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Delete removes a single object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every object under the key directory prefix.
	DeleteAll(ctx context.Context, prefix string) error

	// LocalPath returns the local filesystem path if the object exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// New creates a Store based on config. Returns the store and optional
// background services (reconciler, async uploader) that the caller must
// Start/Stop. Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, rootDir string, log zerolog.Logger) (Store, []BackgroundService, error) {
	local := NewLocalStore(rootDir)
	if !cfg.Enabled() {
		return local, nil, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	// Local disk stays the source of truth; S3 mirrors chunk records.
	uploader := NewAsyncUploader(s3store, 256, 2, log)
	tiered := NewTieredStore(s3store, local, uploader, log)
	reconciler := NewUploadReconciler(rootDir, s3store, log)

	return tiered, []BackgroundService{uploader, reconciler}, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
