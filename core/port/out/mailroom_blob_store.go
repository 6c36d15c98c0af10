package out

import (
	"context"
	"time"
)

// BlobStore is the content-addressed byte store behind blobs rows.
// The store never inspects content; callers compute hashes and derive
// keys.
type BlobStore interface {
	// Put writes data at key atomically. Re-putting the same content
	// at the same key is idempotent.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the bytes at key. Errors (including absent keys)
	// surface as apperr.CodeBlobUnavailable.
	Get(ctx context.Context, key string) ([]byte, error)

	// SignedURL returns a presigned download URL, or "" when the
	// backend does not support presigning; the caller then streams
	// bytes directly.
	SignedURL(ctx context.Context, key string, ttl time.Duration, filename, contentType string) (string, error)
}
