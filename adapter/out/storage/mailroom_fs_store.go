package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mailroom_server/pkg/apperr"
)

// =============================================================================
// FSStore - local filesystem blob backend
// =============================================================================

type FSStore struct {
	root string
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

// Put writes via a temp file and rename so readers never observe a
// partial blob.
func (s *FSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.BlobUnavailable(key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return apperr.BlobUnavailable(key, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.BlobUnavailable(key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.BlobUnavailable(key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return apperr.BlobUnavailable(key, err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		return nil, apperr.BlobUnavailable(key, fmt.Errorf("read blob: %w", err))
	}
	return data, nil
}

// SignedURL is unsupported on the filesystem backend; callers stream
// bytes directly.
func (s *FSStore) SignedURL(ctx context.Context, key string, ttl time.Duration, filename, contentType string) (string, error) {
	return "", nil
}
