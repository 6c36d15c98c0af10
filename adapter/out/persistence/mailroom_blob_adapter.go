package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailroom_server/core/domain"
	"mailroom_server/pkg/apperr"
)

// =============================================================================
// BlobAdapter - content-addressed blob metadata
// =============================================================================

type BlobAdapter struct {
	db sqlx.ExtContext
}

func NewBlobAdapter(db sqlx.ExtContext) *BlobAdapter {
	return &BlobAdapter{db: db}
}

type blobEntity struct {
	ID             uuid.UUID `db:"id"`
	OrganizationID uuid.UUID `db:"organization_id"`
	Kind           string    `db:"kind"`
	SHA256         []byte    `db:"sha256"`
	SizeBytes      int64     `db:"size_bytes"`
	StorageKey     string    `db:"storage_key"`
	ContentType    string    `db:"content_type"`
	CreatedAt      time.Time `db:"created_at"`
}

func (e *blobEntity) toDomain() *domain.Blob {
	return &domain.Blob{
		ID:             e.ID,
		OrganizationID: e.OrganizationID,
		Kind:           domain.BlobKind(e.Kind),
		SHA256:         e.SHA256,
		SizeBytes:      e.SizeBytes,
		StorageKey:     e.StorageKey,
		ContentType:    e.ContentType,
		CreatedAt:      e.CreatedAt,
	}
}

const upsertBlobQuery = `
INSERT INTO blobs (
  organization_id,
  kind,
  sha256,
  size_bytes,
  storage_key,
  content_type,
  created_at
)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (organization_id, kind, sha256)
DO UPDATE SET storage_key = EXCLUDED.storage_key
RETURNING id`

func (a *BlobAdapter) Upsert(ctx context.Context, blob *domain.Blob) (uuid.UUID, error) {
	var id uuid.UUID
	err := sqlx.GetContext(ctx, a.db, &id, upsertBlobQuery,
		blob.OrganizationID,
		string(blob.Kind),
		blob.SHA256,
		blob.SizeBytes,
		blob.StorageKey,
		blob.ContentType,
	)
	if err != nil {
		return uuid.Nil, apperr.DatabaseError("upsert blob", err)
	}
	return id, nil
}

const getBlobQuery = `
SELECT id, organization_id, kind, sha256, size_bytes, storage_key, content_type, created_at
FROM blobs
WHERE id = $1`

func (a *BlobAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Blob, error) {
	var entity blobEntity
	err := sqlx.GetContext(ctx, a.db, &entity, getBlobQuery, id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get blob", err)
	}
	return entity.toDomain(), nil
}
