package out

import (
	"context"

	"github.com/google/uuid"

	"mailroom_server/core/domain"
)

// ParsedOccurrence carries the parse-stage fields written back onto
// an occurrence in one update.
type ParsedOccurrence struct {
	MessageID           uuid.UUID
	Recipient           string
	RecipientSource     domain.RecipientSource
	RecipientConfidence domain.Confidence
	RecipientEvidence   []byte
}

// OccurrenceRepository tracks per-mailbox message observations and
// their pipeline state. The Mark* methods are stage transitions; the
// *Failed variants park the occurrence in the failed state with the
// stage's error column set.
type OccurrenceRepository interface {
	// Upsert inserts or refreshes the mirror fields for one
	// (mailbox, provider message id) observation and returns its id.
	// Pipeline state and derived links are never touched on conflict.
	Upsert(ctx context.Context, occ *domain.MessageOccurrence) (uuid.UUID, error)

	// GetLocked row-locks the occurrence, or returns nil when absent.
	GetLocked(ctx context.Context, id uuid.UUID) (*domain.MessageOccurrence, error)

	MarkRawFetched(ctx context.Context, id, rawBlobID uuid.UUID) error
	MarkRawFetchFailed(ctx context.Context, id uuid.UUID, message string) error

	MarkParsed(ctx context.Context, id uuid.UUID, parsed ParsedOccurrence) error
	MarkParseFailed(ctx context.Context, id uuid.UUID, message string) error

	MarkStitched(ctx context.Context, id, ticketID uuid.UUID) error
	MarkStitchFailed(ctx context.Context, id uuid.UUID, message string) error

	MarkRouted(ctx context.Context, id uuid.UUID) error
	MarkRouteFailed(ctx context.Context, id uuid.UUID, message string) error
}

// BlobRepository stores blob metadata rows; bytes live in BlobStore.
type BlobRepository interface {
	// Upsert inserts the row or refreshes storage_key on the
	// (organization, kind, sha256) conflict, returning the row id.
	Upsert(ctx context.Context, blob *domain.Blob) (uuid.UUID, error)

	GetByID(ctx context.Context, id uuid.UUID) (*domain.Blob, error)
}
