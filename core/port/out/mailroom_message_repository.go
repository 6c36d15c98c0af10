package out

import (
	"context"

	"github.com/google/uuid"

	"mailroom_server/core/domain"
)

// MessageRepository owns canonical messages, their dedupe lookup
// tables, contents, attachments, and threading refs.
type MessageRepository interface {
	FindByOSSMessageID(ctx context.Context, organizationID, ossMessageID uuid.UUID) (*uuid.UUID, error)

	// FindByFingerprint matches on the exact (fingerprint, signature)
	// pair; a fingerprint hit with a different signature is a
	// collision, not a duplicate.
	FindByFingerprint(ctx context.Context, organizationID uuid.UUID, fingerprint, signature []byte) (*uuid.UUID, error)

	// InsertCanonical inserts the message plus its fingerprint, rfc id,
	// and oss id lookup rows, then assigns a shared collision group if
	// other messages carry the same fingerprint.
	InsertCanonical(ctx context.Context, msg *domain.Message) (uuid.UUID, error)

	// GetForUpdate row-locks one canonical message.
	GetForUpdate(ctx context.Context, organizationID, messageID uuid.UUID) (*domain.Message, error)

	// MaxContentVersion returns 0 when no content rows exist yet.
	MaxContentVersion(ctx context.Context, organizationID, messageID uuid.UUID) (int, error)

	InsertContent(ctx context.Context, content *domain.MessageContent) error
	GetLatestContent(ctx context.Context, organizationID, messageID uuid.UUID) (*domain.MessageContent, error)

	InsertThreadRef(ctx context.Context, ref *domain.MessageThreadRef) error
	ListThreadRefs(ctx context.Context, organizationID, messageID uuid.UUID) ([]*domain.MessageThreadRef, error)

	InsertAttachment(ctx context.Context, att *domain.MessageAttachment) error

	// FindMessageByRFCID resolves a referenced rfc_message_id to a
	// canonical message, if one is known.
	FindMessageByRFCID(ctx context.Context, organizationID uuid.UUID, rfcMessageID string) (*uuid.UUID, error)

	// RebuildCollisionGroups scans an organization for fingerprints
	// shared by messages with differing signatures and stamps each set
	// with one collision group id. Returns the number of messages
	// updated.
	RebuildCollisionGroups(ctx context.Context, organizationID uuid.UUID) (int, error)
}
