package out

import (
	"context"

	"github.com/google/uuid"

	"mailroom_server/core/domain"
)

// MailboxRepository loads and persists mailbox sync state.
type MailboxRepository interface {
	// GetForSyncLocked row-locks the mailbox and returns nil when it
	// is missing, disabled, or ingestion-paused.
	GetForSyncLocked(ctx context.Context, organizationID, mailboxID uuid.UUID) (*domain.Mailbox, error)

	// UpdateSyncState persists the history watermark, sync timestamps,
	// and last_sync_error.
	UpdateSyncState(ctx context.Context, mailbox *domain.Mailbox) error

	// SetSyncError records a sync failure message without touching the
	// watermark.
	SetSyncError(ctx context.Context, organizationID, mailboxID uuid.UUID, message string) error
}

// CredentialRepository stores encrypted OAuth credentials.
type CredentialRepository interface {
	GetByID(ctx context.Context, organizationID, credentialID uuid.UUID) (*domain.OAuthCredential, error)

	// UpdateAccessToken persists a freshly minted encrypted access
	// token and its expiry.
	UpdateAccessToken(ctx context.Context, cred *domain.OAuthCredential) error
}
