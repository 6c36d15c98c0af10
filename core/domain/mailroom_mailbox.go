package domain

import (
	"time"

	"github.com/google/uuid"
)

// Mailbox is a provider account the journal ingests from. Sync
// watermarks and pause state live here; the sync orchestrator is the
// only writer.
type Mailbox struct {
	ID                uuid.UUID
	OrganizationID    uuid.UUID
	Purpose           MailboxPurpose
	Provider          Provider
	EmailAddress      string
	DisplayName       string
	OAuthCredentialID uuid.UUID
	IsEnabled         bool

	IngestionPausedUntil *time.Time
	IngestionPauseReason string

	GmailHistoryID        *int64
	GmailProfileEmail     string
	LastIncrementalSyncAt *time.Time
	LastFullSyncAt        *time.Time
	LastSyncError         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Paused reports whether ingestion is paused at the given instant.
func (m *Mailbox) Paused(now time.Time) bool {
	return m.IngestionPausedUntil != nil && m.IngestionPausedUntil.After(now)
}

// Syncable reports whether sync jobs may run against this mailbox.
func (m *Mailbox) Syncable(now time.Time) bool {
	return m.IsEnabled && !m.Paused(now)
}

// OAuthCredential stores provider tokens at rest. Both tokens are
// AES-GCM ciphertext bound to (organization, provider, subject) via
// associated data.
type OAuthCredential struct {
	ID                    uuid.UUID
	OrganizationID        uuid.UUID
	Provider              string
	Subject               string
	Scopes                []string
	EncryptedRefreshToken []byte
	EncryptedAccessToken  []byte
	AccessTokenExpiresAt  *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SendIdentity is a verified from-address agents may reply as.
type SendIdentity struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	MailboxID      uuid.UUID
	FromEmail      string
	FromName       string
	GmailSendAsID  string
	Status         string
	IsEnabled      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
