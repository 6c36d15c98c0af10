package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailroom_server/core/domain"
	"mailroom_server/pkg/apperr"
)

// =============================================================================
// MailboxAdapter - mailbox sync state
// =============================================================================

type MailboxAdapter struct {
	db sqlx.ExtContext
}

func NewMailboxAdapter(db sqlx.ExtContext) *MailboxAdapter {
	return &MailboxAdapter{db: db}
}

type mailboxEntity struct {
	ID                uuid.UUID      `db:"id"`
	OrganizationID    uuid.UUID      `db:"organization_id"`
	Purpose           string         `db:"purpose"`
	Provider          string         `db:"provider"`
	EmailAddress      string         `db:"email_address"`
	DisplayName       sql.NullString `db:"display_name"`
	OAuthCredentialID uuid.UUID      `db:"oauth_credential_id"`
	IsEnabled         bool           `db:"is_enabled"`

	IngestionPausedUntil sql.NullTime   `db:"ingestion_paused_until"`
	IngestionPauseReason sql.NullString `db:"ingestion_pause_reason"`

	GmailHistoryID        sql.NullInt64  `db:"gmail_history_id"`
	GmailProfileEmail     sql.NullString `db:"gmail_profile_email"`
	LastIncrementalSyncAt sql.NullTime   `db:"last_incremental_sync_at"`
	LastFullSyncAt        sql.NullTime   `db:"last_full_sync_at"`
	LastSyncError         sql.NullString `db:"last_sync_error"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (e *mailboxEntity) toDomain() *domain.Mailbox {
	return &domain.Mailbox{
		ID:                    e.ID,
		OrganizationID:        e.OrganizationID,
		Purpose:               domain.MailboxPurpose(e.Purpose),
		Provider:              domain.Provider(e.Provider),
		EmailAddress:          e.EmailAddress,
		DisplayName:           fromNullableString(e.DisplayName),
		OAuthCredentialID:     e.OAuthCredentialID,
		IsEnabled:             e.IsEnabled,
		IngestionPausedUntil:  fromNullableTime(e.IngestionPausedUntil),
		IngestionPauseReason:  fromNullableString(e.IngestionPauseReason),
		GmailHistoryID:        fromNullableInt64(e.GmailHistoryID),
		GmailProfileEmail:     fromNullableString(e.GmailProfileEmail),
		LastIncrementalSyncAt: fromNullableTime(e.LastIncrementalSyncAt),
		LastFullSyncAt:        fromNullableTime(e.LastFullSyncAt),
		LastSyncError:         fromNullableString(e.LastSyncError),
		CreatedAt:             e.CreatedAt,
		UpdatedAt:             e.UpdatedAt,
	}
}

const getMailboxForSyncQuery = `
SELECT id, organization_id, purpose, provider, email_address, display_name,
       oauth_credential_id, is_enabled, ingestion_paused_until, ingestion_pause_reason,
       gmail_history_id, gmail_profile_email, last_incremental_sync_at,
       last_full_sync_at, last_sync_error, created_at, updated_at
FROM mailboxes
WHERE organization_id = $1
  AND id = $2
FOR UPDATE`

// GetForSyncLocked returns nil when the mailbox is missing, disabled,
// or currently paused; sync jobs treat all three as a silent no-op.
func (a *MailboxAdapter) GetForSyncLocked(ctx context.Context, organizationID, mailboxID uuid.UUID) (*domain.Mailbox, error) {
	var entity mailboxEntity
	err := sqlx.GetContext(ctx, a.db, &entity, getMailboxForSyncQuery, organizationID, mailboxID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get mailbox for sync", err)
	}
	mailbox := entity.toDomain()
	if !mailbox.Syncable(time.Now()) {
		return nil, nil
	}
	return mailbox, nil
}

const updateMailboxSyncStateQuery = `
UPDATE mailboxes
SET gmail_history_id = $3,
    last_incremental_sync_at = $4,
    last_full_sync_at = $5,
    last_sync_error = $6,
    updated_at = now()
WHERE organization_id = $1
  AND id = $2`

func (a *MailboxAdapter) UpdateSyncState(ctx context.Context, mailbox *domain.Mailbox) error {
	_, err := a.db.ExecContext(ctx, updateMailboxSyncStateQuery,
		mailbox.OrganizationID,
		mailbox.ID,
		toNullableInt64(mailbox.GmailHistoryID),
		toNullableTime(mailbox.LastIncrementalSyncAt),
		toNullableTime(mailbox.LastFullSyncAt),
		toNullableString(mailbox.LastSyncError),
	)
	if err != nil {
		return apperr.DatabaseError("update mailbox sync state", err)
	}
	return nil
}

const setMailboxSyncErrorQuery = `
UPDATE mailboxes
SET last_sync_error = $3,
    updated_at = now()
WHERE organization_id = $1
  AND id = $2`

func (a *MailboxAdapter) SetSyncError(ctx context.Context, organizationID, mailboxID uuid.UUID, message string) error {
	if _, err := a.db.ExecContext(ctx, setMailboxSyncErrorQuery, organizationID, mailboxID, toNullableString(message)); err != nil {
		return apperr.DatabaseError("set mailbox sync error", err)
	}
	return nil
}

// =============================================================================
// CredentialAdapter - encrypted OAuth credentials
// =============================================================================

type CredentialAdapter struct {
	db sqlx.ExtContext
}

func NewCredentialAdapter(db sqlx.ExtContext) *CredentialAdapter {
	return &CredentialAdapter{db: db}
}

type credentialEntity struct {
	ID                    uuid.UUID      `db:"id"`
	OrganizationID        uuid.UUID      `db:"organization_id"`
	Provider              string         `db:"provider"`
	Subject               string         `db:"subject"`
	Scopes                pq.StringArray `db:"scopes"`
	EncryptedRefreshToken []byte         `db:"encrypted_refresh_token"`
	EncryptedAccessToken  []byte         `db:"encrypted_access_token"`
	AccessTokenExpiresAt  sql.NullTime   `db:"access_token_expires_at"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

func (e *credentialEntity) toDomain() *domain.OAuthCredential {
	return &domain.OAuthCredential{
		ID:                    e.ID,
		OrganizationID:        e.OrganizationID,
		Provider:              e.Provider,
		Subject:               e.Subject,
		Scopes:                e.Scopes,
		EncryptedRefreshToken: e.EncryptedRefreshToken,
		EncryptedAccessToken:  e.EncryptedAccessToken,
		AccessTokenExpiresAt:  fromNullableTime(e.AccessTokenExpiresAt),
		CreatedAt:             e.CreatedAt,
		UpdatedAt:             e.UpdatedAt,
	}
}

const getCredentialQuery = `
SELECT id, organization_id, provider, subject, scopes,
       encrypted_refresh_token, encrypted_access_token, access_token_expires_at,
       created_at, updated_at
FROM oauth_credentials
WHERE organization_id = $1
  AND id = $2`

func (a *CredentialAdapter) GetByID(ctx context.Context, organizationID, credentialID uuid.UUID) (*domain.OAuthCredential, error) {
	var entity credentialEntity
	err := sqlx.GetContext(ctx, a.db, &entity, getCredentialQuery, organizationID, credentialID)
	if err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("oauth credential")
		}
		return nil, apperr.DatabaseError("get oauth credential", err)
	}
	return entity.toDomain(), nil
}

const updateAccessTokenQuery = `
UPDATE oauth_credentials
SET encrypted_access_token = $3,
    access_token_expires_at = $4,
    updated_at = now()
WHERE organization_id = $1
  AND id = $2`

func (a *CredentialAdapter) UpdateAccessToken(ctx context.Context, cred *domain.OAuthCredential) error {
	_, err := a.db.ExecContext(ctx, updateAccessTokenQuery,
		cred.OrganizationID,
		cred.ID,
		cred.EncryptedAccessToken,
		toNullableTime(cred.AccessTokenExpiresAt),
	)
	if err != nil {
		return apperr.DatabaseError("update access token", err)
	}
	return nil
}
