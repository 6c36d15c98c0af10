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
// MessageAdapter - canonical messages, dedupe lookups, contents
// =============================================================================

type MessageAdapter struct {
	db sqlx.ExtContext
}

func NewMessageAdapter(db sqlx.ExtContext) *MessageAdapter {
	return &MessageAdapter{db: db}
}

// =============================================================================
// Dedupe lookups
// =============================================================================

const findByOSSMessageIDQuery = `
SELECT message_id
FROM message_oss_ids
WHERE organization_id = $1
  AND oss_message_id = $2`

func (a *MessageAdapter) FindByOSSMessageID(ctx context.Context, organizationID, ossMessageID uuid.UUID) (*uuid.UUID, error) {
	var id uuid.UUID
	err := sqlx.GetContext(ctx, a.db, &id, findByOSSMessageIDQuery, organizationID, ossMessageID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("find message by oss id", err)
	}
	return &id, nil
}

const findByFingerprintQuery = `
SELECT message_id
FROM message_fingerprints
WHERE organization_id = $1
  AND fingerprint_version = $2
  AND fingerprint = $3
  AND signature_v1 = $4`

func (a *MessageAdapter) FindByFingerprint(ctx context.Context, organizationID uuid.UUID, fingerprint, signature []byte) (*uuid.UUID, error) {
	var id uuid.UUID
	err := sqlx.GetContext(ctx, a.db, &id, findByFingerprintQuery, organizationID, 1, fingerprint, signature)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("find message by fingerprint", err)
	}
	return &id, nil
}

// =============================================================================
// Canonical insert
// =============================================================================

const insertMessageQuery = `
INSERT INTO messages (
  organization_id,
  direction,
  oss_message_id,
  rfc_message_id,
  fingerprint_v1,
  signature_v1,
  created_at,
  first_seen_at
)
VALUES ($1, $2, $3, $4, $5, $6, now(), now())
RETURNING id`

const insertFingerprintQuery = `
INSERT INTO message_fingerprints (
  organization_id,
  fingerprint_version,
  fingerprint,
  signature_v1,
  message_id,
  created_at
)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT DO NOTHING`

const insertRFCIDQuery = `
INSERT INTO message_rfc_ids (
  organization_id,
  rfc_message_id,
  signature_v1,
  message_id,
  created_at
)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT DO NOTHING`

const insertOSSIDQuery = `
INSERT INTO message_oss_ids (organization_id, oss_message_id, message_id, created_at)
VALUES ($1, $2, $3, now())
ON CONFLICT DO NOTHING`

// InsertCanonical inserts the message row plus its lookup rows, then
// links collision siblings: messages sharing the fingerprint with a
// different signature end up stamped with one collision group id.
func (a *MessageAdapter) InsertCanonical(ctx context.Context, msg *domain.Message) (uuid.UUID, error) {
	var id uuid.UUID
	err := sqlx.GetContext(ctx, a.db, &id, insertMessageQuery,
		msg.OrganizationID,
		string(msg.Direction),
		toNullableUUID(msg.OSSMessageID),
		toNullableString(msg.RFCMessageID),
		msg.FingerprintV1,
		msg.SignatureV1,
	)
	if err != nil {
		return uuid.Nil, apperr.DatabaseError("insert message", err)
	}

	if _, err := a.db.ExecContext(ctx, insertFingerprintQuery,
		msg.OrganizationID, 1, msg.FingerprintV1, msg.SignatureV1, id,
	); err != nil {
		return uuid.Nil, apperr.DatabaseError("insert message fingerprint", err)
	}

	if msg.RFCMessageID != "" {
		if _, err := a.db.ExecContext(ctx, insertRFCIDQuery,
			msg.OrganizationID, msg.RFCMessageID, msg.SignatureV1, id,
		); err != nil {
			return uuid.Nil, apperr.DatabaseError("insert message rfc id", err)
		}
	}

	if msg.OSSMessageID != nil {
		if _, err := a.db.ExecContext(ctx, insertOSSIDQuery,
			msg.OrganizationID, *msg.OSSMessageID, id,
		); err != nil {
			return uuid.Nil, apperr.DatabaseError("insert message oss id", err)
		}
	}

	if err := a.linkCollisionSiblings(ctx, msg.OrganizationID, msg.FingerprintV1); err != nil {
		return uuid.Nil, err
	}

	return id, nil
}

const findCollisionSiblingsQuery = `
SELECT id, collision_group_id
FROM messages
WHERE organization_id = $1
  AND fingerprint_v1 = $2
ORDER BY first_seen_at ASC, id ASC
FOR UPDATE`

const stampCollisionGroupQuery = `
UPDATE messages
SET collision_group_id = $2
WHERE organization_id = $1
  AND fingerprint_v1 = $3
  AND (collision_group_id IS DISTINCT FROM $2)`

func (a *MessageAdapter) linkCollisionSiblings(ctx context.Context, organizationID uuid.UUID, fingerprint []byte) error {
	type row struct {
		ID               uuid.UUID     `db:"id"`
		CollisionGroupID uuid.NullUUID `db:"collision_group_id"`
	}
	var rows []row
	if err := sqlx.SelectContext(ctx, a.db, &rows, findCollisionSiblingsQuery, organizationID, fingerprint); err != nil {
		return apperr.DatabaseError("find collision siblings", err)
	}
	if len(rows) < 2 {
		return nil
	}

	// Reuse the oldest existing group id so late arrivals join it.
	group := uuid.New()
	for _, r := range rows {
		if r.CollisionGroupID.Valid {
			group = r.CollisionGroupID.UUID
			break
		}
	}

	if _, err := a.db.ExecContext(ctx, stampCollisionGroupQuery, organizationID, group, fingerprint); err != nil {
		return apperr.DatabaseError("stamp collision group", err)
	}
	return nil
}

const getMessageForUpdateQuery = `
SELECT id, organization_id, direction, oss_message_id, rfc_message_id,
       fingerprint_v1, signature_v1, collision_group_id, created_at, first_seen_at
FROM messages
WHERE organization_id = $1
  AND id = $2
FOR UPDATE`

type messageEntity struct {
	ID               uuid.UUID      `db:"id"`
	OrganizationID   uuid.UUID      `db:"organization_id"`
	Direction        string         `db:"direction"`
	OSSMessageID     uuid.NullUUID  `db:"oss_message_id"`
	RFCMessageID     sql.NullString `db:"rfc_message_id"`
	FingerprintV1    []byte         `db:"fingerprint_v1"`
	SignatureV1      []byte         `db:"signature_v1"`
	CollisionGroupID uuid.NullUUID  `db:"collision_group_id"`
	CreatedAt        time.Time      `db:"created_at"`
	FirstSeenAt      time.Time      `db:"first_seen_at"`
}

func (e *messageEntity) toDomain() *domain.Message {
	return &domain.Message{
		ID:               e.ID,
		OrganizationID:   e.OrganizationID,
		Direction:        domain.Direction(e.Direction),
		OSSMessageID:     fromNullableUUID(e.OSSMessageID),
		RFCMessageID:     fromNullableString(e.RFCMessageID),
		FingerprintV1:    e.FingerprintV1,
		SignatureV1:      e.SignatureV1,
		CollisionGroupID: fromNullableUUID(e.CollisionGroupID),
		CreatedAt:        e.CreatedAt,
		FirstSeenAt:      e.FirstSeenAt,
	}
}

func (a *MessageAdapter) GetForUpdate(ctx context.Context, organizationID, messageID uuid.UUID) (*domain.Message, error) {
	var entity messageEntity
	err := sqlx.GetContext(ctx, a.db, &entity, getMessageForUpdateQuery, organizationID, messageID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get message", err)
	}
	return entity.toDomain(), nil
}

// =============================================================================
// Contents
// =============================================================================

const maxContentVersionQuery = `
SELECT COALESCE(MAX(content_version), 0)
FROM message_contents
WHERE organization_id = $1
  AND message_id = $2`

func (a *MessageAdapter) MaxContentVersion(ctx context.Context, organizationID, messageID uuid.UUID) (int, error) {
	var version int
	if err := sqlx.GetContext(ctx, a.db, &version, maxContentVersionQuery, organizationID, messageID); err != nil {
		return 0, apperr.DatabaseError("max content version", err)
	}
	return version, nil
}

const insertContentQuery = `
INSERT INTO message_contents (
  organization_id,
  message_id,
  content_version,
  parser_version,
  parsed_at,
  date_header,
  subject,
  subject_norm,
  from_email,
  from_name,
  reply_to_emails,
  to_emails,
  cc_emails,
  headers_json,
  body_text,
  body_html_sanitized,
  has_attachments,
  attachment_count,
  snippet
)
VALUES ($1, $2, $3, $4, now(), $5, $6, $7, $8, $9, $10, $11, $12, CAST($13 AS jsonb), $14, $15, $16, $17, $18)
ON CONFLICT (organization_id, message_id, content_version) DO NOTHING`

func (a *MessageAdapter) InsertContent(ctx context.Context, content *domain.MessageContent) error {
	_, err := a.db.ExecContext(ctx, insertContentQuery,
		content.OrganizationID,
		content.MessageID,
		content.ContentVersion,
		content.ParserVersion,
		toNullableTime(content.DateHeader),
		toNullableString(content.Subject),
		toNullableString(content.SubjectNorm),
		toNullableString(content.FromEmail),
		toNullableString(content.FromName),
		pq.Array(emptyIfNil(content.ReplyToEmails)),
		pq.Array(emptyIfNil(content.ToEmails)),
		pq.Array(emptyIfNil(content.CcEmails)),
		string(content.HeadersJSON),
		toNullableString(content.BodyText),
		toNullableString(content.BodyHTMLSanitized),
		content.HasAttachments,
		content.AttachmentCount,
		toNullableString(content.Snippet),
	)
	if err != nil {
		return apperr.DatabaseError("insert message content", err)
	}
	return nil
}

type contentEntity struct {
	ID             uuid.UUID `db:"id"`
	OrganizationID uuid.UUID `db:"organization_id"`
	MessageID      uuid.UUID `db:"message_id"`
	ContentVersion int       `db:"content_version"`
	ParserVersion  int       `db:"parser_version"`
	ParsedAt       time.Time `db:"parsed_at"`

	DateHeader    sql.NullTime   `db:"date_header"`
	Subject       sql.NullString `db:"subject"`
	SubjectNorm   sql.NullString `db:"subject_norm"`
	FromEmail     sql.NullString `db:"from_email"`
	FromName      sql.NullString `db:"from_name"`
	ReplyToEmails pq.StringArray `db:"reply_to_emails"`
	ToEmails      pq.StringArray `db:"to_emails"`
	CcEmails      pq.StringArray `db:"cc_emails"`

	HeadersJSON []byte `db:"headers_json"`

	BodyText          sql.NullString `db:"body_text"`
	BodyHTMLSanitized sql.NullString `db:"body_html_sanitized"`

	HasAttachments  bool `db:"has_attachments"`
	AttachmentCount int  `db:"attachment_count"`

	Snippet sql.NullString `db:"snippet"`
}

func (e *contentEntity) toDomain() *domain.MessageContent {
	return &domain.MessageContent{
		ID:                e.ID,
		OrganizationID:    e.OrganizationID,
		MessageID:         e.MessageID,
		ContentVersion:    e.ContentVersion,
		ParserVersion:     e.ParserVersion,
		ParsedAt:          e.ParsedAt,
		DateHeader:        fromNullableTime(e.DateHeader),
		Subject:           fromNullableString(e.Subject),
		SubjectNorm:       fromNullableString(e.SubjectNorm),
		FromEmail:         fromNullableString(e.FromEmail),
		FromName:          fromNullableString(e.FromName),
		ReplyToEmails:     e.ReplyToEmails,
		ToEmails:          e.ToEmails,
		CcEmails:          e.CcEmails,
		HeadersJSON:       e.HeadersJSON,
		BodyText:          fromNullableString(e.BodyText),
		BodyHTMLSanitized: fromNullableString(e.BodyHTMLSanitized),
		HasAttachments:    e.HasAttachments,
		AttachmentCount:   e.AttachmentCount,
		Snippet:           fromNullableString(e.Snippet),
	}
}

const getLatestContentQuery = `
SELECT id, organization_id, message_id, content_version, parser_version, parsed_at,
       date_header, subject, subject_norm, from_email, from_name,
       reply_to_emails, to_emails, cc_emails, headers_json,
       body_text, body_html_sanitized, has_attachments, attachment_count, snippet
FROM message_contents
WHERE organization_id = $1
  AND message_id = $2
ORDER BY content_version DESC
LIMIT 1`

func (a *MessageAdapter) GetLatestContent(ctx context.Context, organizationID, messageID uuid.UUID) (*domain.MessageContent, error) {
	var entity contentEntity
	err := sqlx.GetContext(ctx, a.db, &entity, getLatestContentQuery, organizationID, messageID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get latest message content", err)
	}
	return entity.toDomain(), nil
}

// =============================================================================
// Thread refs and attachments
// =============================================================================

const insertThreadRefQuery = `
INSERT INTO message_thread_refs (
  organization_id,
  message_id,
  ref_type,
  ref_rfc_message_id,
  created_at
)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT DO NOTHING`

func (a *MessageAdapter) InsertThreadRef(ctx context.Context, ref *domain.MessageThreadRef) error {
	if _, err := a.db.ExecContext(ctx, insertThreadRefQuery,
		ref.OrganizationID, ref.MessageID, ref.RefType, ref.RefRFCMessageID,
	); err != nil {
		return apperr.DatabaseError("insert thread ref", err)
	}
	return nil
}

const listThreadRefsQuery = `
SELECT id, organization_id, message_id, ref_type, ref_rfc_message_id, created_at
FROM message_thread_refs
WHERE organization_id = $1
  AND message_id = $2
ORDER BY CASE ref_type WHEN 'in_reply_to' THEN 0 ELSE 1 END, id ASC`

type threadRefEntity struct {
	ID              uuid.UUID `db:"id"`
	OrganizationID  uuid.UUID `db:"organization_id"`
	MessageID       uuid.UUID `db:"message_id"`
	RefType         string    `db:"ref_type"`
	RefRFCMessageID string    `db:"ref_rfc_message_id"`
	CreatedAt       time.Time `db:"created_at"`
}

// ListThreadRefs returns in_reply_to refs before references, each in
// insertion order, matching stitch precedence.
func (a *MessageAdapter) ListThreadRefs(ctx context.Context, organizationID, messageID uuid.UUID) ([]*domain.MessageThreadRef, error) {
	var entities []threadRefEntity
	if err := sqlx.SelectContext(ctx, a.db, &entities, listThreadRefsQuery, organizationID, messageID); err != nil {
		return nil, apperr.DatabaseError("list thread refs", err)
	}
	refs := make([]*domain.MessageThreadRef, 0, len(entities))
	for _, e := range entities {
		refs = append(refs, &domain.MessageThreadRef{
			ID:              e.ID,
			OrganizationID:  e.OrganizationID,
			MessageID:       e.MessageID,
			RefType:         e.RefType,
			RefRFCMessageID: e.RefRFCMessageID,
			CreatedAt:       e.CreatedAt,
		})
	}
	return refs, nil
}

const insertAttachmentQuery = `
INSERT INTO message_attachments (
  organization_id,
  message_id,
  blob_id,
  filename,
  content_type,
  size_bytes,
  sha256,
  is_inline,
  content_id,
  created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (organization_id, message_id, blob_id) DO NOTHING`

func (a *MessageAdapter) InsertAttachment(ctx context.Context, att *domain.MessageAttachment) error {
	if _, err := a.db.ExecContext(ctx, insertAttachmentQuery,
		att.OrganizationID,
		att.MessageID,
		att.BlobID,
		toNullableString(att.Filename),
		toNullableString(att.ContentType),
		att.SizeBytes,
		att.SHA256,
		att.IsInline,
		toNullableString(att.ContentID),
	); err != nil {
		return apperr.DatabaseError("insert message attachment", err)
	}
	return nil
}

const findMessageByRFCIDQuery = `
SELECT message_id
FROM message_rfc_ids
WHERE organization_id = $1
  AND rfc_message_id = $2
LIMIT 1`

func (a *MessageAdapter) FindMessageByRFCID(ctx context.Context, organizationID uuid.UUID, rfcMessageID string) (*uuid.UUID, error) {
	var id uuid.UUID
	err := sqlx.GetContext(ctx, a.db, &id, findMessageByRFCIDQuery, organizationID, rfcMessageID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("find message by rfc id", err)
	}
	return &id, nil
}

// =============================================================================
// Collision backfill
// =============================================================================

const listCollisionFingerprintsQuery = `
SELECT fingerprint_v1
FROM messages
WHERE organization_id = $1
GROUP BY fingerprint_v1
HAVING COUNT(DISTINCT signature_v1) > 1`

// RebuildCollisionGroups stamps every colliding fingerprint set with a
// shared group id. Used by the one-shot backfill job after the inline
// assignment logic shipped.
func (a *MessageAdapter) RebuildCollisionGroups(ctx context.Context, organizationID uuid.UUID) (int, error) {
	var fingerprints [][]byte
	if err := sqlx.SelectContext(ctx, a.db, &fingerprints, listCollisionFingerprintsQuery, organizationID); err != nil {
		return 0, apperr.DatabaseError("list collision fingerprints", err)
	}

	updated := 0
	for _, fp := range fingerprints {
		if err := a.linkCollisionSiblings(ctx, organizationID, fp); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
