package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
)

// =============================================================================
// OccurrenceAdapter - per-mailbox message observations
// =============================================================================

type OccurrenceAdapter struct {
	db sqlx.ExtContext
}

func NewOccurrenceAdapter(db sqlx.ExtContext) *OccurrenceAdapter {
	return &OccurrenceAdapter{db: db}
}

type occurrenceEntity struct {
	ID             uuid.UUID `db:"id"`
	OrganizationID uuid.UUID `db:"organization_id"`
	MailboxID      uuid.UUID `db:"mailbox_id"`

	GmailMessageID    string         `db:"gmail_message_id"`
	GmailThreadID     sql.NullString `db:"gmail_thread_id"`
	GmailHistoryID    sql.NullInt64  `db:"gmail_history_id"`
	GmailInternalDate sql.NullTime   `db:"gmail_internal_date"`
	LabelIDs          pq.StringArray `db:"label_ids"`

	State string `db:"state"`

	RawBlobID     uuid.NullUUID  `db:"raw_blob_id"`
	RawFetchedAt  sql.NullTime   `db:"raw_fetched_at"`
	RawFetchError sql.NullString `db:"raw_fetch_error"`

	MessageID  uuid.NullUUID  `db:"message_id"`
	ParsedAt   sql.NullTime   `db:"parsed_at"`
	ParseError sql.NullString `db:"parse_error"`

	TicketID    uuid.NullUUID  `db:"ticket_id"`
	StitchedAt  sql.NullTime   `db:"stitched_at"`
	StitchError sql.NullString `db:"stitch_error"`

	RoutedAt   sql.NullTime   `db:"routed_at"`
	RouteError sql.NullString `db:"route_error"`

	OriginalRecipient           sql.NullString `db:"original_recipient"`
	OriginalRecipientSource     string         `db:"original_recipient_source"`
	OriginalRecipientConfidence string         `db:"original_recipient_confidence"`
	OriginalRecipientEvidence   []byte         `db:"original_recipient_evidence"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (e *occurrenceEntity) toDomain() *domain.MessageOccurrence {
	return &domain.MessageOccurrence{
		ID:                          e.ID,
		OrganizationID:              e.OrganizationID,
		MailboxID:                   e.MailboxID,
		GmailMessageID:              e.GmailMessageID,
		GmailThreadID:               fromNullableString(e.GmailThreadID),
		GmailHistoryID:              fromNullableInt64(e.GmailHistoryID),
		GmailInternalDate:           fromNullableTime(e.GmailInternalDate),
		LabelIDs:                    e.LabelIDs,
		State:                       domain.OccurrenceState(e.State),
		RawBlobID:                   fromNullableUUID(e.RawBlobID),
		RawFetchedAt:                fromNullableTime(e.RawFetchedAt),
		RawFetchError:               fromNullableString(e.RawFetchError),
		MessageID:                   fromNullableUUID(e.MessageID),
		ParsedAt:                    fromNullableTime(e.ParsedAt),
		ParseError:                  fromNullableString(e.ParseError),
		TicketID:                    fromNullableUUID(e.TicketID),
		StitchedAt:                  fromNullableTime(e.StitchedAt),
		StitchError:                 fromNullableString(e.StitchError),
		RoutedAt:                    fromNullableTime(e.RoutedAt),
		RouteError:                  fromNullableString(e.RouteError),
		OriginalRecipient:           fromNullableString(e.OriginalRecipient),
		OriginalRecipientSource:     domain.RecipientSource(e.OriginalRecipientSource),
		OriginalRecipientConfidence: domain.Confidence(e.OriginalRecipientConfidence),
		OriginalRecipientEvidence:   e.OriginalRecipientEvidence,
		CreatedAt:                   e.CreatedAt,
		UpdatedAt:                   e.UpdatedAt,
	}
}

// =============================================================================
// Upsert
// =============================================================================

const upsertOccurrenceQuery = `
INSERT INTO message_occurrences (
  organization_id,
  mailbox_id,
  gmail_message_id,
  gmail_thread_id,
  gmail_history_id,
  gmail_internal_date,
  label_ids,
  state,
  created_at,
  updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'discovered', now(), now())
ON CONFLICT (organization_id, mailbox_id, gmail_message_id)
DO UPDATE SET
  gmail_thread_id = EXCLUDED.gmail_thread_id,
  gmail_history_id = EXCLUDED.gmail_history_id,
  gmail_internal_date = EXCLUDED.gmail_internal_date,
  label_ids = EXCLUDED.label_ids,
  updated_at = now()
RETURNING id`

// Upsert refreshes provider mirror fields only; pipeline state and
// derived links stay untouched on conflict.
func (a *OccurrenceAdapter) Upsert(ctx context.Context, occ *domain.MessageOccurrence) (uuid.UUID, error) {
	labels := occ.LabelIDs
	if labels == nil {
		labels = []string{}
	}
	var id uuid.UUID
	err := sqlx.GetContext(ctx, a.db, &id, upsertOccurrenceQuery,
		occ.OrganizationID,
		occ.MailboxID,
		occ.GmailMessageID,
		toNullableString(occ.GmailThreadID),
		toNullableInt64(occ.GmailHistoryID),
		toNullableTime(occ.GmailInternalDate),
		pq.Array(labels),
	)
	if err != nil {
		return uuid.Nil, apperr.DatabaseError("upsert occurrence", err)
	}
	return id, nil
}

const getOccurrenceLockedQuery = `
SELECT id, organization_id, mailbox_id, gmail_message_id, gmail_thread_id,
       gmail_history_id, gmail_internal_date, label_ids, state,
       raw_blob_id, raw_fetched_at, raw_fetch_error,
       message_id, parsed_at, parse_error,
       ticket_id, stitched_at, stitch_error,
       routed_at, route_error,
       original_recipient, original_recipient_source,
       original_recipient_confidence, original_recipient_evidence,
       created_at, updated_at
FROM message_occurrences
WHERE id = $1
FOR UPDATE`

func (a *OccurrenceAdapter) GetLocked(ctx context.Context, id uuid.UUID) (*domain.MessageOccurrence, error) {
	var entity occurrenceEntity
	err := sqlx.GetContext(ctx, a.db, &entity, getOccurrenceLockedQuery, id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get occurrence", err)
	}
	return entity.toDomain(), nil
}

// =============================================================================
// Stage transitions
// =============================================================================

const markRawFetchedQuery = `
UPDATE message_occurrences
SET raw_blob_id = $2,
    raw_fetched_at = now(),
    raw_fetch_error = NULL,
    state = 'raw_fetched',
    updated_at = now()
WHERE id = $1`

func (a *OccurrenceAdapter) MarkRawFetched(ctx context.Context, id, rawBlobID uuid.UUID) error {
	return a.exec(ctx, "mark occurrence raw_fetched", markRawFetchedQuery, id, rawBlobID)
}

const markRawFetchFailedQuery = `
UPDATE message_occurrences
SET state = 'failed',
    raw_fetch_error = $2,
    updated_at = now()
WHERE id = $1`

func (a *OccurrenceAdapter) MarkRawFetchFailed(ctx context.Context, id uuid.UUID, message string) error {
	return a.exec(ctx, "mark occurrence raw fetch failed", markRawFetchFailedQuery, id, message)
}

const markParsedQuery = `
UPDATE message_occurrences
SET message_id = $2,
    parsed_at = now(),
    parse_error = NULL,
    original_recipient = $3,
    original_recipient_source = $4,
    original_recipient_confidence = $5,
    original_recipient_evidence = CAST($6 AS jsonb),
    state = 'parsed',
    updated_at = now()
WHERE id = $1`

func (a *OccurrenceAdapter) MarkParsed(ctx context.Context, id uuid.UUID, parsed out.ParsedOccurrence) error {
	return a.exec(ctx, "mark occurrence parsed", markParsedQuery,
		id,
		parsed.MessageID,
		toNullableString(parsed.Recipient),
		string(parsed.RecipientSource),
		string(parsed.RecipientConfidence),
		string(parsed.RecipientEvidence),
	)
}

const markParseFailedQuery = `
UPDATE message_occurrences
SET state = 'failed',
    parse_error = $2,
    updated_at = now()
WHERE id = $1`

func (a *OccurrenceAdapter) MarkParseFailed(ctx context.Context, id uuid.UUID, message string) error {
	return a.exec(ctx, "mark occurrence parse failed", markParseFailedQuery, id, message)
}

const markStitchedQuery = `
UPDATE message_occurrences
SET ticket_id = $2,
    stitched_at = now(),
    stitch_error = NULL,
    state = 'stitched',
    updated_at = now()
WHERE id = $1`

func (a *OccurrenceAdapter) MarkStitched(ctx context.Context, id, ticketID uuid.UUID) error {
	return a.exec(ctx, "mark occurrence stitched", markStitchedQuery, id, ticketID)
}

const markStitchFailedQuery = `
UPDATE message_occurrences
SET state = 'failed',
    stitch_error = $2,
    updated_at = now()
WHERE id = $1`

func (a *OccurrenceAdapter) MarkStitchFailed(ctx context.Context, id uuid.UUID, message string) error {
	return a.exec(ctx, "mark occurrence stitch failed", markStitchFailedQuery, id, message)
}

const markRoutedQuery = `
UPDATE message_occurrences
SET routed_at = now(),
    route_error = NULL,
    state = 'routed',
    updated_at = now()
WHERE id = $1`

func (a *OccurrenceAdapter) MarkRouted(ctx context.Context, id uuid.UUID) error {
	return a.exec(ctx, "mark occurrence routed", markRoutedQuery, id)
}

const markRouteFailedQuery = `
UPDATE message_occurrences
SET state = 'failed',
    route_error = $2,
    updated_at = now()
WHERE id = $1`

func (a *OccurrenceAdapter) MarkRouteFailed(ctx context.Context, id uuid.UUID, message string) error {
	return a.exec(ctx, "mark occurrence route failed", markRouteFailedQuery, id, message)
}

func (a *OccurrenceAdapter) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		return apperr.DatabaseError(op, err)
	}
	return nil
}
