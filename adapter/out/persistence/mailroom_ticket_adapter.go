package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
)

// =============================================================================
// TicketAdapter - tickets, message links, events
// =============================================================================

type TicketAdapter struct {
	db sqlx.ExtContext
}

func NewTicketAdapter(db sqlx.ExtContext) *TicketAdapter {
	return &TicketAdapter{db: db}
}

// =============================================================================
// Stitch lookups
// =============================================================================

const findTicketIDByMessageQuery = `
SELECT ticket_id
FROM ticket_messages
WHERE organization_id = $1
  AND message_id = $2`

func (a *TicketAdapter) FindTicketIDByMessage(ctx context.Context, organizationID, messageID uuid.UUID) (*uuid.UUID, error) {
	var id uuid.UUID
	err := sqlx.GetContext(ctx, a.db, &id, findTicketIDByMessageQuery, organizationID, messageID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("find ticket by message", err)
	}
	return &id, nil
}

const findTicketIDByCodeQuery = `
SELECT id
FROM tickets
WHERE organization_id = $1
  AND ticket_code = $2`

func (a *TicketAdapter) FindTicketIDByCode(ctx context.Context, organizationID uuid.UUID, ticketCode string) (*uuid.UUID, error) {
	var id uuid.UUID
	err := sqlx.GetContext(ctx, a.db, &id, findTicketIDByCodeQuery, organizationID, ticketCode)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("find ticket by code", err)
	}
	return &id, nil
}

const ticketExistsQuery = `
SELECT EXISTS (
  SELECT 1 FROM tickets WHERE organization_id = $1 AND id = $2
)`

func (a *TicketAdapter) TicketExists(ctx context.Context, organizationID, ticketID uuid.UUID) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, a.db, &exists, ticketExistsQuery, organizationID, ticketID); err != nil {
		return false, apperr.DatabaseError("ticket exists", err)
	}
	return exists, nil
}

// =============================================================================
// Create and link
// =============================================================================

const createTicketQuery = `
INSERT INTO tickets (
  organization_id,
  ticket_code,
  status,
  priority,
  subject,
  subject_norm,
  requester_email,
  requester_name,
  created_at,
  updated_at,
  first_message_at,
  last_message_at,
  last_activity_at,
  stitch_reason,
  stitch_confidence
)
VALUES ($1, $2, 'new', 'normal', $3, $4, $5, $6, now(), now(), $7, $7, $7, $8, $9)
RETURNING id`

const createTicketWithIDQuery = `
INSERT INTO tickets (
  id,
  organization_id,
  ticket_code,
  status,
  priority,
  subject,
  subject_norm,
  requester_email,
  requester_name,
  created_at,
  updated_at,
  first_message_at,
  last_message_at,
  last_activity_at,
  stitch_reason,
  stitch_confidence
)
VALUES ($1, $2, $3, 'new', 'normal', $4, $5, $6, $7, now(), now(), $8, $8, $8, $9, $10)
RETURNING id`

// CreateTicket honors a preset t.ID, which carries the X-OSS-Ticket-ID
// header value onto the row.
func (a *TicketAdapter) CreateTicket(ctx context.Context, t *domain.Ticket) (uuid.UUID, error) {
	var id uuid.UUID
	var err error
	if t.ID != uuid.Nil {
		err = sqlx.GetContext(ctx, a.db, &id, createTicketWithIDQuery,
			t.ID,
			t.OrganizationID,
			t.TicketCode,
			toNullableString(t.Subject),
			toNullableString(t.SubjectNorm),
			toNullableString(t.RequesterEmail),
			toNullableString(t.RequesterName),
			toNullableTime(t.FirstMessageAt),
			toNullableString(t.StitchReason),
			string(t.StitchConfidence),
		)
	} else {
		err = sqlx.GetContext(ctx, a.db, &id, createTicketQuery,
			t.OrganizationID,
			t.TicketCode,
			toNullableString(t.Subject),
			toNullableString(t.SubjectNorm),
			toNullableString(t.RequesterEmail),
			toNullableString(t.RequesterName),
			toNullableTime(t.FirstMessageAt),
			toNullableString(t.StitchReason),
			string(t.StitchConfidence),
		)
	}
	if err != nil {
		return uuid.Nil, apperr.DatabaseError("create ticket", err)
	}
	return id, nil
}

const linkMessageQuery = `
INSERT INTO ticket_messages (
  organization_id,
  ticket_id,
  message_id,
  stitched_at,
  stitch_reason,
  stitch_confidence
)
VALUES ($1, $2, $3, now(), $4, $5)
ON CONFLICT (organization_id, message_id) DO NOTHING`

// LinkMessage attaches a message to a ticket; the unique constraint on
// (organization, message) makes the first link win.
func (a *TicketAdapter) LinkMessage(ctx context.Context, link *domain.TicketMessage) error {
	if _, err := a.db.ExecContext(ctx, linkMessageQuery,
		link.OrganizationID,
		link.TicketID,
		link.MessageID,
		link.StitchReason,
		string(link.StitchConfidence),
	); err != nil {
		return apperr.DatabaseError("link ticket message", err)
	}
	return nil
}

const getTicketLockedQuery = `
SELECT id, organization_id, ticket_code, status, priority,
       subject, subject_norm, requester_email, requester_name,
       assignee_user_id, assignee_queue_id,
       created_at, updated_at, first_message_at, last_message_at,
       last_activity_at, closed_at, stitch_reason, stitch_confidence
FROM tickets
WHERE organization_id = $1
  AND id = $2
FOR UPDATE`

type ticketEntity struct {
	ID             uuid.UUID      `db:"id"`
	OrganizationID uuid.UUID      `db:"organization_id"`
	TicketCode     string         `db:"ticket_code"`
	Status         string         `db:"status"`
	Priority       string         `db:"priority"`
	Subject        sql.NullString `db:"subject"`
	SubjectNorm    sql.NullString `db:"subject_norm"`
	RequesterEmail sql.NullString `db:"requester_email"`
	RequesterName  sql.NullString `db:"requester_name"`

	AssigneeUserID  uuid.NullUUID `db:"assignee_user_id"`
	AssigneeQueueID uuid.NullUUID `db:"assignee_queue_id"`

	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	FirstMessageAt sql.NullTime   `db:"first_message_at"`
	LastMessageAt  sql.NullTime   `db:"last_message_at"`
	LastActivityAt sql.NullTime   `db:"last_activity_at"`
	ClosedAt       sql.NullTime   `db:"closed_at"`

	StitchReason     sql.NullString `db:"stitch_reason"`
	StitchConfidence sql.NullString `db:"stitch_confidence"`
}

func (e *ticketEntity) toDomain() *domain.Ticket {
	return &domain.Ticket{
		ID:               e.ID,
		OrganizationID:   e.OrganizationID,
		TicketCode:       e.TicketCode,
		Status:           domain.TicketStatus(e.Status),
		Priority:         domain.TicketPriority(e.Priority),
		Subject:          fromNullableString(e.Subject),
		SubjectNorm:      fromNullableString(e.SubjectNorm),
		RequesterEmail:   fromNullableString(e.RequesterEmail),
		RequesterName:    fromNullableString(e.RequesterName),
		AssigneeUserID:   fromNullableUUID(e.AssigneeUserID),
		AssigneeQueueID:  fromNullableUUID(e.AssigneeQueueID),
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
		FirstMessageAt:   fromNullableTime(e.FirstMessageAt),
		LastMessageAt:    fromNullableTime(e.LastMessageAt),
		LastActivityAt:   fromNullableTime(e.LastActivityAt),
		ClosedAt:         fromNullableTime(e.ClosedAt),
		StitchReason:     fromNullableString(e.StitchReason),
		StitchConfidence: domain.Confidence(fromNullableString(e.StitchConfidence)),
	}
}

func (a *TicketAdapter) GetTicketLocked(ctx context.Context, organizationID, ticketID uuid.UUID) (*domain.Ticket, error) {
	var entity ticketEntity
	err := sqlx.GetContext(ctx, a.db, &entity, getTicketLockedQuery, organizationID, ticketID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get ticket", err)
	}
	return entity.toDomain(), nil
}

// =============================================================================
// Routing reads and writes
// =============================================================================

type assignmentEntity struct {
	Status          string        `db:"status"`
	AssigneeUserID  uuid.NullUUID `db:"assignee_user_id"`
	AssigneeQueueID uuid.NullUUID `db:"assignee_queue_id"`
}

func (e *assignmentEntity) toPort() *out.TicketAssignment {
	return &out.TicketAssignment{
		Status:          domain.TicketStatus(e.Status),
		AssigneeUserID:  fromNullableUUID(e.AssigneeUserID),
		AssigneeQueueID: fromNullableUUID(e.AssigneeQueueID),
	}
}

const getAssignmentQuery = `
SELECT status, assignee_user_id, assignee_queue_id
FROM tickets
WHERE organization_id = $1
  AND id = $2`

const getAssignmentLockedQuery = getAssignmentQuery + `
FOR UPDATE`

func (a *TicketAdapter) GetAssignmentLocked(ctx context.Context, organizationID, ticketID uuid.UUID) (*out.TicketAssignment, error) {
	return a.getAssignment(ctx, getAssignmentLockedQuery, organizationID, ticketID)
}

func (a *TicketAdapter) GetAssignment(ctx context.Context, organizationID, ticketID uuid.UUID) (*out.TicketAssignment, error) {
	return a.getAssignment(ctx, getAssignmentQuery, organizationID, ticketID)
}

func (a *TicketAdapter) getAssignment(ctx context.Context, query string, organizationID, ticketID uuid.UUID) (*out.TicketAssignment, error) {
	var entity assignmentEntity
	err := sqlx.GetContext(ctx, a.db, &entity, query, organizationID, ticketID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get ticket assignment", err)
	}
	return entity.toPort(), nil
}

const applyRuleUpdateQuery = `
UPDATE tickets
SET assignee_user_id = CASE WHEN $3 THEN $4 ELSE assignee_user_id END,
    assignee_queue_id = CASE WHEN $3 THEN $5 ELSE assignee_queue_id END,
    status = COALESCE($6, status),
    closed_at = CASE WHEN $7 THEN now() ELSE closed_at END,
    updated_at = now(),
    last_activity_at = now()
WHERE organization_id = $1
  AND id = $2`

func (a *TicketAdapter) ApplyRuleUpdate(ctx context.Context, organizationID, ticketID uuid.UUID, update out.RuleUpdate) error {
	var status any
	if update.Status != nil {
		status = string(*update.Status)
	}
	if update.Close {
		status = string(domain.TicketStatusClosed)
	}
	touchAssignment := update.AssigneeUserID != nil || update.AssigneeQueueID != nil
	if _, err := a.db.ExecContext(ctx, applyRuleUpdateQuery,
		organizationID,
		ticketID,
		touchAssignment,
		toNullableUUID(update.AssigneeUserID),
		toNullableUUID(update.AssigneeQueueID),
		status,
		update.Close,
	); err != nil {
		return apperr.DatabaseError("apply rule update", err)
	}
	return nil
}

const markSpamQuery = `
UPDATE tickets
SET status = 'spam',
    closed_at = now(),
    updated_at = now(),
    last_activity_at = now()
WHERE organization_id = $1
  AND id = $2`

func (a *TicketAdapter) MarkSpam(ctx context.Context, organizationID, ticketID uuid.UUID) error {
	if _, err := a.db.ExecContext(ctx, markSpamQuery, organizationID, ticketID); err != nil {
		return apperr.DatabaseError("mark ticket spam", err)
	}
	return nil
}

const touchActivityQuery = `
UPDATE tickets
SET last_message_at = now(),
    last_activity_at = now(),
    updated_at = now()
WHERE organization_id = $1
  AND id = $2`

func (a *TicketAdapter) TouchActivity(ctx context.Context, organizationID, ticketID uuid.UUID) error {
	if _, err := a.db.ExecContext(ctx, touchActivityQuery, organizationID, ticketID); err != nil {
		return apperr.DatabaseError("touch ticket activity", err)
	}
	return nil
}

// =============================================================================
// Events
// =============================================================================

const insertEventQuery = `
INSERT INTO ticket_events (
  organization_id,
  ticket_id,
  actor_user_id,
  event_type,
  created_at,
  event_data
)
VALUES ($1, $2, $3, $4, now(), CAST($5 AS jsonb))`

func (a *TicketAdapter) InsertEvent(ctx context.Context, ev *domain.TicketEvent) error {
	data := ev.EventData
	if len(data) == 0 {
		data = []byte("{}")
	}
	if _, err := a.db.ExecContext(ctx, insertEventQuery,
		ev.OrganizationID,
		ev.TicketID,
		toNullableUUID(ev.ActorUserID),
		ev.EventType,
		string(data),
	); err != nil {
		return apperr.DatabaseError("insert ticket event", err)
	}
	return nil
}

const hasEventForMessageQuery = `
SELECT EXISTS (
  SELECT 1
  FROM ticket_events
  WHERE organization_id = $1
    AND ticket_id = $2
    AND event_type = $3
    AND event_data ->> 'message_id' = $4
)`

func (a *TicketAdapter) HasEventForMessage(ctx context.Context, organizationID, ticketID uuid.UUID, eventType string, messageID uuid.UUID) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, a.db, &exists, hasEventForMessageQuery,
		organizationID, ticketID, eventType, messageID.String(),
	); err != nil {
		return false, apperr.DatabaseError("find ticket event by message", err)
	}
	return exists, nil
}

const latestSenderQuery = `
SELECT mc.from_email, m.direction
FROM ticket_messages tm
JOIN messages m ON m.id = tm.message_id
JOIN message_contents mc ON mc.message_id = m.id AND mc.organization_id = tm.organization_id
WHERE tm.organization_id = $1
  AND tm.ticket_id = $2
ORDER BY mc.parsed_at DESC
LIMIT 1`

// LatestSender returns the from address and direction of the most
// recently parsed message linked to the ticket.
func (a *TicketAdapter) LatestSender(ctx context.Context, organizationID, ticketID uuid.UUID) (string, domain.Direction, bool, error) {
	var row struct {
		FromEmail sql.NullString `db:"from_email"`
		Direction string         `db:"direction"`
	}
	err := sqlx.GetContext(ctx, a.db, &row, latestSenderQuery, organizationID, ticketID)
	if err != nil {
		if isNoRows(err) {
			return "", "", false, nil
		}
		return "", "", false, apperr.DatabaseError("latest ticket sender", err)
	}
	return fromNullableString(row.FromEmail), domain.Direction(row.Direction), true, nil
}
