package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ticket is a support case stitched together from canonical messages.
type Ticket struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	TicketCode     string

	Status   TicketStatus
	Priority TicketPriority

	Subject     string
	SubjectNorm string

	RequesterEmail string
	RequesterName  string

	AssigneeUserID  *uuid.UUID
	AssigneeQueueID *uuid.UUID

	CreatedAt      time.Time
	UpdatedAt      time.Time
	FirstMessageAt *time.Time
	LastMessageAt  *time.Time
	LastActivityAt *time.Time
	ClosedAt       *time.Time

	StitchReason     string
	StitchConfidence Confidence
}

// Stitch reasons, highest precedence first. NewTicket marks the link
// row when a fresh ticket had to be created for the message.
const (
	StitchReasonOSSTicketID  = "x_oss_ticket_id"
	StitchReasonReplyToToken = "reply_to_token"
	StitchReasonThreading    = "threading"
	StitchReasonNewMessage   = "new_message"
	StitchReasonNewTicket    = "new_ticket"
	StitchReasonOutbound     = "outbound_send"
)

// TicketMessage links a canonical message to exactly one ticket per
// organization.
type TicketMessage struct {
	ID               uuid.UUID
	OrganizationID   uuid.UUID
	TicketID         uuid.UUID
	MessageID        uuid.UUID
	StitchedAt       time.Time
	StitchReason     string
	StitchConfidence Confidence
}

// Ticket event types emitted by the pipeline.
const (
	EventAutoSpam       = "auto_spam"
	EventRoutingApplied = "routing_applied"
	EventOutboundQueued = "outbound_queued"
	EventOutboundSent   = "outbound_sent"
)

// TicketEvent is an append-only audit record.
type TicketEvent struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	TicketID       uuid.UUID
	ActorUserID    *uuid.UUID
	EventType      string
	CreatedAt      time.Time
	EventData      []byte
}

// TicketNote is an internal agent note on a ticket.
type TicketNote struct {
	ID                uuid.UUID
	OrganizationID    uuid.UUID
	TicketID          uuid.UUID
	AuthorUserID      *uuid.UUID
	BodyMarkdown      string
	BodyHTMLSanitized string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AllowlistEntry is one enabled glob pattern over recipients.
type AllowlistEntry struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Pattern        string
	IsEnabled      bool
	CreatedAt      time.Time
}

// RoutingRule matches stitched tickets and applies assignment actions.
// A rule matches when all non-empty predicates match; rules evaluate
// in (priority ASC, id ASC) order and only the first match applies.
type RoutingRule struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	IsEnabled      bool
	Priority       int

	MatchRecipientPattern    string
	MatchSenderDomainPattern string
	MatchSenderEmailPattern  string
	MatchDirection           *Direction

	ActionAssignQueueID *uuid.UUID
	ActionAssignUserID  *uuid.UUID
	ActionSetStatus     *TicketStatus
	ActionDrop          bool
	ActionAutoClose     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
