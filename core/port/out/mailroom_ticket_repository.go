package out

import (
	"context"

	"github.com/google/uuid"

	"mailroom_server/core/domain"
)

// TicketAssignment is the slice of a ticket routing reads and writes.
type TicketAssignment struct {
	Status          domain.TicketStatus
	AssigneeUserID  *uuid.UUID
	AssigneeQueueID *uuid.UUID
}

// RuleUpdate describes the field changes a routing rule applies.
// Nil pointers leave the column untouched.
type RuleUpdate struct {
	AssigneeUserID  *uuid.UUID
	AssigneeQueueID *uuid.UUID
	Status          *domain.TicketStatus
	Close           bool
}

// TicketRepository owns tickets, their message links, and events.
type TicketRepository interface {
	FindTicketIDByMessage(ctx context.Context, organizationID, messageID uuid.UUID) (*uuid.UUID, error)
	FindTicketIDByCode(ctx context.Context, organizationID uuid.UUID, ticketCode string) (*uuid.UUID, error)
	TicketExists(ctx context.Context, organizationID, ticketID uuid.UUID) (bool, error)

	// CreateTicket inserts the ticket. A zero t.ID lets the database
	// generate one; a preset ID is honored.
	CreateTicket(ctx context.Context, t *domain.Ticket) (uuid.UUID, error)

	// LinkMessage attaches a message to a ticket, first link wins.
	LinkMessage(ctx context.Context, link *domain.TicketMessage) error

	// GetTicketLocked row-locks the full ticket, or nil when absent.
	GetTicketLocked(ctx context.Context, organizationID, ticketID uuid.UUID) (*domain.Ticket, error)

	// GetAssignmentLocked row-locks the ticket and returns its current
	// routing-relevant fields, or nil when the ticket is gone.
	GetAssignmentLocked(ctx context.Context, organizationID, ticketID uuid.UUID) (*TicketAssignment, error)
	GetAssignment(ctx context.Context, organizationID, ticketID uuid.UUID) (*TicketAssignment, error)

	// ApplyRuleUpdate writes the rule's actions onto the ticket.
	ApplyRuleUpdate(ctx context.Context, organizationID, ticketID uuid.UUID, update RuleUpdate) error

	// MarkSpam closes the ticket as spam.
	MarkSpam(ctx context.Context, organizationID, ticketID uuid.UUID) error

	// TouchActivity bumps last_message_at/last_activity_at/updated_at.
	TouchActivity(ctx context.Context, organizationID, ticketID uuid.UUID) error

	InsertEvent(ctx context.Context, ev *domain.TicketEvent) error

	// HasEventForMessage reports whether an event of the given type
	// already references message_id in its event_data.
	HasEventForMessage(ctx context.Context, organizationID, ticketID uuid.UUID, eventType string, messageID uuid.UUID) (bool, error)

	// LatestSender returns the from address and direction of the most
	// recently parsed message on the ticket, or ok=false when none.
	LatestSender(ctx context.Context, organizationID, ticketID uuid.UUID) (fromEmail string, direction domain.Direction, ok bool, err error)
}

// RoutingRepository reads routing configuration.
type RoutingRepository interface {
	// ListAllowlistPatterns returns enabled allowlist patterns.
	ListAllowlistPatterns(ctx context.Context, organizationID uuid.UUID) ([]string, error)

	// ListEnabledRules returns enabled rules in (priority ASC, id ASC)
	// evaluation order.
	ListEnabledRules(ctx context.Context, organizationID uuid.UUID) ([]*domain.RoutingRule, error)
}

// SendIdentityRepository reads verified outbound identities.
type SendIdentityRepository interface {
	// GetEnabledLocked row-locks an enabled identity, or returns nil.
	GetEnabledLocked(ctx context.Context, organizationID, identityID uuid.UUID) (*domain.SendIdentity, error)
}
