package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailroom_server/core/domain"
	"mailroom_server/pkg/apperr"
)

// =============================================================================
// RoutingAdapter - allowlist and routing rules
// =============================================================================

type RoutingAdapter struct {
	db sqlx.ExtContext
}

func NewRoutingAdapter(db sqlx.ExtContext) *RoutingAdapter {
	return &RoutingAdapter{db: db}
}

const listAllowlistPatternsQuery = `
SELECT pattern
FROM recipient_allowlist
WHERE organization_id = $1
  AND is_enabled = true`

func (a *RoutingAdapter) ListAllowlistPatterns(ctx context.Context, organizationID uuid.UUID) ([]string, error) {
	var patterns []string
	if err := sqlx.SelectContext(ctx, a.db, &patterns, listAllowlistPatternsQuery, organizationID); err != nil {
		return nil, apperr.DatabaseError("list allowlist patterns", err)
	}
	return patterns, nil
}

type routingRuleEntity struct {
	ID             uuid.UUID `db:"id"`
	OrganizationID uuid.UUID `db:"organization_id"`
	Name           string    `db:"name"`
	IsEnabled      bool      `db:"is_enabled"`
	Priority       int       `db:"priority"`

	MatchRecipientPattern    sql.NullString `db:"match_recipient_pattern"`
	MatchSenderDomainPattern sql.NullString `db:"match_sender_domain_pattern"`
	MatchSenderEmailPattern  sql.NullString `db:"match_sender_email_pattern"`
	MatchDirection           sql.NullString `db:"match_direction"`

	ActionAssignQueueID uuid.NullUUID  `db:"action_assign_queue_id"`
	ActionAssignUserID  uuid.NullUUID  `db:"action_assign_user_id"`
	ActionSetStatus     sql.NullString `db:"action_set_status"`
	ActionDrop          bool           `db:"action_drop"`
	ActionAutoClose     bool           `db:"action_auto_close"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (e *routingRuleEntity) toDomain() *domain.RoutingRule {
	rule := &domain.RoutingRule{
		ID:                       e.ID,
		OrganizationID:           e.OrganizationID,
		Name:                     e.Name,
		IsEnabled:                e.IsEnabled,
		Priority:                 e.Priority,
		MatchRecipientPattern:    fromNullableString(e.MatchRecipientPattern),
		MatchSenderDomainPattern: fromNullableString(e.MatchSenderDomainPattern),
		MatchSenderEmailPattern:  fromNullableString(e.MatchSenderEmailPattern),
		ActionAssignQueueID:      fromNullableUUID(e.ActionAssignQueueID),
		ActionAssignUserID:       fromNullableUUID(e.ActionAssignUserID),
		ActionDrop:               e.ActionDrop,
		ActionAutoClose:          e.ActionAutoClose,
		CreatedAt:                e.CreatedAt,
		UpdatedAt:                e.UpdatedAt,
	}
	if e.MatchDirection.Valid {
		d := domain.Direction(e.MatchDirection.String)
		rule.MatchDirection = &d
	}
	if e.ActionSetStatus.Valid {
		s := domain.TicketStatus(e.ActionSetStatus.String)
		rule.ActionSetStatus = &s
	}
	return rule
}

const listEnabledRulesQuery = `
SELECT id, organization_id, name, is_enabled, priority,
       match_recipient_pattern, match_sender_domain_pattern,
       match_sender_email_pattern, match_direction,
       action_assign_queue_id, action_assign_user_id, action_set_status,
       action_drop, action_auto_close, created_at, updated_at
FROM routing_rules
WHERE organization_id = $1
  AND is_enabled = true
ORDER BY priority ASC, id ASC`

// ListEnabledRules returns rules in evaluation order.
func (a *RoutingAdapter) ListEnabledRules(ctx context.Context, organizationID uuid.UUID) ([]*domain.RoutingRule, error) {
	var entities []routingRuleEntity
	if err := sqlx.SelectContext(ctx, a.db, &entities, listEnabledRulesQuery, organizationID); err != nil {
		return nil, apperr.DatabaseError("list routing rules", err)
	}
	rules := make([]*domain.RoutingRule, 0, len(entities))
	for i := range entities {
		rules = append(rules, entities[i].toDomain())
	}
	return rules, nil
}

// =============================================================================
// SendIdentityAdapter - verified outbound identities
// =============================================================================

type SendIdentityAdapter struct {
	db sqlx.ExtContext
}

func NewSendIdentityAdapter(db sqlx.ExtContext) *SendIdentityAdapter {
	return &SendIdentityAdapter{db: db}
}

type sendIdentityEntity struct {
	ID             uuid.UUID      `db:"id"`
	OrganizationID uuid.UUID      `db:"organization_id"`
	MailboxID      uuid.UUID      `db:"mailbox_id"`
	FromEmail      string         `db:"from_email"`
	FromName       sql.NullString `db:"from_name"`
	GmailSendAsID  string         `db:"gmail_send_as_id"`
	Status         string         `db:"status"`
	IsEnabled      bool           `db:"is_enabled"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

const getSendIdentityLockedQuery = `
SELECT id, organization_id, mailbox_id, from_email, from_name,
       gmail_send_as_id, status, is_enabled, created_at, updated_at
FROM send_identities
WHERE organization_id = $1
  AND id = $2
  AND is_enabled = true
FOR UPDATE`

func (a *SendIdentityAdapter) GetEnabledLocked(ctx context.Context, organizationID, identityID uuid.UUID) (*domain.SendIdentity, error) {
	var entity sendIdentityEntity
	err := sqlx.GetContext(ctx, a.db, &entity, getSendIdentityLockedQuery, organizationID, identityID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("get send identity", err)
	}
	return &domain.SendIdentity{
		ID:             entity.ID,
		OrganizationID: entity.OrganizationID,
		MailboxID:      entity.MailboxID,
		FromEmail:      entity.FromEmail,
		FromName:       fromNullableString(entity.FromName),
		GmailSendAsID:  entity.GmailSendAsID,
		Status:         entity.Status,
		IsEnabled:      entity.IsEnabled,
		CreatedAt:      entity.CreatedAt,
		UpdatedAt:      entity.UpdatedAt,
	}, nil
}
