package routing

import (
	"context"
	"path"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
)

// =============================================================================
// Service - allowlist gate and first-match rule application
// =============================================================================

type Service struct {
	occurrences out.OccurrenceRepository
	tickets     out.TicketRepository
	routing     out.RoutingRepository
}

func NewService(
	occurrences out.OccurrenceRepository,
	tickets out.TicketRepository,
	routing out.RoutingRepository,
) *Service {
	return &Service{
		occurrences: occurrences,
		tickets:     tickets,
		routing:     routing,
	}
}

// Apply routes a stitched occurrence's ticket. A recipient outside the
// allowlist marks the ticket spam; otherwise the first matching enabled
// rule applies its actions. Either way the occurrence ends up routed
// with an audit event on the ticket.
func (s *Service) Apply(ctx context.Context, occurrenceID uuid.UUID) error {
	occ, err := s.occurrences.GetLocked(ctx, occurrenceID)
	if err != nil {
		return err
	}
	if occ == nil {
		return nil
	}
	if occ.State == domain.OccurrenceRouted {
		return nil
	}
	if occ.TicketID == nil {
		return s.occurrences.MarkRouteFailed(ctx, occurrenceID, "missing ticket_id")
	}
	ticketID := *occ.TicketID

	recipient := strings.ToLower(strings.TrimSpace(occ.OriginalRecipient))

	patterns, err := s.routing.ListAllowlistPatterns(ctx, occ.OrganizationID)
	if err != nil {
		return err
	}
	if !Allowlisted(recipient, patterns) {
		return s.markSpam(ctx, occ, ticketID, recipient)
	}

	rules, err := s.routing.ListEnabledRules(ctx, occ.OrganizationID)
	if err != nil {
		return err
	}

	senderEmail, senderDirection, senderKnown, err := s.tickets.LatestSender(ctx, occ.OrganizationID, ticketID)
	if err != nil {
		return err
	}
	senderEmail = strings.ToLower(senderEmail)
	senderDomain := ""
	if i := strings.LastIndex(senderEmail, "@"); i >= 0 {
		senderDomain = senderEmail[i+1:]
	}
	var direction *domain.Direction
	if senderKnown {
		direction = &senderDirection
	}

	for _, rule := range rules {
		if !RuleMatches(rule, recipient, senderDomain, senderEmail, direction) {
			continue
		}
		applied, err := s.applyRule(ctx, occ, ticketID, rule)
		if err != nil {
			return err
		}
		if !applied {
			// Route failure already recorded on the occurrence.
			return nil
		}
		break
	}

	return s.occurrences.MarkRouted(ctx, occurrenceID)
}

func (s *Service) markSpam(ctx context.Context, occ *domain.MessageOccurrence, ticketID uuid.UUID, recipient string) error {
	if err := s.tickets.MarkSpam(ctx, occ.OrganizationID, ticketID); err != nil {
		return err
	}
	eventData, err := json.Marshal(map[string]any{
		"occurrence_id": occ.ID.String(),
		"recipient":     recipient,
	})
	if err != nil {
		return err
	}
	if err := s.tickets.InsertEvent(ctx, &domain.TicketEvent{
		OrganizationID: occ.OrganizationID,
		TicketID:       ticketID,
		EventType:      domain.EventAutoSpam,
		EventData:      eventData,
	}); err != nil {
		return err
	}
	return s.occurrences.MarkRouted(ctx, occ.ID)
}

// applyRule writes the rule's actions onto the ticket and records the
// audit event. A drop-only rule changes nothing on the ticket; the
// event still documents the match. Returns false when the ticket row
// is gone and the occurrence was parked route-failed instead.
func (s *Service) applyRule(ctx context.Context, occ *domain.MessageOccurrence, ticketID uuid.UUID, rule *domain.RoutingRule) (bool, error) {
	before, err := s.tickets.GetAssignmentLocked(ctx, occ.OrganizationID, ticketID)
	if err != nil {
		return false, err
	}
	if before == nil {
		return false, s.occurrences.MarkRouteFailed(ctx, occ.ID, "ticket row missing")
	}

	update := out.RuleUpdate{
		Status: rule.ActionSetStatus,
		Close:  rule.ActionAutoClose,
	}
	// A user assignment clears any queue assignment and vice versa;
	// a ticket sits in exactly one of the two.
	if rule.ActionAssignUserID != nil {
		update.AssigneeUserID = rule.ActionAssignUserID
	} else if rule.ActionAssignQueueID != nil {
		update.AssigneeQueueID = rule.ActionAssignQueueID
	}
	if err := s.tickets.ApplyRuleUpdate(ctx, occ.OrganizationID, ticketID, update); err != nil {
		return false, err
	}

	after, err := s.tickets.GetAssignment(ctx, occ.OrganizationID, ticketID)
	if err != nil {
		return false, err
	}

	eventData, err := json.Marshal(map[string]any{
		"occurrence_id": occ.ID.String(),
		"rule_id":       rule.ID.String(),
		"before":        assignmentSnapshot(before),
		"after":         assignmentSnapshot(after),
	})
	if err != nil {
		return false, err
	}
	return true, s.tickets.InsertEvent(ctx, &domain.TicketEvent{
		OrganizationID: occ.OrganizationID,
		TicketID:       ticketID,
		EventType:      domain.EventRoutingApplied,
		EventData:      eventData,
	})
}

func assignmentSnapshot(a *out.TicketAssignment) map[string]any {
	if a == nil {
		return nil
	}
	return map[string]any{
		"status":            string(a.Status),
		"assignee_user_id":  uuidString(a.AssigneeUserID),
		"assignee_queue_id": uuidString(a.AssigneeQueueID),
	}
}

func uuidString(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

// Allowlisted reports whether the recipient matches any enabled
// allowlist pattern. An empty recipient never matches.
func Allowlisted(recipient string, patterns []string) bool {
	if recipient == "" {
		return false
	}
	for _, pattern := range patterns {
		if globMatch(pattern, recipient) {
			return true
		}
	}
	return false
}

// RuleMatches evaluates one rule's predicates. Every non-empty
// predicate must match; the direction predicate only applies when both
// the rule and the ticket have one.
func RuleMatches(rule *domain.RoutingRule, recipient, senderDomain, senderEmail string, direction *domain.Direction) bool {
	if rule.MatchRecipientPattern != "" && !globMatch(rule.MatchRecipientPattern, recipient) {
		return false
	}
	if rule.MatchSenderDomainPattern != "" && !globMatch(rule.MatchSenderDomainPattern, senderDomain) {
		return false
	}
	if rule.MatchSenderEmailPattern != "" && !globMatch(rule.MatchSenderEmailPattern, senderEmail) {
		return false
	}
	if rule.MatchDirection != nil && direction != nil && *rule.MatchDirection != *direction {
		return false
	}
	return true
}

// globMatch is a case-insensitive shell-style match. A malformed
// pattern matches nothing.
func globMatch(pattern, value string) bool {
	ok, err := path.Match(strings.ToLower(pattern), value)
	return err == nil && ok
}
