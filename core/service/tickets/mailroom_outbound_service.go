package tickets

import (
	"context"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/core/service/ingest"
	"mailroom_server/pkg/apperr"
	"mailroom_server/pkg/canonical"
)

// Synthetic domains for message ids and reply-to tokens on outbound
// mail. They only need to be stable and unique, not routable.
const (
	outboundMessageIDDomain = "outbound.oss-ticketing.local"
	replyToDomain           = "reply.oss-ticketing.local"
)

// =============================================================================
// OutboundService - queue and confirm agent replies
// =============================================================================

type OutboundService struct {
	tickets    out.TicketRepository
	identities out.SendIdentityRepository
	messages   out.MessageRepository
	jobs       out.JobRepository
}

func NewOutboundService(
	tickets out.TicketRepository,
	identities out.SendIdentityRepository,
	messages out.MessageRepository,
	jobs out.JobRepository,
) *OutboundService {
	return &OutboundService{
		tickets:    tickets,
		identities: identities,
		messages:   messages,
		jobs:       jobs,
	}
}

// ReplyInput is one agent reply to queue for sending.
type ReplyInput struct {
	TicketID       uuid.UUID
	SendIdentityID uuid.UUID
	ActorUserID    *uuid.UUID
	ToEmails       []string
	CcEmails       []string
	Subject        string
	BodyText       string
}

// QueuedReply reports the canonical message created for a reply and
// the send job backing it.
type QueuedReply struct {
	MessageID uuid.UUID
	JobID     *uuid.UUID
}

// QueueReply records an outbound reply as a canonical message, links
// it to the ticket, and queues the send job. The message carries our
// id headers so the journal copy dedupes onto this row instead of
// creating a second one.
func (s *OutboundService) QueueReply(ctx context.Context, organizationID uuid.UUID, input ReplyInput) (*QueuedReply, error) {
	ticket, err := s.tickets.GetTicketLocked(ctx, organizationID, input.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, apperr.NotFound("ticket")
	}

	identity, err := s.identities.GetEnabledLocked(ctx, organizationID, input.SendIdentityID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, apperr.NotFound("send identity")
	}
	if identity.Status != "verified" {
		return nil, apperr.Conflict("send identity is not verified")
	}

	toEmails, err := normalizeRecipients(input.ToEmails, "to_emails")
	if err != nil {
		return nil, err
	}
	if len(toEmails) == 0 {
		return nil, apperr.ValidationFailed("to_emails must not be empty")
	}
	ccEmails, err := normalizeRecipients(input.CcEmails, "cc_emails")
	if err != nil {
		return nil, err
	}

	body := strings.TrimSpace(input.BodyText)
	if body == "" {
		return nil, apperr.ValidationFailed("body_text must not be empty")
	}
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		return nil, apperr.ValidationFailed("subject must not be empty")
	}
	subjectNorm := ingest.NormalizeSubject(subject)

	fromEmail := strings.ToLower(identity.FromEmail)
	ossMessageID := uuid.New()
	rfcMessageID := fmt.Sprintf("<oss-%s@%s>", ossMessageID, outboundMessageIDDomain)
	replyTo := fmt.Sprintf("ticket+%s@%s", ticket.TicketCode, replyToDomain)

	fingerprint, err := canonical.HashJSON(map[string]any{
		"ticket_id":    ticket.ID.String(),
		"subject_norm": subjectNorm,
		"from":         fromEmail,
		"to":           sortedStrings(toEmails),
		"cc":           sortedStrings(ccEmails),
	})
	if err != nil {
		return nil, err
	}
	signature, err := canonical.HashJSON(map[string]any{
		"ticket_id":      ticket.ID.String(),
		"oss_message_id": ossMessageID.String(),
		"subject":        subject,
		"from":           fromEmail,
		"to":             toEmails,
		"cc":             ccEmails,
		"body_text":      body,
	})
	if err != nil {
		return nil, err
	}

	messageID, err := s.messages.InsertCanonical(ctx, &domain.Message{
		OrganizationID: organizationID,
		Direction:      domain.DirectionOutbound,
		OSSMessageID:   &ossMessageID,
		RFCMessageID:   rfcMessageID,
		FingerprintV1:  fingerprint,
		SignatureV1:    signature,
	})
	if err != nil {
		return nil, err
	}

	headersJSON, err := json.Marshal(outboundHeaders(identity, toEmails, ccEmails, subject, rfcMessageID, replyTo, ticket.ID, ossMessageID))
	if err != nil {
		return nil, err
	}
	if err := s.messages.InsertContent(ctx, &domain.MessageContent{
		OrganizationID: organizationID,
		MessageID:      messageID,
		ContentVersion: 1,
		ParserVersion:  ingest.ParserVersion,
		Subject:        subject,
		SubjectNorm:    subjectNorm,
		FromEmail:      fromEmail,
		FromName:       identity.FromName,
		ReplyToEmails:  []string{replyTo},
		ToEmails:       toEmails,
		CcEmails:       ccEmails,
		HeadersJSON:    headersJSON,
		BodyText:       body,
		Snippet:        ingest.Snippet(body, subject),
	}); err != nil {
		return nil, err
	}

	if err := s.tickets.LinkMessage(ctx, &domain.TicketMessage{
		OrganizationID:   organizationID,
		TicketID:         ticket.ID,
		MessageID:        messageID,
		StitchReason:     domain.StitchReasonOutbound,
		StitchConfidence: domain.ConfidenceHigh,
	}); err != nil {
		return nil, err
	}
	if err := s.tickets.TouchActivity(ctx, organizationID, ticket.ID); err != nil {
		return nil, err
	}

	eventData, err := json.Marshal(map[string]any{
		"message_id":       messageID.String(),
		"oss_message_id":   ossMessageID.String(),
		"send_identity_id": identity.ID.String(),
		"to_emails":        toEmails,
		"cc_emails":        ccEmails,
	})
	if err != nil {
		return nil, err
	}
	if err := s.tickets.InsertEvent(ctx, &domain.TicketEvent{
		OrganizationID: organizationID,
		TicketID:       ticket.ID,
		ActorUserID:    input.ActorUserID,
		EventType:      domain.EventOutboundQueued,
		EventData:      eventData,
	}); err != nil {
		return nil, err
	}

	dedupeKey := fmt.Sprintf("%s:%s", domain.JobOutboundSend, messageID)
	jobID, err := s.jobs.Enqueue(ctx, out.EnqueueParams{
		Type:           domain.JobOutboundSend,
		OrganizationID: &organizationID,
		Payload: map[string]any{
			"organization_id":  organizationID.String(),
			"ticket_id":        ticket.ID.String(),
			"message_id":       messageID.String(),
			"send_identity_id": identity.ID.String(),
			"to_emails":        toEmails,
			"cc_emails":        ccEmails,
			"subject":          subject,
			"body_text":        body,
		},
		DedupeKey: dedupeKey,
	})
	if err != nil {
		return nil, err
	}
	if jobID == nil {
		jobID, err = s.jobs.FindByDedupeKey(ctx, organizationID, domain.JobOutboundSend, dedupeKey)
		if err != nil {
			return nil, err
		}
	}

	return &QueuedReply{MessageID: messageID, JobID: jobID}, nil
}

// MarkSent confirms delivery of a queued outbound message with an
// idempotent audit event. Replays of the same job are no-ops.
func (s *OutboundService) MarkSent(ctx context.Context, organizationID, ticketID, messageID uuid.UUID, sendIdentityID string, toEmails, ccEmails []string) error {
	msg, err := s.messages.GetForUpdate(ctx, organizationID, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return apperr.PermanentJob("outbound message is missing")
	}
	if msg.Direction != domain.DirectionOutbound {
		return apperr.PermanentJob("message direction must be outbound")
	}

	sent, err := s.tickets.HasEventForMessage(ctx, organizationID, ticketID, domain.EventOutboundSent, messageID)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	eventData, err := json.Marshal(map[string]any{
		"message_id":       messageID.String(),
		"send_identity_id": sendIdentityID,
		"to_emails":        toEmails,
		"cc_emails":        ccEmails,
	})
	if err != nil {
		return err
	}
	return s.tickets.InsertEvent(ctx, &domain.TicketEvent{
		OrganizationID: organizationID,
		TicketID:       ticketID,
		EventType:      domain.EventOutboundSent,
		EventData:      eventData,
	})
}

func outboundHeaders(identity *domain.SendIdentity, toEmails, ccEmails []string, subject, rfcMessageID, replyTo string, ticketID, ossMessageID uuid.UUID) map[string][]string {
	from := identity.FromEmail
	if identity.FromName != "" {
		from = fmt.Sprintf("%s <%s>", identity.FromName, identity.FromEmail)
	}
	cc := []string{}
	if len(ccEmails) > 0 {
		cc = []string{strings.Join(ccEmails, ", ")}
	}
	return map[string][]string{
		"From":                    {from},
		"To":                      {strings.Join(toEmails, ", ")},
		"Cc":                      cc,
		"Subject":                 {subject},
		"Message-ID":              {rfcMessageID},
		"Reply-To":                {replyTo},
		OSSTicketIDHeader:         {ticketID.String()},
		ingest.OSSMessageIDHeader: {ossMessageID.String()},
	}
}

// normalizeRecipients trims, lowercases, and dedupes while keeping
// order. Anything without an @ or containing whitespace is rejected.
func normalizeRecipients(emails []string, field string) ([]string, error) {
	var normalized []string
	seen := make(map[string]struct{})
	for _, email := range emails {
		cleaned := strings.ToLower(strings.TrimSpace(email))
		if cleaned == "" {
			continue
		}
		if !strings.Contains(cleaned, "@") || strings.ContainsAny(cleaned, " \t") {
			return nil, apperr.InvalidInput(field, fmt.Sprintf("invalid email address: %s", cleaned))
		}
		if _, ok := seen[cleaned]; ok {
			continue
		}
		seen[cleaned] = struct{}{}
		normalized = append(normalized, cleaned)
	}
	return normalized, nil
}

func sortedStrings(values []string) []string {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	return sorted
}
