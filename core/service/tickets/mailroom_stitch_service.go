package tickets

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/core/service/ingest"
)

// OSSTicketIDHeader pins a message to a known ticket; outbound replies
// set it so the journal copy of our own mail stitches deterministically.
const OSSTicketIDHeader = "X-OSS-Ticket-ID"

// replyToTokenRE matches the ticket code embedded in our reply-to
// addresses, e.g. ticket+tkt-abc123@reply.example.
var replyToTokenRE = regexp.MustCompile(`^ticket\+([a-z0-9\-]+)@`)

// =============================================================================
// StitchService - attach parsed occurrences to tickets
// =============================================================================

type StitchService struct {
	occurrences out.OccurrenceRepository
	messages    out.MessageRepository
	tickets     out.TicketRepository
	jobs        out.JobRepository
}

func NewStitchService(
	occurrences out.OccurrenceRepository,
	messages out.MessageRepository,
	tickets out.TicketRepository,
	jobs out.JobRepository,
) *StitchService {
	return &StitchService{
		occurrences: occurrences,
		messages:    messages,
		tickets:     tickets,
		jobs:        jobs,
	}
}

// Stitch resolves the ticket for an occurrence's canonical message.
// Precedence: explicit X-OSS-Ticket-ID header, then reply-to token,
// then RFC threading, then a fresh ticket. The first link on a message
// wins permanently; a re-run just reuses it.
func (s *StitchService) Stitch(ctx context.Context, occurrenceID uuid.UUID) error {
	occ, err := s.occurrences.GetLocked(ctx, occurrenceID)
	if err != nil {
		return err
	}
	if occ == nil {
		return nil
	}
	if occ.TicketID != nil && !occ.State.Before(domain.OccurrenceStitched) {
		return nil
	}

	if occ.MessageID == nil {
		return s.occurrences.MarkStitchFailed(ctx, occurrenceID, "missing message_id")
	}
	messageID := *occ.MessageID

	existing, err := s.tickets.FindTicketIDByMessage(ctx, occ.OrganizationID, messageID)
	if err != nil {
		return err
	}
	if existing != nil {
		return s.finish(ctx, occ, *existing)
	}

	content, err := s.messages.GetLatestContent(ctx, occ.OrganizationID, messageID)
	if err != nil {
		return err
	}
	if content == nil {
		return s.occurrences.MarkStitchFailed(ctx, occurrenceID, "missing message content")
	}

	ticketID, reason, confidence, err := s.resolveTicket(ctx, occ, messageID, content)
	if err != nil {
		return err
	}

	if err := s.tickets.LinkMessage(ctx, &domain.TicketMessage{
		OrganizationID:   occ.OrganizationID,
		TicketID:         ticketID,
		MessageID:        messageID,
		StitchReason:     reason,
		StitchConfidence: confidence,
	}); err != nil {
		return err
	}
	if err := s.tickets.TouchActivity(ctx, occ.OrganizationID, ticketID); err != nil {
		return err
	}
	return s.finish(ctx, occ, ticketID)
}

func (s *StitchService) resolveTicket(ctx context.Context, occ *domain.MessageOccurrence, messageID uuid.UUID, content *domain.MessageContent) (uuid.UUID, string, domain.Confidence, error) {
	var headers ingest.Headers
	if len(content.HeadersJSON) > 0 {
		if err := json.Unmarshal(content.HeadersJSON, &headers); err != nil {
			headers = nil
		}
	}

	if pinned := ingest.ExtractUUIDHeader(headers, OSSTicketIDHeader); pinned != nil {
		exists, err := s.tickets.TicketExists(ctx, occ.OrganizationID, *pinned)
		if err != nil {
			return uuid.Nil, "", "", err
		}
		if !exists {
			if _, err := s.createTicket(ctx, occ, content, *pinned, domain.StitchReasonOSSTicketID, domain.ConfidenceHigh); err != nil {
				return uuid.Nil, "", "", err
			}
		}
		return *pinned, domain.StitchReasonOSSTicketID, domain.ConfidenceHigh, nil
	}

	for _, addr := range content.ReplyToEmails {
		m := replyToTokenRE.FindStringSubmatch(strings.ToLower(strings.TrimSpace(addr)))
		if m == nil {
			continue
		}
		ticketID, err := s.tickets.FindTicketIDByCode(ctx, occ.OrganizationID, m[1])
		if err != nil {
			return uuid.Nil, "", "", err
		}
		if ticketID != nil {
			return *ticketID, domain.StitchReasonReplyToToken, domain.ConfidenceHigh, nil
		}
	}

	refs, err := s.messages.ListThreadRefs(ctx, occ.OrganizationID, messageID)
	if err != nil {
		return uuid.Nil, "", "", err
	}
	for _, ref := range refs {
		refMessageID, err := s.messages.FindMessageByRFCID(ctx, occ.OrganizationID, ref.RefRFCMessageID)
		if err != nil {
			return uuid.Nil, "", "", err
		}
		if refMessageID == nil {
			continue
		}
		ticketID, err := s.tickets.FindTicketIDByMessage(ctx, occ.OrganizationID, *refMessageID)
		if err != nil {
			return uuid.Nil, "", "", err
		}
		if ticketID != nil {
			return *ticketID, domain.StitchReasonThreading, domain.ConfidenceMedium, nil
		}
	}

	ticketID, err := s.createTicket(ctx, occ, content, uuid.Nil, domain.StitchReasonNewMessage, domain.ConfidenceLow)
	if err != nil {
		return uuid.Nil, "", "", err
	}
	return ticketID, domain.StitchReasonNewTicket, domain.ConfidenceLow, nil
}

func (s *StitchService) createTicket(ctx context.Context, occ *domain.MessageOccurrence, content *domain.MessageContent, presetID uuid.UUID, reason string, confidence domain.Confidence) (uuid.UUID, error) {
	code, err := NewTicketCode()
	if err != nil {
		return uuid.Nil, err
	}

	firstMessageAt := content.DateHeader
	if firstMessageAt == nil {
		now := time.Now().UTC()
		firstMessageAt = &now
	}

	return s.tickets.CreateTicket(ctx, &domain.Ticket{
		ID:               presetID,
		OrganizationID:   occ.OrganizationID,
		TicketCode:       code,
		Subject:          content.Subject,
		SubjectNorm:      content.SubjectNorm,
		RequesterEmail:   content.FromEmail,
		RequesterName:    content.FromName,
		FirstMessageAt:   firstMessageAt,
		StitchReason:     reason,
		StitchConfidence: confidence,
	})
}

// finish records the link on the occurrence and hands off to routing.
func (s *StitchService) finish(ctx context.Context, occ *domain.MessageOccurrence, ticketID uuid.UUID) error {
	if err := s.occurrences.MarkStitched(ctx, occ.ID, ticketID); err != nil {
		return err
	}
	_, err := s.jobs.Enqueue(ctx, out.EnqueueParams{
		Type:           domain.JobTicketApplyRouting,
		OrganizationID: &occ.OrganizationID,
		MailboxID:      &occ.MailboxID,
		Payload:        map[string]any{"occurrence_id": occ.ID.String()},
		DedupeKey:      fmt.Sprintf("%s:%s", domain.JobTicketApplyRouting, occ.ID),
	})
	return err
}
