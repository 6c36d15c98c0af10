package tickets

import (
	"context"
	"fmt"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
)

type outboundTickets struct {
	fakeTickets
	ticket *domain.Ticket
	events []*domain.TicketEvent
	sent   bool
}

func (f *outboundTickets) GetTicketLocked(ctx context.Context, organizationID, ticketID uuid.UUID) (*domain.Ticket, error) {
	if f.ticket == nil || f.ticket.ID != ticketID {
		return nil, nil
	}
	return f.ticket, nil
}

func (f *outboundTickets) InsertEvent(ctx context.Context, ev *domain.TicketEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *outboundTickets) HasEventForMessage(ctx context.Context, organizationID, ticketID uuid.UUID, eventType string, messageID uuid.UUID) (bool, error) {
	return f.sent, nil
}

type outboundMessages struct {
	fakeMessages
	canonical *domain.Message
	inserted  *domain.MessageContent
	stored    *domain.Message
}

func (f *outboundMessages) InsertCanonical(ctx context.Context, msg *domain.Message) (uuid.UUID, error) {
	f.canonical = msg
	return uuid.New(), nil
}

func (f *outboundMessages) InsertContent(ctx context.Context, content *domain.MessageContent) error {
	f.inserted = content
	return nil
}

func (f *outboundMessages) GetForUpdate(ctx context.Context, organizationID, messageID uuid.UUID) (*domain.Message, error) {
	return f.stored, nil
}

type fakeIdentities struct {
	out.SendIdentityRepository
	identity *domain.SendIdentity
}

func (f *fakeIdentities) GetEnabledLocked(ctx context.Context, organizationID, identityID uuid.UUID) (*domain.SendIdentity, error) {
	if f.identity == nil || f.identity.ID != identityID {
		return nil, nil
	}
	return f.identity, nil
}

type outboundFixture struct {
	tickets    *outboundTickets
	identities *fakeIdentities
	messages   *outboundMessages
	jobs       *fakeJobs
	svc        *OutboundService

	organizationID uuid.UUID
	ticket         *domain.Ticket
	identity       *domain.SendIdentity
}

func newOutboundFixture() *outboundFixture {
	organizationID := uuid.New()
	ticket := &domain.Ticket{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		TicketCode:     "tkt-abc123",
	}
	identity := &domain.SendIdentity{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		FromEmail:      "Support@Acme.Test",
		FromName:       "Acme Support",
		Status:         "verified",
	}

	f := &outboundFixture{
		tickets:        &outboundTickets{ticket: ticket},
		identities:     &fakeIdentities{identity: identity},
		messages:       &outboundMessages{},
		jobs:           &fakeJobs{},
		organizationID: organizationID,
		ticket:         ticket,
		identity:       identity,
	}
	f.svc = NewOutboundService(f.tickets, f.identities, f.messages, f.jobs)
	return f
}

func (f *outboundFixture) input() ReplyInput {
	return ReplyInput{
		TicketID:       f.ticket.ID,
		SendIdentityID: f.identity.ID,
		ToEmails:       []string{" Alice@Example.com ", "alice@example.com", "bob@example.com"},
		Subject:        "Re: Printer is on fire",
		BodyText:       "We are on it.",
	}
}

func TestQueueReply(t *testing.T) {
	f := newOutboundFixture()

	reply, err := f.svc.QueueReply(context.Background(), f.organizationID, f.input())
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.NotNil(t, reply.JobID)

	msg := f.messages.canonical
	require.NotNil(t, msg)
	assert.Equal(t, domain.DirectionOutbound, msg.Direction)
	require.NotNil(t, msg.OSSMessageID)
	assert.Equal(t, fmt.Sprintf("<oss-%s@outbound.oss-ticketing.local>", msg.OSSMessageID), msg.RFCMessageID)
	assert.Len(t, msg.FingerprintV1, 32)
	assert.Len(t, msg.SignatureV1, 32)

	content := f.messages.inserted
	require.NotNil(t, content)
	assert.Equal(t, 1, content.ContentVersion)
	assert.Equal(t, "support@acme.test", content.FromEmail)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, content.ToEmails, "recipients dedupe and lowercase")
	assert.Equal(t, []string{"ticket+tkt-abc123@reply.oss-ticketing.local"}, content.ReplyToEmails)
	assert.Equal(t, "We are on it.", content.Snippet)

	var headers map[string][]string
	require.NoError(t, json.Unmarshal(content.HeadersJSON, &headers))
	assert.Equal(t, []string{"Acme Support <Support@Acme.Test>"}, headers["From"])
	assert.Equal(t, []string{f.ticket.ID.String()}, headers[OSSTicketIDHeader])
	assert.Equal(t, []string{msg.OSSMessageID.String()}, headers["X-OSS-Message-ID"])

	link := f.tickets.linked
	require.NotNil(t, link)
	assert.Equal(t, domain.StitchReasonOutbound, link.StitchReason)
	assert.Equal(t, domain.ConfidenceHigh, link.StitchConfidence)
	assert.True(t, f.tickets.touched)

	require.Len(t, f.tickets.events, 1)
	assert.Equal(t, domain.EventOutboundQueued, f.tickets.events[0].EventType)

	require.Len(t, f.jobs.enqueued, 1)
	job := f.jobs.enqueued[0]
	assert.Equal(t, domain.JobOutboundSend, job.Type)
	assert.Equal(t, fmt.Sprintf("outbound_send:%s", reply.MessageID), job.DedupeKey)
	assert.Equal(t, "We are on it.", job.Payload["body_text"])
}

func TestQueueReplyValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(f *outboundFixture, in *ReplyInput)
		wantCode string
	}{
		{
			name:     "unknown ticket",
			mutate:   func(f *outboundFixture, in *ReplyInput) { in.TicketID = uuid.New() },
			wantCode: apperr.CodeNotFound,
		},
		{
			name:     "unknown identity",
			mutate:   func(f *outboundFixture, in *ReplyInput) { in.SendIdentityID = uuid.New() },
			wantCode: apperr.CodeNotFound,
		},
		{
			name:     "unverified identity",
			mutate:   func(f *outboundFixture, in *ReplyInput) { f.identity.Status = "pending" },
			wantCode: apperr.CodeConflict,
		},
		{
			name:     "empty recipients",
			mutate:   func(f *outboundFixture, in *ReplyInput) { in.ToEmails = nil },
			wantCode: apperr.CodeValidationFailed,
		},
		{
			name:     "malformed recipient",
			mutate:   func(f *outboundFixture, in *ReplyInput) { in.ToEmails = []string{"not-an-address"} },
			wantCode: apperr.CodeInvalidInput,
		},
		{
			name:     "empty body",
			mutate:   func(f *outboundFixture, in *ReplyInput) { in.BodyText = "   " },
			wantCode: apperr.CodeValidationFailed,
		},
		{
			name:     "empty subject",
			mutate:   func(f *outboundFixture, in *ReplyInput) { in.Subject = "" },
			wantCode: apperr.CodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOutboundFixture()
			in := f.input()
			tt.mutate(f, &in)

			_, err := f.svc.QueueReply(context.Background(), f.organizationID, in)
			require.Error(t, err)
			var appErr *apperr.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
			assert.Nil(t, f.messages.canonical, "nothing persists on rejection")
		})
	}
}

func TestMarkSent(t *testing.T) {
	f := newOutboundFixture()
	messageID := uuid.New()
	f.messages.stored = &domain.Message{ID: messageID, Direction: domain.DirectionOutbound}

	err := f.svc.MarkSent(context.Background(), f.organizationID, f.ticket.ID, messageID, f.identity.ID.String(), []string{"alice@example.com"}, nil)
	require.NoError(t, err)

	require.Len(t, f.tickets.events, 1)
	assert.Equal(t, domain.EventOutboundSent, f.tickets.events[0].EventType)
}

func TestMarkSentIdempotent(t *testing.T) {
	f := newOutboundFixture()
	messageID := uuid.New()
	f.messages.stored = &domain.Message{ID: messageID, Direction: domain.DirectionOutbound}
	f.tickets.sent = true

	err := f.svc.MarkSent(context.Background(), f.organizationID, f.ticket.ID, messageID, f.identity.ID.String(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, f.tickets.events)
}

func TestMarkSentGuards(t *testing.T) {
	t.Run("missing message", func(t *testing.T) {
		f := newOutboundFixture()
		err := f.svc.MarkSent(context.Background(), f.organizationID, f.ticket.ID, uuid.New(), "", nil, nil)
		assert.True(t, apperr.IsPermanent(err))
	})

	t.Run("inbound message", func(t *testing.T) {
		f := newOutboundFixture()
		messageID := uuid.New()
		f.messages.stored = &domain.Message{ID: messageID, Direction: domain.DirectionInbound}
		err := f.svc.MarkSent(context.Background(), f.organizationID, f.ticket.ID, messageID, "", nil, nil)
		assert.True(t, apperr.IsPermanent(err))
	})
}
