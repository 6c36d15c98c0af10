package tickets

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
)

// The fakes embed the port interface so only the methods a scenario
// touches need implementations.

type fakeOccurrences struct {
	out.OccurrenceRepository
	occ *domain.MessageOccurrence

	stitchedTicket *uuid.UUID
	failedMessage  string
}

func (f *fakeOccurrences) GetLocked(ctx context.Context, id uuid.UUID) (*domain.MessageOccurrence, error) {
	if f.occ == nil || f.occ.ID != id {
		return nil, nil
	}
	return f.occ, nil
}

func (f *fakeOccurrences) MarkStitched(ctx context.Context, id, ticketID uuid.UUID) error {
	f.stitchedTicket = &ticketID
	return nil
}

func (f *fakeOccurrences) MarkStitchFailed(ctx context.Context, id uuid.UUID, message string) error {
	f.failedMessage = message
	return nil
}

type fakeMessages struct {
	out.MessageRepository
	content    *domain.MessageContent
	threadRefs []*domain.MessageThreadRef
	byRFCID    map[string]uuid.UUID
}

func (f *fakeMessages) GetLatestContent(ctx context.Context, organizationID, messageID uuid.UUID) (*domain.MessageContent, error) {
	return f.content, nil
}

func (f *fakeMessages) ListThreadRefs(ctx context.Context, organizationID, messageID uuid.UUID) ([]*domain.MessageThreadRef, error) {
	return f.threadRefs, nil
}

func (f *fakeMessages) FindMessageByRFCID(ctx context.Context, organizationID uuid.UUID, rfcMessageID string) (*uuid.UUID, error) {
	if id, ok := f.byRFCID[rfcMessageID]; ok {
		return &id, nil
	}
	return nil, nil
}

type fakeTickets struct {
	out.TicketRepository
	byMessage map[uuid.UUID]uuid.UUID
	byCode    map[string]uuid.UUID
	existing  map[uuid.UUID]bool

	created *domain.Ticket
	linked  *domain.TicketMessage
	touched bool
}

func (f *fakeTickets) FindTicketIDByMessage(ctx context.Context, organizationID, messageID uuid.UUID) (*uuid.UUID, error) {
	if id, ok := f.byMessage[messageID]; ok {
		return &id, nil
	}
	return nil, nil
}

func (f *fakeTickets) FindTicketIDByCode(ctx context.Context, organizationID uuid.UUID, ticketCode string) (*uuid.UUID, error) {
	if id, ok := f.byCode[ticketCode]; ok {
		return &id, nil
	}
	return nil, nil
}

func (f *fakeTickets) TicketExists(ctx context.Context, organizationID, ticketID uuid.UUID) (bool, error) {
	return f.existing[ticketID], nil
}

func (f *fakeTickets) CreateTicket(ctx context.Context, t *domain.Ticket) (uuid.UUID, error) {
	f.created = t
	if t.ID != uuid.Nil {
		return t.ID, nil
	}
	return uuid.New(), nil
}

func (f *fakeTickets) LinkMessage(ctx context.Context, link *domain.TicketMessage) error {
	f.linked = link
	return nil
}

func (f *fakeTickets) TouchActivity(ctx context.Context, organizationID, ticketID uuid.UUID) error {
	f.touched = true
	return nil
}

type fakeJobs struct {
	out.JobRepository
	enqueued []out.EnqueueParams
}

func (f *fakeJobs) Enqueue(ctx context.Context, params out.EnqueueParams) (*uuid.UUID, error) {
	f.enqueued = append(f.enqueued, params)
	id := uuid.New()
	return &id, nil
}

type stitchFixture struct {
	occurrences *fakeOccurrences
	messages    *fakeMessages
	tickets     *fakeTickets
	jobs        *fakeJobs
	svc         *StitchService

	occID     uuid.UUID
	messageID uuid.UUID
}

func newStitchFixture(content *domain.MessageContent) *stitchFixture {
	occID := uuid.New()
	messageID := uuid.New()
	f := &stitchFixture{
		occurrences: &fakeOccurrences{occ: &domain.MessageOccurrence{
			ID:             occID,
			OrganizationID: uuid.New(),
			MailboxID:      uuid.New(),
			State:          domain.OccurrenceParsed,
			MessageID:      &messageID,
		}},
		messages: &fakeMessages{content: content, byRFCID: map[string]uuid.UUID{}},
		tickets: &fakeTickets{
			byMessage: map[uuid.UUID]uuid.UUID{},
			byCode:    map[string]uuid.UUID{},
			existing:  map[uuid.UUID]bool{},
		},
		jobs:      &fakeJobs{},
		occID:     occID,
		messageID: messageID,
	}
	f.svc = NewStitchService(f.occurrences, f.messages, f.tickets, f.jobs)
	return f
}

func baseContent() *domain.MessageContent {
	return &domain.MessageContent{
		Subject:     "Printer is on fire",
		SubjectNorm: "Printer is on fire",
		FromEmail:   "alice@example.com",
		FromName:    "Alice",
	}
}

func TestStitchPinnedHeaderExistingTicket(t *testing.T) {
	pinned := uuid.New()
	content := baseContent()
	content.HeadersJSON = []byte(fmt.Sprintf(`{"X-OSS-Ticket-ID":[%q]}`, pinned))

	f := newStitchFixture(content)
	f.tickets.existing[pinned] = true

	require.NoError(t, f.svc.Stitch(context.Background(), f.occID))

	assert.Nil(t, f.tickets.created, "existing pinned ticket must not be recreated")
	require.NotNil(t, f.tickets.linked)
	assert.Equal(t, pinned, f.tickets.linked.TicketID)
	assert.Equal(t, domain.StitchReasonOSSTicketID, f.tickets.linked.StitchReason)
	assert.Equal(t, domain.ConfidenceHigh, f.tickets.linked.StitchConfidence)
	require.NotNil(t, f.occurrences.stitchedTicket)
	assert.Equal(t, pinned, *f.occurrences.stitchedTicket)
}

func TestStitchPinnedHeaderCreatesMissingTicket(t *testing.T) {
	pinned := uuid.New()
	content := baseContent()
	content.HeadersJSON = []byte(fmt.Sprintf(`{"X-OSS-Ticket-ID":[%q]}`, pinned))

	f := newStitchFixture(content)

	require.NoError(t, f.svc.Stitch(context.Background(), f.occID))

	require.NotNil(t, f.tickets.created)
	assert.Equal(t, pinned, f.tickets.created.ID, "pinned id is honored on create")
	assert.Equal(t, domain.StitchReasonOSSTicketID, f.tickets.created.StitchReason)
	require.NotNil(t, f.tickets.linked)
	assert.Equal(t, pinned, f.tickets.linked.TicketID)
}

func TestStitchReplyToToken(t *testing.T) {
	ticketID := uuid.New()
	content := baseContent()
	content.ReplyToEmails = []string{"Ticket+tkt-abc123@reply.oss-ticketing.local"}

	f := newStitchFixture(content)
	f.tickets.byCode["tkt-abc123"] = ticketID

	require.NoError(t, f.svc.Stitch(context.Background(), f.occID))

	assert.Nil(t, f.tickets.created)
	require.NotNil(t, f.tickets.linked)
	assert.Equal(t, ticketID, f.tickets.linked.TicketID)
	assert.Equal(t, domain.StitchReasonReplyToToken, f.tickets.linked.StitchReason)
	assert.Equal(t, domain.ConfidenceHigh, f.tickets.linked.StitchConfidence)
}

func TestStitchThreading(t *testing.T) {
	ticketID := uuid.New()
	parentMessageID := uuid.New()
	content := baseContent()

	f := newStitchFixture(content)
	f.messages.threadRefs = []*domain.MessageThreadRef{
		{RefType: domain.ThreadRefInReplyTo, RefRFCMessageID: "<unknown@x>"},
		{RefType: domain.ThreadRefReferences, RefRFCMessageID: "<parent@x>"},
	}
	f.messages.byRFCID["<parent@x>"] = parentMessageID
	f.tickets.byMessage[parentMessageID] = ticketID

	require.NoError(t, f.svc.Stitch(context.Background(), f.occID))

	require.NotNil(t, f.tickets.linked)
	assert.Equal(t, ticketID, f.tickets.linked.TicketID)
	assert.Equal(t, domain.StitchReasonThreading, f.tickets.linked.StitchReason)
	assert.Equal(t, domain.ConfidenceMedium, f.tickets.linked.StitchConfidence)
}

func TestStitchFallbackNewTicket(t *testing.T) {
	f := newStitchFixture(baseContent())

	require.NoError(t, f.svc.Stitch(context.Background(), f.occID))

	require.NotNil(t, f.tickets.created)
	assert.Equal(t, uuid.Nil, f.tickets.created.ID, "database generates the id")
	assert.Equal(t, domain.StitchReasonNewMessage, f.tickets.created.StitchReason)
	assert.Equal(t, "Printer is on fire", f.tickets.created.Subject)
	assert.Equal(t, "alice@example.com", f.tickets.created.RequesterEmail)
	require.NotNil(t, f.tickets.created.FirstMessageAt)

	require.NotNil(t, f.tickets.linked)
	assert.Equal(t, domain.StitchReasonNewTicket, f.tickets.linked.StitchReason)
	assert.Equal(t, domain.ConfidenceLow, f.tickets.linked.StitchConfidence)
	assert.True(t, f.tickets.touched)

	require.Len(t, f.jobs.enqueued, 1)
	job := f.jobs.enqueued[0]
	assert.Equal(t, domain.JobTicketApplyRouting, job.Type)
	assert.Equal(t, fmt.Sprintf("ticket_apply_routing:%s", f.occID), job.DedupeKey)
	assert.Equal(t, f.occID.String(), job.Payload["occurrence_id"])
}

func TestStitchAlreadyLinkedMessage(t *testing.T) {
	ticketID := uuid.New()
	f := newStitchFixture(baseContent())
	f.tickets.byMessage[f.messageID] = ticketID

	require.NoError(t, f.svc.Stitch(context.Background(), f.occID))

	assert.Nil(t, f.tickets.created)
	assert.Nil(t, f.tickets.linked, "re-runs reuse the first link")
	require.NotNil(t, f.occurrences.stitchedTicket)
	assert.Equal(t, ticketID, *f.occurrences.stitchedTicket)
	assert.Len(t, f.jobs.enqueued, 1, "routing still runs")
}

func TestStitchMissingMessageID(t *testing.T) {
	f := newStitchFixture(baseContent())
	f.occurrences.occ.MessageID = nil

	require.NoError(t, f.svc.Stitch(context.Background(), f.occID))

	assert.Equal(t, "missing message_id", f.occurrences.failedMessage)
	assert.Nil(t, f.occurrences.stitchedTicket)
}

func TestStitchMissingContent(t *testing.T) {
	f := newStitchFixture(nil)

	require.NoError(t, f.svc.Stitch(context.Background(), f.occID))

	assert.Equal(t, "missing message content", f.occurrences.failedMessage)
}

func TestStitchSkipsCompletedOccurrence(t *testing.T) {
	ticketID := uuid.New()
	f := newStitchFixture(baseContent())
	f.occurrences.occ.State = domain.OccurrenceStitched
	f.occurrences.occ.TicketID = &ticketID

	require.NoError(t, f.svc.Stitch(context.Background(), f.occID))

	assert.Nil(t, f.occurrences.stitchedTicket)
	assert.Empty(t, f.jobs.enqueued)
}

func TestReplyToTokenPattern(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"ticket+tkt-abc123@reply.oss-ticketing.local", "tkt-abc123"},
		{"ticket+tkt-a1-b2@anything.test", "tkt-a1-b2"},
		{"support@acme.test", ""},
		{"ticket@reply.test", ""},
		{"prefix-ticket+tkt-x@reply.test", ""},
	}

	for _, tt := range tests {
		m := replyToTokenRE.FindStringSubmatch(tt.addr)
		if tt.want == "" {
			assert.Nil(t, m, tt.addr)
			continue
		}
		require.NotNil(t, m, tt.addr)
		assert.Equal(t, tt.want, m[1])
	}
}

var ticketCodeRE = regexp.MustCompile(`^tkt-[a-z2-7]{16}$`)

func TestNewTicketCode(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		code, err := NewTicketCode()
		require.NoError(t, err)
		assert.Regexp(t, ticketCodeRE, code)
		_, dup := seen[code]
		assert.False(t, dup, "codes must not repeat: %s", code)
		seen[code] = struct{}{}
	}
}
