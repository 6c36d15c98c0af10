package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
)

type fakeMailboxes struct {
	out.MailboxRepository
	mailbox    *domain.Mailbox
	syncErrors []string
	updated    *domain.Mailbox
}

func (f *fakeMailboxes) GetForSyncLocked(ctx context.Context, organizationID, mailboxID uuid.UUID) (*domain.Mailbox, error) {
	return f.mailbox, nil
}

func (f *fakeMailboxes) SetSyncError(ctx context.Context, organizationID, mailboxID uuid.UUID, message string) error {
	f.syncErrors = append(f.syncErrors, message)
	return nil
}

func (f *fakeMailboxes) UpdateSyncState(ctx context.Context, mailbox *domain.Mailbox) error {
	f.updated = mailbox
	return nil
}

type fakeOccurrences struct {
	out.OccurrenceRepository
	upserted []*domain.MessageOccurrence
}

func (f *fakeOccurrences) Upsert(ctx context.Context, occ *domain.MessageOccurrence) (uuid.UUID, error) {
	f.upserted = append(f.upserted, occ)
	return uuid.New(), nil
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

type fakeProvider struct {
	out.MailProvider
	listErr        error
	listHistoryErr error
}

func (f *fakeProvider) ListMessages(ctx context.Context, pageToken string) (*out.MessagePage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &out.MessagePage{}, nil
}

func (f *fakeProvider) ListHistory(ctx context.Context, startHistoryID int64, pageToken string) (*out.HistoryPage, error) {
	if f.listHistoryErr != nil {
		return nil, f.listHistoryErr
	}
	return &out.HistoryPage{HistoryID: startHistoryID}, nil
}

type fakeProviderFactory struct {
	provider out.MailProvider
}

func (f *fakeProviderFactory) ForMailbox(ctx context.Context, mailbox *domain.Mailbox) (out.MailProvider, error) {
	return f.provider, nil
}

type syncFixture struct {
	mailboxes   *fakeMailboxes
	occurrences *fakeOccurrences
	jobs        *fakeJobs
	provider    *fakeProvider
	svc         *Service
	orgID       uuid.UUID
	mailboxID   uuid.UUID
}

func newSyncFixture(historyID *int64) *syncFixture {
	orgID := uuid.New()
	mailboxID := uuid.New()
	f := &syncFixture{
		mailboxes: &fakeMailboxes{
			mailbox: &domain.Mailbox{
				ID:             mailboxID,
				OrganizationID: orgID,
				IsEnabled:      true,
				GmailHistoryID: historyID,
			},
		},
		occurrences: &fakeOccurrences{},
		jobs:        &fakeJobs{},
		provider:    &fakeProvider{},
		orgID:       orgID,
		mailboxID:   mailboxID,
	}
	f.svc = NewService(f.mailboxes, f.occurrences, f.jobs, &fakeProviderFactory{provider: f.provider})
	return f
}

func TestBackfillProviderFailure(t *testing.T) {
	f := newSyncFixture(nil)
	f.provider.listErr = apperr.ProviderError(429, "rate limited")

	err := f.svc.Backfill(context.Background(), f.orgID, f.mailboxID)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Gmail backfill failed (429)")
	assert.Contains(t, f.mailboxes.syncErrors, "Gmail backfill failed (429)")
	assert.False(t, apperr.IsPermanent(err), "provider failures retry with backoff")
}

func TestHistorySyncProviderFailure(t *testing.T) {
	watermark := int64(100)
	f := newSyncFixture(&watermark)
	f.provider.listHistoryErr = apperr.ProviderError(503, "upstream down")

	err := f.svc.HistorySync(context.Background(), f.orgID, f.mailboxID)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Gmail incremental sync failed (503)")
	assert.Contains(t, f.mailboxes.syncErrors, "Gmail incremental sync failed (503)")
}

func TestHistorySyncExpiredHistoryQueuesBackfill(t *testing.T) {
	watermark := int64(100)
	f := newSyncFixture(&watermark)
	f.provider.listHistoryErr = apperr.HistoryExpired("history id too old")

	require.NoError(t, f.svc.HistorySync(context.Background(), f.orgID, f.mailboxID))

	assert.Contains(t, f.mailboxes.syncErrors, "Gmail history is invalid/expired; queued full backfill")
	require.Len(t, f.jobs.enqueued, 1)
	assert.Equal(t, domain.JobMailboxBackfill, f.jobs.enqueued[0].Type)
	assert.Equal(t, fmt.Sprintf("%s:%s", domain.JobMailboxBackfill, f.mailboxID), f.jobs.enqueued[0].DedupeKey)
}

func TestHistorySyncMissingWatermarkQueuesBackfill(t *testing.T) {
	f := newSyncFixture(nil)

	require.NoError(t, f.svc.HistorySync(context.Background(), f.orgID, f.mailboxID))

	assert.Contains(t, f.mailboxes.syncErrors, "No gmail_history_id; queued full backfill")
	require.Len(t, f.jobs.enqueued, 1)
	assert.Equal(t, domain.JobMailboxBackfill, f.jobs.enqueued[0].Type)
}

func TestRecordSyncError(t *testing.T) {
	f := newSyncFixture(nil)

	require.NoError(t, f.svc.RecordSyncError(context.Background(), f.orgID, f.mailboxID, "Gmail backfill failed (503): upstream"))

	assert.Equal(t, []string{"Gmail backfill failed (503): upstream"}, f.mailboxes.syncErrors)
}
