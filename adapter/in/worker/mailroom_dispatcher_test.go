package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	syncsvc "mailroom_server/core/service/sync"
	"mailroom_server/pkg/apperr"
)

type recordingMailboxes struct {
	out.MailboxRepository
	organizationID uuid.UUID
	mailboxID      uuid.UUID
	message        string
}

func (f *recordingMailboxes) SetSyncError(ctx context.Context, organizationID, mailboxID uuid.UUID, message string) error {
	f.organizationID = organizationID
	f.mailboxID = mailboxID
	f.message = message
	return nil
}

func TestProcessUnknownJobType(t *testing.T) {
	h := NewHandler(nil, nil, nil)

	err := h.Process(context.Background(), &out.ClaimedJob{ID: uuid.New(), Type: "no_such_job"})

	require.Error(t, err)
	assert.True(t, apperr.IsPermanent(err), "an unhandled job type must fail, not succeed silently")
	assert.Contains(t, err.Error(), "no_such_job")
}

func TestRecordFailureSyncJob(t *testing.T) {
	mailboxes := &recordingMailboxes{}
	h := NewHandler(
		NewSyncProcessor(syncsvc.NewService(mailboxes, nil, nil, nil)),
		nil, nil,
	)
	orgID := uuid.New()
	mailboxID := uuid.New()
	job := &out.ClaimedJob{
		ID:             uuid.New(),
		Type:           domain.JobMailboxBackfill,
		OrganizationID: &orgID,
		MailboxID:      &mailboxID,
	}

	require.NoError(t, h.RecordFailure(context.Background(), job, errors.New("Gmail backfill failed (503): upstream down")))

	assert.Equal(t, orgID, mailboxes.organizationID)
	assert.Equal(t, mailboxID, mailboxes.mailboxID)
	assert.Equal(t, "Gmail backfill failed (503): upstream down", mailboxes.message)
}

func TestRecordFailureNonSyncJob(t *testing.T) {
	mailboxes := &recordingMailboxes{}
	h := NewHandler(
		NewSyncProcessor(syncsvc.NewService(mailboxes, nil, nil, nil)),
		nil, nil,
	)
	job := &out.ClaimedJob{ID: uuid.New(), Type: domain.JobOccurrenceParse}

	require.NoError(t, h.RecordFailure(context.Background(), job, errors.New("boom")))

	assert.Empty(t, mailboxes.message)
}

func TestRecordFailureSyncJobWithoutMailbox(t *testing.T) {
	mailboxes := &recordingMailboxes{}
	h := NewHandler(
		NewSyncProcessor(syncsvc.NewService(mailboxes, nil, nil, nil)),
		nil, nil,
	)
	job := &out.ClaimedJob{ID: uuid.New(), Type: domain.JobMailboxHistorySync}

	require.NoError(t, h.RecordFailure(context.Background(), job, errors.New("boom")))

	assert.Empty(t, mailboxes.message)
}
