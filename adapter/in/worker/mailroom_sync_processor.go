package worker

import (
	"context"
	"time"

	"mailroom_server/core/port/out"
	sync "mailroom_server/core/service/sync"
	"mailroom_server/pkg/logger"
)

// SyncProcessor handles mailbox backfill and incremental sync jobs.
type SyncProcessor struct {
	svc *sync.Service
}

func NewSyncProcessor(svc *sync.Service) *SyncProcessor {
	return &SyncProcessor{svc: svc}
}

func (p *SyncProcessor) ProcessBackfill(ctx context.Context, job *out.ClaimedJob) error {
	payload, err := ParsePayload[mailboxSyncPayload](job)
	if err != nil {
		return err
	}
	organizationID, err := requireUUID(payload.OrganizationID, "organization_id")
	if err != nil {
		return err
	}
	mailboxID, err := requireUUID(payload.MailboxID, "mailbox_id")
	if err != nil {
		return err
	}

	logger.WithJob(job.ID.String(), job.Type).
		WithMailbox(mailboxID.String()).
		Info("starting mailbox backfill (reason: %s)", payload.Reason)

	return p.svc.Backfill(ctx, organizationID, mailboxID)
}

func (p *SyncProcessor) ProcessHistorySync(ctx context.Context, job *out.ClaimedJob) error {
	payload, err := ParsePayload[mailboxSyncPayload](job)
	if err != nil {
		return err
	}
	organizationID, err := requireUUID(payload.OrganizationID, "organization_id")
	if err != nil {
		return err
	}
	mailboxID, err := requireUUID(payload.MailboxID, "mailbox_id")
	if err != nil {
		return err
	}

	return p.svc.HistorySync(ctx, organizationID, mailboxID)
}

// RecordFailure re-records the mailbox sync-error surface for a failed
// sync job; the handler's own write rolled back with the job
// transaction.
func (p *SyncProcessor) RecordFailure(ctx context.Context, job *out.ClaimedJob, jobErr error) error {
	if job.OrganizationID == nil || job.MailboxID == nil {
		return nil
	}
	return p.svc.RecordSyncError(ctx, *job.OrganizationID, *job.MailboxID, jobErr.Error())
}

// EnqueuePoll schedules the next incremental sync for the mailbox a
// history job just synced, keeping the poll loop alive.
func (p *SyncProcessor) EnqueuePoll(ctx context.Context, job *out.ClaimedJob, interval time.Duration) error {
	payload, err := ParsePayload[mailboxSyncPayload](job)
	if err != nil {
		return err
	}
	organizationID, err := requireUUID(payload.OrganizationID, "organization_id")
	if err != nil {
		return err
	}
	mailboxID, err := requireUUID(payload.MailboxID, "mailbox_id")
	if err != nil {
		return err
	}

	runAt := time.Now().UTC().Add(interval)
	return p.svc.EnqueueHistorySync(ctx, organizationID, mailboxID, "poll_loop", &runAt)
}
