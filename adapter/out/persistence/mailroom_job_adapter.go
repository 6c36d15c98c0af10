package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
	"mailroom_server/pkg/canonical"
)

// =============================================================================
// JobAdapter - durable bg_jobs queue over Postgres
// =============================================================================

// Sync job types that trip the mailbox circuit breaker when they fail
// repeatedly.
const breakerAttemptThreshold = 5

const breakerPauseSeconds = 900

type JobAdapter struct {
	db          sqlx.ExtContext
	maxAttempts int
}

func NewJobAdapter(db sqlx.ExtContext, maxAttempts int) *JobAdapter {
	if maxAttempts <= 0 {
		maxAttempts = 25
	}
	return &JobAdapter{db: db, maxAttempts: maxAttempts}
}

// =============================================================================
// Enqueue
// =============================================================================

const enqueueJobQuery = `
INSERT INTO bg_jobs (
  organization_id,
  mailbox_id,
  type,
  status,
  run_at,
  attempts,
  max_attempts,
  dedupe_key,
  payload,
  created_at,
  updated_at
)
VALUES ($1, $2, $3, 'queued', COALESCE($4, now()), 0, $5, $6, CAST($7 AS jsonb), now(), now())
ON CONFLICT DO NOTHING
RETURNING id`

func (a *JobAdapter) Enqueue(ctx context.Context, params out.EnqueueParams) (*uuid.UUID, error) {
	payload, err := canonical.JSON(params.Payload)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}

	var id uuid.UUID
	err = sqlx.GetContext(ctx, a.db, &id, enqueueJobQuery,
		toNullableUUID(params.OrganizationID),
		toNullableUUID(params.MailboxID),
		params.Type,
		toNullableTime(params.RunAt),
		a.maxAttempts,
		toNullableString(params.DedupeKey),
		string(payload),
	)
	if err != nil {
		if isNoRows(err) {
			// Dedupe key collision, an equivalent job is already queued
			// or running.
			return nil, nil
		}
		return nil, apperr.DatabaseError("enqueue job", err)
	}
	return &id, nil
}

const findByDedupeKeyQuery = `
SELECT id
FROM bg_jobs
WHERE organization_id = $1
  AND type = $2
  AND dedupe_key = $3
ORDER BY created_at DESC
LIMIT 1`

func (a *JobAdapter) FindByDedupeKey(ctx context.Context, organizationID uuid.UUID, jobType, dedupeKey string) (*uuid.UUID, error) {
	var id uuid.UUID
	err := sqlx.GetContext(ctx, a.db, &id, findByDedupeKeyQuery, organizationID, jobType, dedupeKey)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("find job by dedupe key", err)
	}
	return &id, nil
}

// =============================================================================
// Claim
// =============================================================================

type claimedJobEntity struct {
	ID             uuid.UUID     `db:"id"`
	OrganizationID uuid.NullUUID `db:"organization_id"`
	MailboxID      uuid.NullUUID `db:"mailbox_id"`
	Type           string        `db:"type"`
	Payload        []byte        `db:"payload"`
	Attempts       int           `db:"attempts"`
	MaxAttempts    int           `db:"max_attempts"`
}

const claimJobQuery = `
WITH next_job AS (
  SELECT id
  FROM bg_jobs
  WHERE status = 'queued'
    AND run_at <= now()
  ORDER BY run_at ASC
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
UPDATE bg_jobs
SET status = 'running',
    locked_at = now(),
    locked_by = $1,
    updated_at = now()
WHERE id IN (SELECT id FROM next_job)
RETURNING id, organization_id, mailbox_id, type, payload, attempts, max_attempts`

func (a *JobAdapter) Claim(ctx context.Context, workerID string) (*out.ClaimedJob, error) {
	var entity claimedJobEntity
	err := sqlx.GetContext(ctx, a.db, &entity, claimJobQuery, workerID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError("claim job", err)
	}
	return &out.ClaimedJob{
		ID:             entity.ID,
		OrganizationID: fromNullableUUID(entity.OrganizationID),
		MailboxID:      fromNullableUUID(entity.MailboxID),
		Type:           entity.Type,
		Payload:        entity.Payload,
		Attempts:       entity.Attempts,
		MaxAttempts:    entity.MaxAttempts,
	}, nil
}

// =============================================================================
// Completion
// =============================================================================

const markSucceededQuery = `
UPDATE bg_jobs
SET status = 'succeeded',
    locked_at = NULL,
    locked_by = NULL,
    last_error = NULL,
    updated_at = now()
WHERE id = $1`

func (a *JobAdapter) MarkSucceeded(ctx context.Context, jobID uuid.UUID) error {
	if _, err := a.db.ExecContext(ctx, markSucceededQuery, jobID); err != nil {
		return apperr.DatabaseError("mark job succeeded", err)
	}
	return nil
}

const lockJobAttemptsQuery = `
SELECT attempts, max_attempts
FROM bg_jobs
WHERE id = $1
FOR UPDATE`

const markFailedTerminalQuery = `
UPDATE bg_jobs
SET status = 'failed',
    attempts = $2,
    last_error = $3,
    locked_at = NULL,
    locked_by = NULL,
    updated_at = now()
WHERE id = $1`

const requeueJobQuery = `
UPDATE bg_jobs
SET status = 'queued',
    attempts = $2,
    last_error = $3,
    run_at = now() + make_interval(secs => $4),
    locked_at = NULL,
    locked_by = NULL,
    updated_at = now()
WHERE id = $1`

const pauseMailboxQuery = `
UPDATE mailboxes
SET ingestion_paused_until = now() + make_interval(secs => $3),
    ingestion_pause_reason = $4,
    last_sync_error = $5,
    updated_at = now()
WHERE organization_id = $1
  AND id = $2`

func (a *JobAdapter) MarkFailed(ctx context.Context, job *out.ClaimedJob, jobErr error) error {
	var counts struct {
		Attempts    int `db:"attempts"`
		MaxAttempts int `db:"max_attempts"`
	}
	if err := sqlx.GetContext(ctx, a.db, &counts, lockJobAttemptsQuery, job.ID); err != nil {
		return apperr.DatabaseError("lock failed job", err)
	}

	attempts := counts.Attempts + 1
	permanent := apperr.IsPermanent(jobErr)
	errText := jobErr.Error()

	if !permanent && a.shouldTripBreaker(job, attempts) {
		reason := fmt.Sprintf(
			"Auto-paused by sync circuit breaker after %d failed %s attempts",
			attempts, job.Type,
		)
		if _, err := a.db.ExecContext(ctx, pauseMailboxQuery,
			*job.OrganizationID, *job.MailboxID,
			breakerPauseSeconds, reason, errText,
		); err != nil {
			return apperr.DatabaseError("pause mailbox", err)
		}
		if _, err := a.db.ExecContext(ctx, markFailedTerminalQuery, job.ID, attempts, errText); err != nil {
			return apperr.DatabaseError("mark job failed", err)
		}
		return nil
	}

	if permanent || attempts >= counts.MaxAttempts {
		if _, err := a.db.ExecContext(ctx, markFailedTerminalQuery, job.ID, attempts, errText); err != nil {
			return apperr.DatabaseError("mark job failed", err)
		}
		return nil
	}

	backoff := domain.RetryBackoff(attempts).Seconds()
	if _, err := a.db.ExecContext(ctx, requeueJobQuery, job.ID, attempts, errText, backoff); err != nil {
		return apperr.DatabaseError("requeue job", err)
	}
	return nil
}

func (a *JobAdapter) shouldTripBreaker(job *out.ClaimedJob, attempts int) bool {
	if job.OrganizationID == nil || job.MailboxID == nil {
		return false
	}
	if job.Type != domain.JobMailboxBackfill && job.Type != domain.JobMailboxHistorySync {
		return false
	}
	return attempts >= breakerAttemptThreshold
}
