package out

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueueParams describes one job to add to the durable queue.
// Payload is encoded canonically before insert so identical work
// always produces identical rows.
type EnqueueParams struct {
	Type           string
	OrganizationID *uuid.UUID
	MailboxID      *uuid.UUID
	Payload        map[string]any
	DedupeKey      string
	RunAt          *time.Time
}

// ClaimedJob is the slice of a bg_jobs row a handler needs.
type ClaimedJob struct {
	ID             uuid.UUID
	OrganizationID *uuid.UUID
	MailboxID      *uuid.UUID
	Type           string
	Payload        []byte
	Attempts       int
	MaxAttempts    int
}

// JobRepository is the durable queue. Enqueue returns nil without
// error when the dedupe key suppressed the insert.
type JobRepository interface {
	Enqueue(ctx context.Context, params EnqueueParams) (*uuid.UUID, error)

	// FindByDedupeKey resolves the job an Enqueue collided with.
	FindByDedupeKey(ctx context.Context, organizationID uuid.UUID, jobType, dedupeKey string) (*uuid.UUID, error)

	// Claim locks and returns the oldest runnable job, or nil when
	// the queue is empty.
	Claim(ctx context.Context, workerID string) (*ClaimedJob, error)

	MarkSucceeded(ctx context.Context, jobID uuid.UUID) error

	// MarkFailed increments attempts and either requeues with backoff
	// or fails the job terminally. Repeated sync failures trip the
	// mailbox circuit breaker as a side effect.
	MarkFailed(ctx context.Context, job *ClaimedJob, jobErr error) error
}
