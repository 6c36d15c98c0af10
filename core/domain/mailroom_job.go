package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Job types carried in bg_jobs.type.
const (
	JobMailboxBackfill    = "mailbox_backfill"
	JobMailboxHistorySync = "mailbox_history_sync"
	JobOccurrenceFetchRaw = "occurrence_fetch_raw"
	JobOccurrenceParse    = "occurrence_parse"
	JobOccurrenceStitch   = "occurrence_stitch"
	JobTicketApplyRouting = "ticket_apply_routing"
	JobOutboundSend       = "outbound_send"
	JobCollisionBackfill  = "collision_backfill"
)

// BgJob is one row of the durable work queue.
type BgJob struct {
	ID             uuid.UUID
	OrganizationID *uuid.UUID
	MailboxID      *uuid.UUID

	Type   string
	Status JobStatus

	RunAt       time.Time
	Attempts    int
	MaxAttempts int

	LockedAt  *time.Time
	LockedBy  string
	LastError string

	DedupeKey string
	Payload   []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RetryBackoff computes the requeue delay after the given number of
// completed attempts: min(60s, 0.5 * 2^min(attempts, 8)).
func RetryBackoff(attempts int) time.Duration {
	exp := attempts
	if exp > 8 {
		exp = 8
	}
	seconds := 0.5 * math.Pow(2, float64(exp))
	if seconds > 60 {
		seconds = 60
	}
	return time.Duration(seconds * float64(time.Second))
}
