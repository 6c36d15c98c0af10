package worker

import (
	"context"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
	"mailroom_server/pkg/logger"
)

// Handler routes one claimed job to its processor. All processors
// share the job's transaction; the runner commits or rolls back as a
// unit.
type Handler struct {
	syncProcessor     *SyncProcessor
	pipelineProcessor *PipelineProcessor
	ticketProcessor   *TicketProcessor
}

func NewHandler(
	syncProcessor *SyncProcessor,
	pipelineProcessor *PipelineProcessor,
	ticketProcessor *TicketProcessor,
) *Handler {
	return &Handler{
		syncProcessor:     syncProcessor,
		pipelineProcessor: pipelineProcessor,
		ticketProcessor:   ticketProcessor,
	}
}

func (h *Handler) Process(ctx context.Context, job *out.ClaimedJob) error {
	logger.WithJob(job.ID.String(), job.Type).Debug("processing job")

	switch job.Type {
	// Mailbox sync jobs
	case domain.JobMailboxBackfill:
		return h.syncProcessor.ProcessBackfill(ctx, job)
	case domain.JobMailboxHistorySync:
		return h.syncProcessor.ProcessHistorySync(ctx, job)

	// Occurrence pipeline jobs
	case domain.JobOccurrenceFetchRaw:
		return h.pipelineProcessor.ProcessFetchRaw(ctx, job)
	case domain.JobOccurrenceParse:
		return h.pipelineProcessor.ProcessParse(ctx, job)
	case domain.JobCollisionBackfill:
		return h.pipelineProcessor.ProcessCollisionBackfill(ctx, job)

	// Ticket jobs
	case domain.JobOccurrenceStitch:
		return h.ticketProcessor.ProcessStitch(ctx, job)
	case domain.JobTicketApplyRouting:
		return h.ticketProcessor.ProcessApplyRouting(ctx, job)
	case domain.JobOutboundSend:
		return h.ticketProcessor.ProcessOutboundSend(ctx, job)

	default:
		return apperr.PermanentJobf("unknown job type: %s", job.Type)
	}
}

// RecordFailure runs in the failure transaction, after the job's own
// work has rolled back, to persist what a failed job must still
// surface. Sync jobs re-record the mailbox sync error.
func (h *Handler) RecordFailure(ctx context.Context, job *out.ClaimedJob, jobErr error) error {
	switch job.Type {
	case domain.JobMailboxBackfill, domain.JobMailboxHistorySync:
		return h.syncProcessor.RecordFailure(ctx, job, jobErr)
	default:
		return nil
	}
}
