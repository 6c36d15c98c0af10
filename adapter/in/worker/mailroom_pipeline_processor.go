package worker

import (
	"context"
	"encoding/base64"

	"mailroom_server/core/port/out"
	"mailroom_server/core/service/ingest"
	"mailroom_server/pkg/logger"
)

// PipelineProcessor handles the raw-fetch and parse stages plus the
// collision group backfill.
type PipelineProcessor struct {
	pipeline *ingest.Pipeline
}

func NewPipelineProcessor(pipeline *ingest.Pipeline) *PipelineProcessor {
	return &PipelineProcessor{pipeline: pipeline}
}

func (p *PipelineProcessor) ProcessFetchRaw(ctx context.Context, job *out.ClaimedJob) error {
	payload, err := ParsePayload[occurrencePayload](job)
	if err != nil {
		return err
	}
	occurrenceID, err := requireUUID(payload.OccurrenceID, "occurrence_id")
	if err != nil {
		return err
	}

	// An undecodable payload is treated like a missing one; the stage
	// parks the occurrence instead of retrying.
	raw, err := base64.StdEncoding.DecodeString(payload.RawEMLBase64)
	if err != nil {
		raw = nil
	}

	return p.pipeline.FetchRaw(ctx, occurrenceID, raw)
}

func (p *PipelineProcessor) ProcessParse(ctx context.Context, job *out.ClaimedJob) error {
	payload, err := ParsePayload[occurrencePayload](job)
	if err != nil {
		return err
	}
	occurrenceID, err := requireUUID(payload.OccurrenceID, "occurrence_id")
	if err != nil {
		return err
	}
	return p.pipeline.Parse(ctx, occurrenceID)
}

func (p *PipelineProcessor) ProcessCollisionBackfill(ctx context.Context, job *out.ClaimedJob) error {
	payload, err := ParsePayload[collisionBackfillPayload](job)
	if err != nil {
		return err
	}
	organizationID, err := requireUUID(payload.OrganizationID, "organization_id")
	if err != nil {
		return err
	}

	updated, err := p.pipeline.RebuildCollisions(ctx, organizationID)
	if err != nil {
		return err
	}
	logger.WithJob(job.ID.String(), job.Type).
		Info("collision backfill touched %d fingerprint sets", updated)
	return nil
}
