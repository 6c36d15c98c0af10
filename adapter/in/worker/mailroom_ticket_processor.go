package worker

import (
	"context"

	"mailroom_server/core/port/out"
	"mailroom_server/core/service/routing"
	"mailroom_server/core/service/tickets"
)

// TicketProcessor handles stitching, routing, and outbound send jobs.
type TicketProcessor struct {
	stitch   *tickets.StitchService
	routing  *routing.Service
	outbound *tickets.OutboundService
}

func NewTicketProcessor(stitch *tickets.StitchService, routing *routing.Service, outbound *tickets.OutboundService) *TicketProcessor {
	return &TicketProcessor{
		stitch:   stitch,
		routing:  routing,
		outbound: outbound,
	}
}

func (p *TicketProcessor) ProcessStitch(ctx context.Context, job *out.ClaimedJob) error {
	payload, err := ParsePayload[occurrencePayload](job)
	if err != nil {
		return err
	}
	occurrenceID, err := requireUUID(payload.OccurrenceID, "occurrence_id")
	if err != nil {
		return err
	}
	return p.stitch.Stitch(ctx, occurrenceID)
}

func (p *TicketProcessor) ProcessApplyRouting(ctx context.Context, job *out.ClaimedJob) error {
	payload, err := ParsePayload[occurrencePayload](job)
	if err != nil {
		return err
	}
	occurrenceID, err := requireUUID(payload.OccurrenceID, "occurrence_id")
	if err != nil {
		return err
	}
	return p.routing.Apply(ctx, occurrenceID)
}

func (p *TicketProcessor) ProcessOutboundSend(ctx context.Context, job *out.ClaimedJob) error {
	payload, err := ParsePayload[outboundSendPayload](job)
	if err != nil {
		return err
	}
	organizationID, err := requireUUID(payload.OrganizationID, "organization_id")
	if err != nil {
		return err
	}
	ticketID, err := requireUUID(payload.TicketID, "ticket_id")
	if err != nil {
		return err
	}
	messageID, err := requireUUID(payload.MessageID, "message_id")
	if err != nil {
		return err
	}

	return p.outbound.MarkSent(ctx, organizationID, ticketID, messageID,
		payload.SendIdentityID, payload.ToEmails, payload.CcEmails)
}
