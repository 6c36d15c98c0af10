package sync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
)

// =============================================================================
// Service - mailbox sync orchestration (backfill + incremental history)
// =============================================================================

type Service struct {
	mailboxes   out.MailboxRepository
	occurrences out.OccurrenceRepository
	jobs        out.JobRepository
	providers   out.MailProviderFactory
}

func NewService(
	mailboxes out.MailboxRepository,
	occurrences out.OccurrenceRepository,
	jobs out.JobRepository,
	providers out.MailProviderFactory,
) *Service {
	return &Service{
		mailboxes:   mailboxes,
		occurrences: occurrences,
		jobs:        jobs,
		providers:   providers,
	}
}

// Backfill walks the entire mailbox listing, mirrors every message as
// an occurrence, and hands each raw payload to the fetch stage. On
// success the history watermark jumps to the highest id seen and an
// incremental sync is queued to pick up anything delivered mid-walk.
//
// A mailbox that is missing, disabled, or paused is a silent no-op so
// stale queued jobs drain without noise.
func (s *Service) Backfill(ctx context.Context, organizationID, mailboxID uuid.UUID) error {
	mailbox, err := s.mailboxes.GetForSyncLocked(ctx, organizationID, mailboxID)
	if err != nil {
		return err
	}
	if mailbox == nil {
		return nil
	}

	provider, err := s.providers.ForMailbox(ctx, mailbox)
	if err != nil {
		return err
	}

	var highest int64
	if mailbox.GmailHistoryID != nil {
		highest = *mailbox.GmailHistoryID
	}

	pageToken := ""
	for {
		page, err := provider.ListMessages(ctx, pageToken)
		if err != nil {
			return s.failSync(ctx, mailbox, "Gmail backfill failed", err)
		}
		for _, ref := range page.Messages {
			raw, err := provider.GetMessageRaw(ctx, ref.ID)
			if err != nil {
				return s.failSync(ctx, mailbox, "Gmail backfill failed", err)
			}
			if err := s.ingestRawMessage(ctx, mailbox, raw); err != nil {
				return err
			}
			if raw.HistoryID > highest {
				highest = raw.HistoryID
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	now := time.Now().UTC()
	if highest > 0 {
		mailbox.GmailHistoryID = &highest
	}
	mailbox.LastFullSyncAt = &now
	mailbox.LastSyncError = ""
	if err := s.mailboxes.UpdateSyncState(ctx, mailbox); err != nil {
		return err
	}

	return s.EnqueueHistorySync(ctx, organizationID, mailboxID, "post_backfill", nil)
}

// HistorySync applies the provider's change history since the stored
// watermark. A missing or expired watermark downgrades to a queued
// full backfill and reports success; the job must not burn retries on
// a state only a backfill can repair.
func (s *Service) HistorySync(ctx context.Context, organizationID, mailboxID uuid.UUID) error {
	mailbox, err := s.mailboxes.GetForSyncLocked(ctx, organizationID, mailboxID)
	if err != nil {
		return err
	}
	if mailbox == nil {
		return nil
	}

	if mailbox.GmailHistoryID == nil {
		if err := s.mailboxes.SetSyncError(ctx, organizationID, mailboxID, "No gmail_history_id; queued full backfill"); err != nil {
			return err
		}
		return s.EnqueueBackfill(ctx, organizationID, mailboxID, "missing_history_id")
	}

	provider, err := s.providers.ForMailbox(ctx, mailbox)
	if err != nil {
		return err
	}

	highest := *mailbox.GmailHistoryID
	var messageIDs []string
	seen := make(map[string]struct{})

	pageToken := ""
	for {
		page, err := provider.ListHistory(ctx, *mailbox.GmailHistoryID, pageToken)
		if err != nil {
			if errors.Is(err, apperr.ErrHistoryExpired) {
				if serr := s.mailboxes.SetSyncError(ctx, organizationID, mailboxID, "Gmail history is invalid/expired; queued full backfill"); serr != nil {
					return serr
				}
				return s.EnqueueBackfill(ctx, organizationID, mailboxID, "history_invalid")
			}
			return s.failSync(ctx, mailbox, "Gmail incremental sync failed", err)
		}
		if page.HistoryID > highest {
			highest = page.HistoryID
		}
		for _, id := range page.MessageIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			messageIDs = append(messageIDs, id)
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	for _, id := range messageIDs {
		raw, err := provider.GetMessageRaw(ctx, id)
		if err != nil {
			return s.failSync(ctx, mailbox, "Gmail incremental sync failed", err)
		}
		if err := s.ingestRawMessage(ctx, mailbox, raw); err != nil {
			return err
		}
		if raw.HistoryID > highest {
			highest = raw.HistoryID
		}
	}

	now := time.Now().UTC()
	mailbox.GmailHistoryID = &highest
	mailbox.LastIncrementalSyncAt = &now
	mailbox.LastSyncError = ""
	return s.mailboxes.UpdateSyncState(ctx, mailbox)
}

// ingestRawMessage mirrors one provider message as an occurrence and
// queues the raw-fetch stage with the payload inline, so the pipeline
// never has to call the provider again for these bytes.
func (s *Service) ingestRawMessage(ctx context.Context, mailbox *domain.Mailbox, raw *out.RawMessage) error {
	occ := &domain.MessageOccurrence{
		OrganizationID: mailbox.OrganizationID,
		MailboxID:      mailbox.ID,
		GmailMessageID: raw.ID,
		GmailThreadID:  raw.ThreadID,
		LabelIDs:       raw.LabelIDs,
	}
	if raw.HistoryID > 0 {
		historyID := raw.HistoryID
		occ.GmailHistoryID = &historyID
	}
	if !raw.InternalDate.IsZero() {
		internalDate := raw.InternalDate
		occ.GmailInternalDate = &internalDate
	}

	occurrenceID, err := s.occurrences.Upsert(ctx, occ)
	if err != nil {
		return err
	}

	_, err = s.jobs.Enqueue(ctx, out.EnqueueParams{
		Type:           domain.JobOccurrenceFetchRaw,
		OrganizationID: &mailbox.OrganizationID,
		MailboxID:      &mailbox.ID,
		Payload: map[string]any{
			"occurrence_id":  occurrenceID.String(),
			"raw_eml_base64": base64.StdEncoding.EncodeToString(raw.Raw),
		},
		DedupeKey: fmt.Sprintf("%s:%s", domain.JobOccurrenceFetchRaw, occurrenceID),
	})
	return err
}

// EnqueueBackfill queues one full backfill per mailbox; concurrent
// requests collapse on the dedupe key.
func (s *Service) EnqueueBackfill(ctx context.Context, organizationID, mailboxID uuid.UUID, reason string) error {
	_, err := s.jobs.Enqueue(ctx, out.EnqueueParams{
		Type:           domain.JobMailboxBackfill,
		OrganizationID: &organizationID,
		MailboxID:      &mailboxID,
		Payload:        syncPayload(organizationID, mailboxID, reason),
		DedupeKey:      fmt.Sprintf("%s:%s", domain.JobMailboxBackfill, mailboxID),
	})
	return err
}

// EnqueueHistorySync queues an incremental sync, optionally delayed;
// the poll loop passes a future runAt to pace itself.
func (s *Service) EnqueueHistorySync(ctx context.Context, organizationID, mailboxID uuid.UUID, reason string, runAt *time.Time) error {
	_, err := s.jobs.Enqueue(ctx, out.EnqueueParams{
		Type:           domain.JobMailboxHistorySync,
		OrganizationID: &organizationID,
		MailboxID:      &mailboxID,
		Payload:        syncPayload(organizationID, mailboxID, reason),
		DedupeKey:      fmt.Sprintf("%s:%s", domain.JobMailboxHistorySync, mailboxID),
		RunAt:          runAt,
	})
	return err
}

func syncPayload(organizationID, mailboxID uuid.UUID, reason string) map[string]any {
	return map[string]any{
		"organization_id": organizationID.String(),
		"mailbox_id":      mailboxID.String(),
		"reason":          reason,
	}
}

// failSync records a provider failure on the mailbox and re-raises it
// so the job retries with backoff. The returned error carries the
// mailbox-facing message: the job transaction rolls this write back,
// and the failure path re-records it from the error text.
func (s *Service) failSync(ctx context.Context, mailbox *domain.Mailbox, prefix string, err error) error {
	message := fmt.Sprintf("%s (%d)", prefix, apperr.ProviderStatus(err))
	if serr := s.mailboxes.SetSyncError(ctx, mailbox.OrganizationID, mailbox.ID, message); serr != nil {
		return serr
	}
	return fmt.Errorf("%s: %w", message, err)
}

// RecordSyncError persists a failure message on the mailbox. The job
// runner calls it in the failure transaction, after the sync job's own
// writes have rolled back.
func (s *Service) RecordSyncError(ctx context.Context, organizationID, mailboxID uuid.UUID, message string) error {
	return s.mailboxes.SetSyncError(ctx, organizationID, mailboxID, message)
}
