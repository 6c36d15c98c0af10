package ingest

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/pkg/canonical"
)

const snippetLength = 280

// OSSMessageIDHeader carries the internal message id on messages this
// system sent, so the journal copy folds back onto the canonical row.
const OSSMessageIDHeader = "X-OSS-Message-ID"

// =============================================================================
// Pipeline - raw fetch and parse stages of the occurrence pipeline
// =============================================================================

type Pipeline struct {
	occurrences out.OccurrenceRepository
	blobs       out.BlobRepository
	store       out.BlobStore
	messages    out.MessageRepository
	jobs        out.JobRepository
}

func NewPipeline(
	occurrences out.OccurrenceRepository,
	blobs out.BlobRepository,
	store out.BlobStore,
	messages out.MessageRepository,
	jobs out.JobRepository,
) *Pipeline {
	return &Pipeline{
		occurrences: occurrences,
		blobs:       blobs,
		store:       store,
		messages:    messages,
		jobs:        jobs,
	}
}

// FetchRaw persists the raw RFC 822 bytes carried in the job payload
// as a content-addressed blob and advances the occurrence. A missing
// payload parks the occurrence as failed instead of retrying; the
// bytes only ever arrive with the job.
func (p *Pipeline) FetchRaw(ctx context.Context, occurrenceID uuid.UUID, rawEML []byte) error {
	occ, err := p.occurrences.GetLocked(ctx, occurrenceID)
	if err != nil {
		return err
	}
	if occ == nil {
		return nil
	}
	if occ.RawBlobID != nil && !occ.State.Before(domain.OccurrenceRawFetched) {
		return nil
	}

	if len(rawEML) == 0 {
		return p.occurrences.MarkRawFetchFailed(ctx, occurrenceID, "raw_eml_base64 missing from payload")
	}

	sha := canonical.SHA256(rawEML)
	key := fmt.Sprintf("%s/raw_eml/%x.eml", occ.OrganizationID, sha)
	if err := p.store.Put(ctx, key, rawEML, "message/rfc822"); err != nil {
		return err
	}

	blobID, err := p.blobs.Upsert(ctx, &domain.Blob{
		OrganizationID: occ.OrganizationID,
		Kind:           domain.BlobKindRawEML,
		SHA256:         sha,
		SizeBytes:      int64(len(rawEML)),
		StorageKey:     key,
		ContentType:    "message/rfc822",
	})
	if err != nil {
		return err
	}

	if err := p.occurrences.MarkRawFetched(ctx, occurrenceID, blobID); err != nil {
		return err
	}
	return p.enqueueStage(ctx, occ, domain.JobOccurrenceParse)
}

// Parse turns the stored raw blob into a canonical message with
// content, threading refs, and attachments, then resolves the original
// recipient onto the occurrence. Unreadable inputs park the occurrence
// as failed; only infrastructure errors retry.
func (p *Pipeline) Parse(ctx context.Context, occurrenceID uuid.UUID) error {
	occ, err := p.occurrences.GetLocked(ctx, occurrenceID)
	if err != nil {
		return err
	}
	if occ == nil {
		return nil
	}
	if occ.MessageID != nil && !occ.State.Before(domain.OccurrenceParsed) {
		return nil
	}

	if occ.RawBlobID == nil {
		return p.occurrences.MarkParseFailed(ctx, occurrenceID, "missing raw_blob_id")
	}
	blob, err := p.blobs.GetByID(ctx, *occ.RawBlobID)
	if err != nil {
		return err
	}
	if blob == nil {
		return p.occurrences.MarkParseFailed(ctx, occurrenceID, "raw blob row missing")
	}
	raw, err := p.store.Get(ctx, blob.StorageKey)
	if err != nil {
		return p.occurrences.MarkParseFailed(ctx, occurrenceID, fmt.Sprintf("blob read failed: %v", err))
	}

	parsed, err := ParseRawEmail(raw)
	if err != nil {
		return p.occurrences.MarkParseFailed(ctx, occurrenceID, fmt.Sprintf("parse failed: %v", err))
	}

	attachmentSHAs := make([][]byte, len(parsed.Attachments))
	for i, att := range parsed.Attachments {
		attachmentSHAs[i] = AttachmentSHA256(att)
	}

	fingerprint, err := FingerprintV1(parsed, attachmentSHAs)
	if err != nil {
		return err
	}
	signature, err := SignatureV1(parsed, attachmentSHAs)
	if err != nil {
		return err
	}

	messageID, err := p.resolveCanonical(ctx, occ.OrganizationID, parsed, fingerprint, signature)
	if err != nil {
		return err
	}

	if err := p.insertContent(ctx, occ.OrganizationID, messageID, parsed); err != nil {
		return err
	}
	if err := p.insertThreadRefs(ctx, occ.OrganizationID, messageID, parsed); err != nil {
		return err
	}
	if err := p.insertAttachments(ctx, occ.OrganizationID, messageID, parsed, attachmentSHAs); err != nil {
		return err
	}

	resolution := ResolveOriginalRecipient(parsed.Headers, parsed.ToEmails, parsed.CcEmails)
	evidence, err := json.Marshal(resolution.Evidence)
	if err != nil {
		return err
	}

	if err := p.occurrences.MarkParsed(ctx, occurrenceID, out.ParsedOccurrence{
		MessageID:           messageID,
		Recipient:           resolution.Recipient,
		RecipientSource:     resolution.Source,
		RecipientConfidence: resolution.Confidence,
		RecipientEvidence:   evidence,
	}); err != nil {
		return err
	}
	return p.enqueueStage(ctx, occ, domain.JobOccurrenceStitch)
}

// resolveCanonical finds or creates the canonical message. An internal
// oss id wins over the fingerprint pair so outbound messages re-entering
// via the journal never split into a second row.
func (p *Pipeline) resolveCanonical(ctx context.Context, organizationID uuid.UUID, parsed *ParsedEmail, fingerprint, signature []byte) (uuid.UUID, error) {
	ossID := ExtractUUIDHeader(parsed.Headers, OSSMessageIDHeader)
	if ossID != nil {
		existing, err := p.messages.FindByOSSMessageID(ctx, organizationID, *ossID)
		if err != nil {
			return uuid.Nil, err
		}
		if existing != nil {
			return *existing, nil
		}
	}

	existing, err := p.messages.FindByFingerprint(ctx, organizationID, fingerprint, signature)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		return *existing, nil
	}

	return p.messages.InsertCanonical(ctx, &domain.Message{
		OrganizationID: organizationID,
		Direction:      domain.DirectionInbound,
		OSSMessageID:   ossID,
		RFCMessageID:   parsed.RFCMessageID,
		FingerprintV1:  fingerprint,
		SignatureV1:    signature,
	})
}

// insertContent writes the parsed projection. Re-parses of the same
// version hit the conflict guard and leave the stored row alone.
func (p *Pipeline) insertContent(ctx context.Context, organizationID, messageID uuid.UUID, parsed *ParsedEmail) error {
	maxVersion, err := p.messages.MaxContentVersion(ctx, organizationID, messageID)
	if err != nil {
		return err
	}
	version := maxVersion
	if version == 0 {
		version = 1
	}

	headersJSON, err := json.Marshal(parsed.Headers)
	if err != nil {
		return err
	}

	return p.messages.InsertContent(ctx, &domain.MessageContent{
		OrganizationID:    organizationID,
		MessageID:         messageID,
		ContentVersion:    version,
		ParserVersion:     ParserVersion,
		DateHeader:        parsed.Date,
		Subject:           parsed.Subject,
		SubjectNorm:       parsed.SubjectNorm,
		FromEmail:         parsed.FromEmail,
		FromName:          parsed.FromName,
		ReplyToEmails:     parsed.ReplyToEmails,
		ToEmails:          parsed.ToEmails,
		CcEmails:          parsed.CcEmails,
		HeadersJSON:       headersJSON,
		BodyText:          parsed.BodyText,
		BodyHTMLSanitized: parsed.BodyHTMLSanitized,
		HasAttachments:    len(parsed.Attachments) > 0,
		AttachmentCount:   len(parsed.Attachments),
		Snippet:           Snippet(parsed.BodyText, parsed.Subject),
	})
}

func (p *Pipeline) insertThreadRefs(ctx context.Context, organizationID, messageID uuid.UUID, parsed *ParsedEmail) error {
	if parsed.InReplyTo != "" {
		if err := p.messages.InsertThreadRef(ctx, &domain.MessageThreadRef{
			OrganizationID:  organizationID,
			MessageID:       messageID,
			RefType:         domain.ThreadRefInReplyTo,
			RefRFCMessageID: parsed.InReplyTo,
		}); err != nil {
			return err
		}
	}
	for _, ref := range parsed.References {
		if err := p.messages.InsertThreadRef(ctx, &domain.MessageThreadRef{
			OrganizationID:  organizationID,
			MessageID:       messageID,
			RefType:         domain.ThreadRefReferences,
			RefRFCMessageID: ref,
		}); err != nil {
			return err
		}
	}
	return nil
}

// insertAttachments stores each attachment blob and links it. A store
// failure skips that attachment; the rest of the message still lands.
func (p *Pipeline) insertAttachments(ctx context.Context, organizationID, messageID uuid.UUID, parsed *ParsedEmail, shas [][]byte) error {
	for i, att := range parsed.Attachments {
		sha := shas[i]
		key := fmt.Sprintf("%s/attachments/%x", organizationID, sha)
		if err := p.store.Put(ctx, key, att.Payload, att.ContentType); err != nil {
			continue
		}

		blobID, err := p.blobs.Upsert(ctx, &domain.Blob{
			OrganizationID: organizationID,
			Kind:           domain.BlobKindAttachment,
			SHA256:         sha,
			SizeBytes:      int64(len(att.Payload)),
			StorageKey:     key,
			ContentType:    att.ContentType,
		})
		if err != nil {
			return err
		}

		if err := p.messages.InsertAttachment(ctx, &domain.MessageAttachment{
			OrganizationID: organizationID,
			MessageID:      messageID,
			BlobID:         blobID,
			Filename:       att.Filename,
			ContentType:    att.ContentType,
			SizeBytes:      int64(len(att.Payload)),
			SHA256:         sha,
			IsInline:       att.IsInline,
			ContentID:      att.ContentID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RebuildCollisions is the one-shot maintenance pass: stamp every set
// of same-fingerprint different-signature messages with a shared
// collision group id. Returns the number of fingerprint sets touched.
func (p *Pipeline) RebuildCollisions(ctx context.Context, organizationID uuid.UUID) (int, error) {
	return p.messages.RebuildCollisionGroups(ctx, organizationID)
}

func (p *Pipeline) enqueueStage(ctx context.Context, occ *domain.MessageOccurrence, jobType string) error {
	_, err := p.jobs.Enqueue(ctx, out.EnqueueParams{
		Type:           jobType,
		OrganizationID: &occ.OrganizationID,
		MailboxID:      &occ.MailboxID,
		Payload:        map[string]any{"occurrence_id": occ.ID.String()},
		DedupeKey:      fmt.Sprintf("%s:%s", jobType, occ.ID),
	})
	return err
}

// Snippet is the stored list preview: body text, else subject, capped.
func Snippet(bodyText, subject string) string {
	s := bodyText
	if s == "" {
		s = subject
	}
	runes := []rune(s)
	if len(runes) > snippetLength {
		return string(runes[:snippetLength])
	}
	return s
}
