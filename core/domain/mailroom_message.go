package domain

import (
	"time"

	"github.com/google/uuid"
)

// Blob is a content-addressed stored object. The row is metadata; the
// bytes live in the blob store under StorageKey.
type Blob struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Kind           BlobKind
	SHA256         []byte
	SizeBytes      int64
	StorageKey     string
	ContentType    string
	CreatedAt      time.Time
}

// Message is the canonical, deduplicated representation of one email.
// Exactly one row exists per (organization, fingerprint, signature)
// equivalence class.
type Message struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Direction      Direction
	OSSMessageID   *uuid.UUID
	RFCMessageID   string
	FingerprintV1  []byte
	SignatureV1    []byte

	// Set when another canonical message shares this fingerprint with
	// a different signature.
	CollisionGroupID *uuid.UUID

	CreatedAt   time.Time
	FirstSeenAt time.Time
}

// MessageContent is a versioned parsed projection of a canonical message.
type MessageContent struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	MessageID      uuid.UUID
	ContentVersion int
	ParserVersion  int
	ParsedAt       time.Time

	DateHeader    *time.Time
	Subject       string
	SubjectNorm   string
	FromEmail     string
	FromName      string
	ReplyToEmails []string
	ToEmails      []string
	CcEmails      []string

	HeadersJSON []byte

	BodyText          string
	BodyHTMLSanitized string

	HasAttachments  bool
	AttachmentCount int

	Snippet string
}

// MessageAttachment links a canonical message to an attachment blob.
type MessageAttachment struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	MessageID      uuid.UUID
	BlobID         uuid.UUID
	Filename       string
	ContentType    string
	SizeBytes      int64
	SHA256         []byte
	IsInline       bool
	ContentID      string
	CreatedAt      time.Time
}

// Thread reference types.
const (
	ThreadRefInReplyTo  = "in_reply_to"
	ThreadRefReferences = "references"
)

// MessageThreadRef records an RFC 2822 threading pointer from a
// canonical message to another rfc_message_id.
type MessageThreadRef struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	MessageID       uuid.UUID
	RefType         string
	RefRFCMessageID string
	CreatedAt       time.Time
}

// MessageOccurrence is one (mailbox, provider message id) observation
// and the unit of pipeline state.
type MessageOccurrence struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	MailboxID      uuid.UUID

	GmailMessageID    string
	GmailThreadID     string
	GmailHistoryID    *int64
	GmailInternalDate *time.Time
	LabelIDs          []string

	State OccurrenceState

	RawBlobID     *uuid.UUID
	RawFetchedAt  *time.Time
	RawFetchError string

	MessageID  *uuid.UUID
	ParsedAt   *time.Time
	ParseError string

	TicketID    *uuid.UUID
	StitchedAt  *time.Time
	StitchError string

	RoutedAt   *time.Time
	RouteError string

	OriginalRecipient           string
	OriginalRecipientSource     RecipientSource
	OriginalRecipientConfidence Confidence
	OriginalRecipientEvidence   []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}
