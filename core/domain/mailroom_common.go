package domain

// Provider identifies the mail provider backing a mailbox.
type Provider string

const (
	ProviderGmail Provider = "gmail"
)

// MailboxPurpose distinguishes the journal account from per-user mailboxes.
type MailboxPurpose string

const (
	MailboxPurposeJournal MailboxPurpose = "journal"
	MailboxPurposeUser    MailboxPurpose = "user"
)

// BlobKind is the content-addressed namespace a blob lives in.
type BlobKind string

const (
	BlobKindRawEML     BlobKind = "raw_eml"
	BlobKindAttachment BlobKind = "attachment"
)

// Direction of a canonical message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// OccurrenceState is the pipeline position of a mailbox observation.
type OccurrenceState string

const (
	OccurrenceDiscovered OccurrenceState = "discovered"
	OccurrenceRawFetched OccurrenceState = "raw_fetched"
	OccurrenceParsed     OccurrenceState = "parsed"
	OccurrenceStitched   OccurrenceState = "stitched"
	OccurrenceRouted     OccurrenceState = "routed"
	OccurrenceFailed     OccurrenceState = "failed"
)

// rank orders pipeline states for gate checks. failed is outside the
// linear chain.
var occurrenceStateRank = map[OccurrenceState]int{
	OccurrenceDiscovered: 0,
	OccurrenceRawFetched: 1,
	OccurrenceParsed:     2,
	OccurrenceStitched:   3,
	OccurrenceRouted:     4,
}

// Before reports whether s comes strictly before other in the pipeline.
func (s OccurrenceState) Before(other OccurrenceState) bool {
	return occurrenceStateRank[s] < occurrenceStateRank[other]
}

// RecipientSource tags which header produced the resolved recipient.
type RecipientSource string

const (
	RecipientSourceWorkspaceHeader RecipientSource = "workspace_header"
	RecipientSourceDeliveredTo     RecipientSource = "delivered_to"
	RecipientSourceXOriginalTo     RecipientSource = "x_original_to"
	RecipientSourceToCcScan        RecipientSource = "to_cc_scan"
	RecipientSourceUnknown         RecipientSource = "unknown"
)

// Confidence grades stitching and recipient resolution.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// TicketStatus is the ticket lifecycle state.
type TicketStatus string

const (
	TicketStatusNew      TicketStatus = "new"
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusPending  TicketStatus = "pending"
	TicketStatusResolved TicketStatus = "resolved"
	TicketStatusClosed   TicketStatus = "closed"
	TicketStatusSpam     TicketStatus = "spam"
)

// TicketPriority levels.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityNormal TicketPriority = "normal"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// JobStatus is the bg_jobs lifecycle state.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)
