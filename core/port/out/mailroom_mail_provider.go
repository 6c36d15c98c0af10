package out

import (
	"context"
	"time"

	"mailroom_server/core/domain"
)

// Profile is the provider account identity and current watermark.
type Profile struct {
	EmailAddress string
	HistoryID    int64
}

// MessageRef is a provider message listing entry.
type MessageRef struct {
	ID       string
	ThreadID string
}

// MessagePage is one page of a full mailbox listing.
type MessagePage struct {
	Messages      []MessageRef
	NextPageToken string
}

// RawMessage is a full message fetch in raw (RFC 822) form. Raw holds
// decoded bytes; the provider's base64url transport encoding is an
// adapter concern.
type RawMessage struct {
	ID           string
	ThreadID     string
	HistoryID    int64
	InternalDate time.Time
	LabelIDs     []string
	Raw          []byte
}

// HistoryPage is one page of incremental change history. MessageIDs
// are the messagesAdded entries in page order.
type HistoryPage struct {
	MessageIDs    []string
	NextPageToken string
	HistoryID     int64
}

// MailProvider is the typed wrapper over the provider REST API for one
// mailbox. History expiry surfaces as apperr.CodeHistoryExpired; other
// API failures as apperr.CodeProviderError.
type MailProvider interface {
	GetProfile(ctx context.Context) (*Profile, error)
	ListMessages(ctx context.Context, pageToken string) (*MessagePage, error)
	GetMessageRaw(ctx context.Context, messageID string) (*RawMessage, error)
	ListHistory(ctx context.Context, startHistoryID int64, pageToken string) (*HistoryPage, error)
}

// MailProviderFactory builds a provider client authorized for a
// mailbox's credential.
type MailProviderFactory interface {
	ForMailbox(ctx context.Context, mailbox *domain.Mailbox) (MailProvider, error)
}
