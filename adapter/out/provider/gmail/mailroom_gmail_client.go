package gmail

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
)

const listPageSize = 500

// =============================================================================
// Client - typed Gmail API wrapper for one mailbox
// =============================================================================

type Client struct {
	svc     *gmailapi.Service
	breaker *gobreaker.CircuitBreaker
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

func NewClient(ctx context.Context, accessToken, mailboxEmail string) (*Client, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, apperr.ProviderError(0, "create gmail client").WithError(err)
	}
	return &Client{
		svc:     svc,
		breaker: newBreaker("gmail:" + mailboxEmail),
	}, nil
}

func (c *Client) GetProfile(ctx context.Context) (*out.Profile, error) {
	result, err := c.execute(func() (any, error) {
		return c.svc.Users.GetProfile("me").Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	profile := result.(*gmailapi.Profile)
	return &out.Profile{
		EmailAddress: profile.EmailAddress,
		HistoryID:    int64(profile.HistoryId),
	}, nil
}

// ListMessages pages through the full mailbox including spam and
// trash; journal delivery can land anywhere.
func (c *Client) ListMessages(ctx context.Context, pageToken string) (*out.MessagePage, error) {
	result, err := c.execute(func() (any, error) {
		call := c.svc.Users.Messages.List("me").
			IncludeSpamTrash(true).
			MaxResults(listPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		return call.Do()
	})
	if err != nil {
		return nil, err
	}
	res := result.(*gmailapi.ListMessagesResponse)

	page := &out.MessagePage{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.Messages = append(page.Messages, out.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return page, nil
}

func (c *Client) GetMessageRaw(ctx context.Context, messageID string) (*out.RawMessage, error) {
	result, err := c.execute(func() (any, error) {
		return c.svc.Users.Messages.Get("me", messageID).Format("raw").Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	msg := result.(*gmailapi.Message)

	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(msg.Raw)
	if err != nil {
		return nil, apperr.ProviderError(0, "decode raw message").WithError(err)
	}

	rm := &out.RawMessage{
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		HistoryID: int64(msg.HistoryId),
		LabelIDs:  msg.LabelIds,
		Raw:       raw,
	}
	if msg.InternalDate > 0 {
		rm.InternalDate = time.UnixMilli(msg.InternalDate).UTC()
	}
	return rm, nil
}

// ListHistory returns messageAdded records since startHistoryID. A 404
// means the watermark fell outside Gmail's retention window and the
// caller must fall back to a full backfill.
func (c *Client) ListHistory(ctx context.Context, startHistoryID int64, pageToken string) (*out.HistoryPage, error) {
	result, err := c.execute(func() (any, error) {
		call := c.svc.Users.History.List("me").
			StartHistoryId(uint64(startHistoryID)).
			HistoryTypes("messageAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		return call.Do()
	})
	if err != nil {
		if apperr.ProviderStatus(err) == http.StatusNotFound {
			return nil, apperr.HistoryExpired("gmail history id is invalid or expired").WithError(err)
		}
		return nil, err
	}
	res := result.(*gmailapi.ListHistoryResponse)

	page := &out.HistoryPage{
		NextPageToken: res.NextPageToken,
		HistoryID:     int64(res.HistoryId),
	}
	for _, record := range res.History {
		for _, added := range record.MessagesAdded {
			if added.Message != nil {
				page.MessageIDs = append(page.MessageIDs, added.Message.Id)
			}
		}
	}
	return page, nil
}

func (c *Client) execute(fn func() (any, error)) (any, error) {
	result, err := c.breaker.Execute(fn)
	if err != nil {
		return nil, translateError(err)
	}
	return result, nil
}

func translateError(err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		return apperr.ProviderError(apiErr.Code, apiErr.Message).WithError(err)
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.ProviderError(0, "gmail circuit breaker open").WithError(err)
	}
	return apperr.ProviderError(0, err.Error()).WithError(err)
}

// =============================================================================
// Factory
// =============================================================================

// AccessTokenSource mints a valid provider access token for a mailbox.
type AccessTokenSource interface {
	AccessToken(ctx context.Context, mailbox *domain.Mailbox) (string, error)
}

type Factory struct {
	tokens AccessTokenSource
}

func NewFactory(tokens AccessTokenSource) *Factory {
	return &Factory{tokens: tokens}
}

func (f *Factory) ForMailbox(ctx context.Context, mailbox *domain.Mailbox) (out.MailProvider, error) {
	token, err := f.tokens.AccessToken(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, token, mailbox.EmailAddress)
}
