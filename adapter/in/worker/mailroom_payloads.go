package worker

import (
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
)

// ParsePayload decodes a claimed job's payload into T. A payload that
// does not decode can never succeed, so the error is permanent.
func ParsePayload[T any](job *out.ClaimedJob) (*T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, apperr.PermanentJob("malformed job payload").WithError(err)
	}
	return &payload, nil
}

// requireUUID parses a payload field that must carry a UUID.
func requireUUID(value, field string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, apperr.PermanentJobf("%s missing from payload", field)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, apperr.PermanentJobf("%s is not a valid uuid", field).WithError(err)
	}
	return id, nil
}

type mailboxSyncPayload struct {
	OrganizationID string `json:"organization_id"`
	MailboxID      string `json:"mailbox_id"`
	Reason         string `json:"reason"`
}

type occurrencePayload struct {
	OccurrenceID string `json:"occurrence_id"`
	RawEMLBase64 string `json:"raw_eml_base64"`
}

type outboundSendPayload struct {
	OrganizationID string   `json:"organization_id"`
	TicketID       string   `json:"ticket_id"`
	MessageID      string   `json:"message_id"`
	SendIdentityID string   `json:"send_identity_id"`
	ToEmails       []string `json:"to_emails"`
	CcEmails       []string `json:"cc_emails"`
	Subject        string   `json:"subject"`
	BodyText       string   `json:"body_text"`
}

type collisionBackfillPayload struct {
	OrganizationID string `json:"organization_id"`
}
