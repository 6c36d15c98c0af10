package ingest

import (
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailroom_server/pkg/canonical"
)

// AttachmentSHA256 hashes an attachment's decoded payload.
func AttachmentSHA256(a ParsedAttachment) []byte {
	return canonical.SHA256(a.Payload)
}

// FingerprintV1 computes the loose dedupe hash for a parsed email.
// Two deliveries of the same logical message collide here even when
// transport headers differ; the signature decides whether they are
// really the same bytes-equivalent message.
func FingerprintV1(p *ParsedEmail, attachmentSHA [][]byte) ([]byte, error) {
	bodyText := strings.TrimSpace(p.BodyText)
	bodyHash := canonical.SHA256Hex([]byte(bodyText))

	prefixes := make([]string, 0, len(attachmentSHA))
	for _, sha := range attachmentSHA {
		if len(prefixes) == 10 {
			break
		}
		prefixes = append(prefixes, hex.EncodeToString(sha)[:16])
	}

	return canonical.HashJSON(map[string]any{
		"from":                    nullableString(p.FromEmail),
		"subject_norm":            nullableString(p.SubjectNorm),
		"date":                    nullableDay(p.Date),
		"body_hash_prefix":        bodyHash[:16],
		"attachment_count":        len(attachmentSHA),
		"attachment_sha_prefixes": prefixes,
	})
}

// SignatureV1 computes the strict content hash over all
// identity-bearing fields of a parsed email.
func SignatureV1(p *ParsedEmail, attachmentSHA [][]byte) ([]byte, error) {
	bodyText := strings.TrimSpace(p.BodyText)

	shas := make([]string, 0, len(attachmentSHA))
	for _, sha := range attachmentSHA {
		shas = append(shas, hex.EncodeToString(sha))
	}

	return canonical.HashJSON(map[string]any{
		"rfc_message_id": nullableString(p.RFCMessageID),
		"date":           nullableTime(p.Date),
		"from":           nullableString(p.FromEmail),
		"to":             sortedCopy(p.ToEmails),
		"cc":             sortedCopy(p.CcEmails),
		"reply_to":       sortedCopy(p.ReplyToEmails),
		"subject_norm":   nullableString(p.SubjectNorm),
		"body_text":      bodyText,
		"attachment_sha": shas,
	})
}

// ExtractUUIDHeader returns the UUID carried in the first value of the
// named header, or nil when the header is absent or malformed.
func ExtractUUIDHeader(headers Headers, name string) *uuid.UUID {
	values := headers[name]
	if len(values) == 0 {
		values = headers[strings.ToLower(name)]
	}
	if len(values) == 0 {
		values = headers.Values(name)
	}
	if len(values) == 0 {
		return nil
	}
	raw := strings.TrimSpace(values[0])
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableDay(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02")
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func sortedCopy(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}
