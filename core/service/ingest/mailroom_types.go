package ingest

import (
	"sort"
	"strings"
	"time"
)

// ParserVersion tags message_contents rows produced by this parser.
const ParserVersion = 1

// FingerprintVersion tags message_fingerprints rows.
const FingerprintVersion = 1

// Headers is a multimap of raw header values in message order. Keys
// carry whatever casing the wire format had; lookups are
// case-insensitive.
type Headers map[string][]string

// Values returns the values for name, matching the key
// case-insensitively. An exact-case match wins over a folded one;
// remaining matching keys contribute in sorted order so the result is
// deterministic.
func (h Headers) Values(name string) []string {
	if vals, ok := h[name]; ok && len(vals) > 0 {
		return vals
	}
	var keys []string
	for key := range h {
		if key != name && strings.EqualFold(key, name) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	var out []string
	for _, key := range keys {
		out = append(out, h[key]...)
	}
	return out
}

// ParsedAttachment is one decoded MIME attachment part.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Payload     []byte
	IsInline    bool
	ContentID   string
}

// ParsedEmail is the parser output for one raw RFC 822 message.
// Empty strings and nil pointers mean the header was absent or
// unparseable.
type ParsedEmail struct {
	RFCMessageID string
	Date         *time.Time

	Subject     string
	SubjectNorm string

	FromEmail string
	FromName  string

	ReplyToEmails []string
	ToEmails      []string
	CcEmails      []string

	Headers Headers

	BodyText          string
	BodyHTMLSanitized string

	InReplyTo  string
	References []string

	Attachments []ParsedAttachment
}
