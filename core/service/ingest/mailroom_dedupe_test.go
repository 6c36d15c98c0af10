package ingest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleParsed() *ParsedEmail {
	date := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	return &ParsedEmail{
		RFCMessageID: "<abc@mail.example.com>",
		Date:         &date,
		Subject:      "Re: Printer is on fire",
		SubjectNorm:  "Printer is on fire",
		FromEmail:    "alice@example.com",
		ToEmails:     []string{"support@acme.test"},
		CcEmails:     []string{},
		BodyText:     "The printer in room 4 is on fire.\n",
	}
}

func TestFingerprintV1Deterministic(t *testing.T) {
	p := sampleParsed()

	a, err := FingerprintV1(p, nil)
	require.NoError(t, err)
	b, err := FingerprintV1(p, nil)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
}

func TestFingerprintV1IgnoresTransportIdentity(t *testing.T) {
	a := sampleParsed()
	b := sampleParsed()
	b.RFCMessageID = "<resend-xyz@mail.example.com>"
	b.ToEmails = []string{"helpdesk@acme.test"}

	fpA, err := FingerprintV1(a, nil)
	require.NoError(t, err)
	fpB, err := FingerprintV1(b, nil)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB, "fingerprint should not depend on message id or recipients")
}

func TestFingerprintV1SensitiveFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ParsedEmail)
	}{
		{"from changes", func(p *ParsedEmail) { p.FromEmail = "mallory@example.com" }},
		{"subject changes", func(p *ParsedEmail) { p.SubjectNorm = "Printer is fine" }},
		{"body changes", func(p *ParsedEmail) { p.BodyText = "All clear now." }},
		{"day changes", func(p *ParsedEmail) {
			d := time.Date(2025, 3, 15, 0, 0, 1, 0, time.UTC)
			p.Date = &d
		}},
		{"date absent", func(p *ParsedEmail) { p.Date = nil }},
	}

	base, err := FingerprintV1(sampleParsed(), nil)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := sampleParsed()
			tt.mutate(p)
			fp, err := FingerprintV1(p, nil)
			require.NoError(t, err)
			assert.NotEqual(t, base, fp)
		})
	}
}

func TestFingerprintV1BodyWhitespaceTrimmed(t *testing.T) {
	a := sampleParsed()
	b := sampleParsed()
	b.BodyText = "  \n" + a.BodyText + "\n\n"

	fpA, err := FingerprintV1(a, nil)
	require.NoError(t, err)
	fpB, err := FingerprintV1(b, nil)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB)
}

func TestFingerprintV1AttachmentPrefixCap(t *testing.T) {
	shas := make([][]byte, 12)
	for i := range shas {
		shas[i] = AttachmentSHA256(ParsedAttachment{Payload: []byte{byte(i)}})
	}

	fpA, err := FingerprintV1(sampleParsed(), shas)
	require.NoError(t, err)

	// Swapping an attachment past the tenth slot leaves the prefix
	// list unchanged.
	shas[11] = AttachmentSHA256(ParsedAttachment{Payload: []byte("different")})
	fpB, err := FingerprintV1(sampleParsed(), shas)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)

	// Changing one of the first ten does not.
	shas[0] = AttachmentSHA256(ParsedAttachment{Payload: []byte("changed")})
	fpC, err := FingerprintV1(sampleParsed(), shas)
	require.NoError(t, err)
	assert.NotEqual(t, fpA, fpC)
}

func TestSignatureV1DistinguishesResends(t *testing.T) {
	a := sampleParsed()
	b := sampleParsed()
	b.RFCMessageID = "<resend-xyz@mail.example.com>"

	sigA, err := SignatureV1(a, nil)
	require.NoError(t, err)
	sigB, err := SignatureV1(b, nil)
	require.NoError(t, err)

	assert.Len(t, sigA, 32)
	assert.NotEqual(t, sigA, sigB, "signature must separate deliveries with different message ids")
}

func TestSignatureV1RecipientOrderInsensitive(t *testing.T) {
	a := sampleParsed()
	a.ToEmails = []string{"a@acme.test", "b@acme.test"}
	b := sampleParsed()
	b.ToEmails = []string{"b@acme.test", "a@acme.test"}

	sigA, err := SignatureV1(a, nil)
	require.NoError(t, err)
	sigB, err := SignatureV1(b, nil)
	require.NoError(t, err)

	assert.Equal(t, sigA, sigB)
}

func TestExtractUUIDHeader(t *testing.T) {
	id := uuid.MustParse("3e0a3bc2-9e4e-4f6d-9a33-0f07a1f5f111")

	tests := []struct {
		name    string
		headers Headers
		want    *uuid.UUID
	}{
		{"exact key", Headers{"X-OSS-Ticket-ID": {id.String()}}, &id},
		{"lowercase key", Headers{"x-oss-ticket-id": {id.String()}}, &id},
		{"mixed case key", Headers{"X-Oss-Ticket-Id": {id.String()}}, &id},
		{"surrounding whitespace", Headers{"X-OSS-Ticket-ID": {"  " + id.String() + " "}}, &id},
		{"missing", Headers{}, nil},
		{"empty value", Headers{"X-OSS-Ticket-ID": {""}}, nil},
		{"malformed value", Headers{"X-OSS-Ticket-ID": {"not-a-uuid"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractUUIDHeader(tt.headers, "X-OSS-Ticket-ID")
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}
