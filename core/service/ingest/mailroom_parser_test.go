package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRawEmailSimpleText(t *testing.T) {
	raw := strings.Join([]string{
		"Message-ID: <abc-123@mail.example.com>",
		"Date: Fri, 14 Mar 2025 09:26:53 -0700",
		"From: Alice Smith <Alice@Example.com>",
		"To: Bob <BOB@example.com>, carol@example.com",
		"Cc: dave@example.com",
		"Reply-To: replies@example.com",
		"Subject: Re: Printer is on fire",
		"In-Reply-To: <parent@mail.example.com>",
		"References: <root@mail.example.com> <parent@mail.example.com>",
		"",
		"The printer in room 4 is on fire.",
		"",
	}, "\r\n")

	p, err := ParseRawEmail([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "<abc-123@mail.example.com>", p.RFCMessageID)
	require.NotNil(t, p.Date)
	assert.Equal(t, time.Date(2025, 3, 14, 16, 26, 53, 0, time.UTC), *p.Date)
	assert.Equal(t, "Re: Printer is on fire", p.Subject)
	assert.Equal(t, "Printer is on fire", p.SubjectNorm)
	assert.Equal(t, "alice@example.com", p.FromEmail)
	assert.Equal(t, "Alice Smith", p.FromName)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, p.ToEmails)
	assert.Equal(t, []string{"dave@example.com"}, p.CcEmails)
	assert.Equal(t, []string{"replies@example.com"}, p.ReplyToEmails)
	assert.Equal(t, "<parent@mail.example.com>", p.InReplyTo)
	assert.Equal(t, []string{"<root@mail.example.com>", "<parent@mail.example.com>"}, p.References)
	assert.Equal(t, "The printer in room 4 is on fire.", p.BodyText)
	assert.Empty(t, p.BodyHTMLSanitized)
	assert.Empty(t, p.Attachments)
}

func TestParseRawEmailMultipart(t *testing.T) {
	raw := strings.Join([]string{
		"Message-ID: <multi@mail.example.com>",
		"From: alice@example.com",
		"To: support@acme.test",
		"Subject: report attached",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		`Content-Type: multipart/alternative; boundary="inner"`,
		"",
		"--inner",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain body",
		"--inner",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html <b>body</b></p><script>alert(1)</script>",
		"--inner--",
		"--outer",
		"Content-Type: application/pdf; name=report.pdf",
		"Content-Transfer-Encoding: base64",
		"Content-Disposition: attachment; filename=report.pdf",
		"",
		"aGVsbG8gYXR0YWNobWVudA==",
		"--outer--",
		"",
	}, "\r\n")

	p, err := ParseRawEmail([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "plain body", p.BodyText)
	assert.Equal(t, "<p>html <b>body</b></p>", p.BodyHTMLSanitized)

	require.Len(t, p.Attachments, 1)
	att := p.Attachments[0]
	assert.Equal(t, "report.pdf", att.Filename)
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, []byte("hello attachment"), att.Payload)
	assert.False(t, att.IsInline)
}

func TestParseRawEmailInlineAttachment(t *testing.T) {
	raw := strings.Join([]string{
		"From: alice@example.com",
		"Subject: logo inline",
		"MIME-Version: 1.0",
		`Content-Type: multipart/related; boundary="rel"`,
		"",
		"--rel",
		"Content-Type: text/html; charset=utf-8",
		"",
		`<p>see <img src="cid:logo@acme" alt="logo"></p>`,
		"--rel",
		"Content-Type: image/png; name=logo.png",
		"Content-Transfer-Encoding: base64",
		"Content-Disposition: inline; filename=logo.png",
		"Content-ID: <logo@acme>",
		"",
		"iVBORw0KGgo=",
		"--rel--",
		"",
	}, "\r\n")

	p, err := ParseRawEmail([]byte(raw))
	require.NoError(t, err)

	require.Len(t, p.Attachments, 1)
	att := p.Attachments[0]
	assert.Equal(t, "logo.png", att.Filename)
	assert.True(t, att.IsInline)
	assert.Equal(t, "logo@acme", att.ContentID)
	assert.Contains(t, p.BodyHTMLSanitized, `src="cid:logo@acme"`)
}

func TestParseRawEmailQuotedPrintableBody(t *testing.T) {
	raw := strings.Join([]string{
		"From: alice@example.com",
		"Subject: qp",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"caf=C3=A9 visit",
		"",
	}, "\r\n")

	p, err := ParseRawEmail([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "café visit", p.BodyText)
}

func TestParseRawEmailEncodedWordSubject(t *testing.T) {
	raw := strings.Join([]string{
		"From: alice@example.com",
		"Subject: =?utf-8?q?caf=C3=A9_closed?=",
		"",
		"body",
		"",
	}, "\r\n")

	p, err := ParseRawEmail([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "café closed", p.Subject)
}

func TestParseRawEmailMissingHeaders(t *testing.T) {
	raw := "Subject: bare\r\n\r\nhello\r\n"

	p, err := ParseRawEmail([]byte(raw))
	require.NoError(t, err)

	assert.Empty(t, p.RFCMessageID)
	assert.Nil(t, p.Date)
	assert.Empty(t, p.FromEmail)
	assert.Empty(t, p.ToEmails)
	assert.Equal(t, "hello", p.BodyText)
}

func TestParseRawEmailGarbage(t *testing.T) {
	_, err := ParseRawEmail([]byte("no header block here"))
	assert.Error(t, err)
}

func TestHeadersValues(t *testing.T) {
	h := Headers{
		"Delivered-To": {"a@acme.test"},
		"delivered-to": {"b@acme.test"},
	}

	assert.Equal(t, []string{"a@acme.test"}, h.Values("Delivered-To"), "exact-case key wins")
	assert.Equal(t, []string{"b@acme.test"}, h.Values("delivered-to"))
	assert.Equal(t, []string{"a@acme.test", "b@acme.test"}, h.Values("DELIVERED-TO"))
	assert.Empty(t, h.Values("X-Missing"))
}
