package ingest

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

var wordDecoder = mime.WordDecoder{CharsetReader: charsetReader}

var addressParser = mail.AddressParser{WordDecoder: &wordDecoder}

// ParseRawEmail parses one raw RFC 822 message into the normalized
// form the rest of the pipeline consumes. Header values are decoded,
// addresses lowercased, bodies charset-decoded with replacement, and
// HTML sanitized.
func ParseRawEmail(raw []byte) (*ParsedEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	headers := Headers{}
	for key, values := range msg.Header {
		for _, v := range values {
			headers[key] = append(headers[key], decodeHeader(v))
		}
	}

	subject := decodeHeader(msg.Header.Get("Subject"))
	fromEmail, fromName := extractFrom(msg.Header)

	var date *time.Time
	if raw := msg.Header.Get("Date"); raw != "" {
		if parsed, err := mail.ParseDate(raw); err == nil {
			utc := parsed.UTC()
			date = &utc
		}
	}

	references := []string{}
	for _, ref := range msg.Header["References"] {
		for _, piece := range strings.Fields(ref) {
			references = append(references, piece)
		}
	}

	acc := &bodyAccumulator{}
	walkPart(textproto.MIMEHeader(msg.Header), msg.Body, acc)

	bodyText := joinParts(acc.textParts)
	bodyHTML := joinParts(acc.htmlParts)

	return &ParsedEmail{
		RFCMessageID:      strings.TrimSpace(msg.Header.Get("Message-Id")),
		Date:              date,
		Subject:           subject,
		SubjectNorm:       NormalizeSubject(subject),
		FromEmail:         fromEmail,
		FromName:          fromName,
		ReplyToEmails:     extractAddresses(msg.Header, "Reply-To"),
		ToEmails:          extractAddresses(msg.Header, "To"),
		CcEmails:          extractAddresses(msg.Header, "Cc"),
		Headers:           headers,
		BodyText:          bodyText,
		BodyHTMLSanitized: SanitizeHTML(bodyHTML),
		InReplyTo:         strings.TrimSpace(msg.Header.Get("In-Reply-To")),
		References:        references,
		Attachments:       acc.attachments,
	}, nil
}

type bodyAccumulator struct {
	textParts   []string
	htmlParts   []string
	attachments []ParsedAttachment
}

// walkPart descends into multipart containers and classifies every
// leaf as attachment, text body, or noise. Decode failures skip the
// part rather than failing the whole message.
func walkPart(header textproto.MIMEHeader, body io.Reader, acc *bodyAccumulator) {
	mediaType := "text/plain"
	var params map[string]string
	if ct := header.Get("Content-Type"); ct != "" {
		if parsed, p, err := mime.ParseMediaType(ct); err == nil {
			mediaType = strings.ToLower(parsed)
			params = p
		}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err != nil {
				return
			}
			walkPart(part.Header, part, acc)
		}
	}

	disposition := ""
	var dispParams map[string]string
	if cd := header.Get("Content-Disposition"); cd != "" {
		if parsed, p, err := mime.ParseMediaType(cd); err == nil {
			disposition = strings.ToLower(parsed)
			dispParams = p
		}
	}
	filename := decodeHeader(dispParams["filename"])
	if filename == "" {
		filename = decodeHeader(params["name"])
	}

	payload := decodePayload(header.Get("Content-Transfer-Encoding"), body)

	if (disposition == "attachment" || disposition == "inline") && filename != "" {
		acc.attachments = append(acc.attachments, ParsedAttachment{
			Filename:    filename,
			ContentType: mediaType,
			Payload:     payload,
			IsInline:    disposition == "inline",
			ContentID:   strings.Trim(strings.TrimSpace(header.Get("Content-Id")), "<>"),
		})
		return
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		return
	}
	text := decodeText(payload, params["charset"])
	if strings.TrimSpace(text) == "" {
		return
	}
	if mediaType == "text/plain" {
		acc.textParts = append(acc.textParts, text)
	} else {
		acc.htmlParts = append(acc.htmlParts, text)
	}
}

// decodePayload undoes the content transfer encoding. multipart.Part
// already strips quoted-printable, so that branch only runs for
// non-multipart top-level bodies.
func decodePayload(encoding string, r io.Reader) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		data, _ := io.ReadAll(base64.NewDecoder(base64.StdEncoding, r))
		return data
	case "quoted-printable":
		data, _ := io.ReadAll(quotedprintable.NewReader(r))
		return data
	default:
		data, _ := io.ReadAll(r)
		return data
	}
}

func decodeText(data []byte, charset string) string {
	charset = strings.ToLower(strings.TrimSpace(charset))
	switch charset {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return string(data)
	}
	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil || enc == nil {
		return string(data)
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil || enc == nil {
		return input, nil
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

func decodeHeader(value string) string {
	if value == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func extractFrom(header mail.Header) (email, name string) {
	value := header.Get("From")
	if value == "" {
		return "", ""
	}
	addrs, err := addressParser.ParseList(value)
	if err != nil || len(addrs) == 0 {
		addr, err := addressParser.Parse(value)
		if err != nil {
			return "", ""
		}
		addrs = []*mail.Address{addr}
	}
	email = strings.ToLower(strings.TrimSpace(addrs[0].Address))
	name = strings.TrimSpace(addrs[0].Name)
	return email, name
}

func extractAddresses(header mail.Header, name string) []string {
	out := []string{}
	for _, value := range header[textproto.CanonicalMIMEHeaderKey(name)] {
		addrs, err := addressParser.ParseList(value)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			email := strings.ToLower(strings.TrimSpace(addr.Address))
			if email != "" {
				out = append(out, email)
			}
		}
	}
	return out
}

func joinParts(parts []string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "\n\n")
}
