package tickets

import (
	"crypto/rand"
	"encoding/base32"
	"strings"

	"mailroom_server/pkg/apperr"
)

// NewTicketCode mints a short mailable code like "tkt-mfrggzdfmztwq2lk".
// 80 random bits of lowercase base32 survive copy-paste and the
// reply-to address grammar.
func NewTicketCode() (string, error) {
	var buf [10]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", apperr.InternalWithError(err)
	}
	code := strings.ToLower(strings.TrimRight(base32.StdEncoding.EncodeToString(buf[:]), "="))
	return "tkt-" + code, nil
}
