package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{"empty", "", ""},
		{"plain", "Printer is on fire", "Printer is on fire"},
		{"single re", "Re: Printer is on fire", "Printer is on fire"},
		{"case insensitive", "RE: Printer is on fire", "Printer is on fire"},
		{"fw prefix", "Fw: invoice", "invoice"},
		{"fwd prefix", "Fwd: invoice", "invoice"},
		{"stacked prefixes", "Re: Fwd: RE: invoice", "invoice"},
		{"leading whitespace", "   Re:   billing question  ", "billing question"},
		{"prefix only", "Re:", ""},
		{"embedded re not stripped", "Care: instructions", "Care: instructions"},
		{"re without colon kept", "Re invoice", "Re invoice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSubject(tt.subject))
		})
	}
}
