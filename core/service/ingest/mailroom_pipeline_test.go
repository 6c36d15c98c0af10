package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnippet(t *testing.T) {
	long := strings.Repeat("ü", 300)

	tests := []struct {
		name     string
		bodyText string
		subject  string
		want     string
	}{
		{"body preferred", "body text", "subject", "body text"},
		{"subject fallback", "", "subject only", "subject only"},
		{"both empty", "", "", ""},
		{"long body capped at runes", long, "", strings.Repeat("ü", 280)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Snippet(tt.bodyText, tt.subject))
		})
	}
}
