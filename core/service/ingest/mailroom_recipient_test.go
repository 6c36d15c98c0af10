package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailroom_server/core/domain"
)

func TestResolveOriginalRecipient(t *testing.T) {
	tests := []struct {
		name           string
		headers        Headers
		toEmails       []string
		ccEmails       []string
		wantRecipient  string
		wantSource     domain.RecipientSource
		wantConfidence domain.Confidence
		wantFrom       any
	}{
		{
			name: "workspace header wins",
			headers: Headers{
				"X-Gm-Original-To": {"support@acme.test"},
				"Delivered-To":     {"journal@acme.test"},
			},
			toEmails:       []string{"everyone@acme.test"},
			wantRecipient:  "support@acme.test",
			wantSource:     domain.RecipientSourceWorkspaceHeader,
			wantConfidence: domain.ConfidenceHigh,
			wantFrom:       "X-Gm-Original-To",
		},
		{
			name: "delivered-to next",
			headers: Headers{
				"Delivered-To":  {"Billing <billing@acme.test>"},
				"X-Original-To": {"other@acme.test"},
			},
			wantRecipient:  "billing@acme.test",
			wantSource:     domain.RecipientSourceDeliveredTo,
			wantConfidence: domain.ConfidenceMedium,
			wantFrom:       "Delivered-To",
		},
		{
			name:           "x-original-to next",
			headers:        Headers{"x-original-to": {"ops@acme.test"}},
			wantRecipient:  "ops@acme.test",
			wantSource:     domain.RecipientSourceXOriginalTo,
			wantConfidence: domain.ConfidenceMedium,
			wantFrom:       "X-Original-To",
		},
		{
			name:           "first to address",
			headers:        Headers{},
			toEmails:       []string{" Support@Acme.Test ", "second@acme.test"},
			wantRecipient:  "support@acme.test",
			wantSource:     domain.RecipientSourceToCcScan,
			wantConfidence: domain.ConfidenceLow,
			wantFrom:       "to",
		},
		{
			name:           "cc fallback",
			headers:        Headers{},
			ccEmails:       []string{"cc@acme.test"},
			wantRecipient:  "cc@acme.test",
			wantSource:     domain.RecipientSourceToCcScan,
			wantConfidence: domain.ConfidenceLow,
			wantFrom:       "cc",
		},
		{
			name:           "nothing resolvable",
			headers:        Headers{},
			wantRecipient:  "",
			wantSource:     domain.RecipientSourceUnknown,
			wantConfidence: domain.ConfidenceLow,
			wantFrom:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveOriginalRecipient(tt.headers, tt.toEmails, tt.ccEmails)

			assert.Equal(t, tt.wantRecipient, got.Recipient)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, tt.wantConfidence, got.Confidence)
			assert.Equal(t, tt.wantFrom, got.Evidence["selected_from"])
		})
	}
}

func TestResolveOriginalRecipientEvidence(t *testing.T) {
	headers := Headers{
		"X-Gm-Original-To": {"support@acme.test, Support <support@acme.test>"},
		"Delivered-To":     {"journal@acme.test"},
	}

	got := ResolveOriginalRecipient(headers, []string{"To@Acme.Test", ""}, nil)

	assert.Equal(t, "support@acme.test", got.Evidence["selected_value"])
	assert.Equal(t, []string{"support@acme.test"}, got.Evidence["x_gm_original_to_candidates"], "duplicate candidates collapse")
	assert.Equal(t, []string{"journal@acme.test"}, got.Evidence["delivered_to_candidates"])
	assert.Equal(t, []string{}, got.Evidence["x_original_to_candidates"])
	assert.Equal(t, []string{"to@acme.test"}, got.Evidence["to_candidates"])
	assert.Equal(t, []string{}, got.Evidence["cc_candidates"])
}
