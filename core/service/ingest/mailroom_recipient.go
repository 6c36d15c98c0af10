package ingest

import (
	"net/mail"
	"strings"

	"mailroom_server/core/domain"
)

// RecipientResolution is the outcome of scanning delivery headers for
// the address the journal mailbox received this message for.
type RecipientResolution struct {
	Recipient  string
	Source     domain.RecipientSource
	Confidence domain.Confidence
	Evidence   map[string]any
}

// ResolveOriginalRecipient picks the original recipient from delivery
// headers in precedence order: X-Gm-Original-To, then Delivered-To,
// then X-Original-To, then the first To address, then the first Cc
// address. The evidence map records every candidate considered.
func ResolveOriginalRecipient(headers Headers, toEmails, ccEmails []string) RecipientResolution {
	xGm := headerCandidates(headers, "x-gm-original-to")
	delivered := headerCandidates(headers, "delivered-to")
	xOriginal := headerCandidates(headers, "x-original-to")

	var selected, selectedFrom string
	source := domain.RecipientSourceUnknown
	confidence := domain.ConfidenceLow

	switch {
	case len(xGm) > 0:
		selected = xGm[0]
		selectedFrom = "X-Gm-Original-To"
		source = domain.RecipientSourceWorkspaceHeader
		confidence = domain.ConfidenceHigh
	case len(delivered) > 0:
		selected = delivered[0]
		selectedFrom = "Delivered-To"
		source = domain.RecipientSourceDeliveredTo
		confidence = domain.ConfidenceMedium
	case len(xOriginal) > 0:
		selected = xOriginal[0]
		selectedFrom = "X-Original-To"
		source = domain.RecipientSourceXOriginalTo
		confidence = domain.ConfidenceMedium
	case len(toEmails) > 0:
		selected = strings.ToLower(strings.TrimSpace(toEmails[0]))
		if selected != "" {
			selectedFrom = "to"
			source = domain.RecipientSourceToCcScan
		}
	case len(ccEmails) > 0:
		selected = strings.ToLower(strings.TrimSpace(ccEmails[0]))
		if selected != "" {
			selectedFrom = "cc"
			source = domain.RecipientSourceToCcScan
		}
	}

	return RecipientResolution{
		Recipient:  selected,
		Source:     source,
		Confidence: confidence,
		Evidence: map[string]any{
			"selected_from":               nullableString(selectedFrom),
			"selected_value":              nullableString(selected),
			"x_gm_original_to_candidates": xGm,
			"delivered_to_candidates":     delivered,
			"x_original_to_candidates":    xOriginal,
			"to_candidates":               cleanedEmails(toEmails),
			"cc_candidates":               cleanedEmails(ccEmails),
		},
	}
}

// headerCandidates parses every value of the named header as an
// address list and returns lowercased addresses, first occurrence
// wins.
func headerCandidates(headers Headers, name string) []string {
	emails := []string{}
	seen := map[string]struct{}{}
	for _, raw := range headers.Values(name) {
		for _, addr := range parseAddressList(raw) {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			emails = append(emails, addr)
		}
	}
	return emails
}

func parseAddressList(raw string) []string {
	var out []string
	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		// Bare addresses without display names still parse one at a
		// time.
		for _, piece := range strings.Split(raw, ",") {
			addr, err := mail.ParseAddress(strings.TrimSpace(piece))
			if err != nil {
				continue
			}
			out = append(out, strings.ToLower(strings.TrimSpace(addr.Address)))
		}
		return out
	}
	for _, addr := range addrs {
		email := strings.ToLower(strings.TrimSpace(addr.Address))
		if email != "" {
			out = append(out, email)
		}
	}
	return out
}

func cleanedEmails(emails []string) []string {
	out := []string{}
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
