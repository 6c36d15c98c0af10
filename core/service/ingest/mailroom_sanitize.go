package ingest

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var htmlPolicy = buildHTMLPolicy()

func buildHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"a", "p", "br", "div", "span", "strong", "em", "b", "i",
		"ul", "ol", "li", "blockquote", "code", "pre",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"table", "thead", "tbody", "tr", "td", "th", "hr", "img",
	)

	p.AllowAttrs("href").Matching(regexp.MustCompile(`(?i)^\s*(https?://|mailto:)`)).OnElements("a")
	p.AllowAttrs("rel", "target").OnElements("a")
	p.AllowAttrs("src").Matching(regexp.MustCompile(`(?i)^\s*cid:`)).OnElements("img")
	p.AllowAttrs("title", "alt").Globally()

	return p
}

// SanitizeHTML reduces untrusted email HTML to a small allowlisted
// subset. Anchors keep http/https/mailto hrefs only; images keep
// cid: sources only. Returns "" when nothing survives.
func SanitizeHTML(html string) string {
	if html == "" {
		return ""
	}
	return strings.TrimSpace(htmlPolicy.Sanitize(html))
}
