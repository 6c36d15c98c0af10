package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHTML(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "empty input",
			html: "",
			want: "",
		},
		{
			name: "script stripped",
			html: `<p>hello</p><script>alert(1)</script>`,
			want: `<p>hello</p>`,
		},
		{
			name: "http link kept",
			html: `<a href="https://acme.test/status">status</a>`,
			want: `<a href="https://acme.test/status">status</a>`,
		},
		{
			name: "mailto link kept",
			html: `<a href="mailto:support@acme.test">mail us</a>`,
			want: `<a href="mailto:support@acme.test">mail us</a>`,
		},
		{
			name: "javascript href dropped",
			html: `<a href="javascript:alert(1)">click</a>`,
			want: `<a>click</a>`,
		},
		{
			name: "cid image kept",
			html: `<img src="cid:logo@acme" alt="logo">`,
			want: `<img src="cid:logo@acme" alt="logo">`,
		},
		{
			name: "remote image source dropped",
			html: `<img src="https://tracker.test/pixel.gif" alt="x">`,
			want: `<img alt="x">`,
		},
		{
			name: "style attribute dropped",
			html: `<div style="display:none">hidden</div>`,
			want: `<div>hidden</div>`,
		},
		{
			name: "unknown elements unwrapped",
			html: `<form><p>inner</p></form>`,
			want: `<p>inner</p>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeHTML(tt.html))
		})
	}
}
