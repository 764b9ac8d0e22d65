package render

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	markdown = goldmark.New()
	policy   = bluemonday.UGCPolicy()
	strict   = bluemonday.StrictPolicy()
)

// MarkdownToHTML renders user-authored markdown into sanitized HTML.
func MarkdownToHTML(src string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return ""
	}
	return policy.Sanitize(buf.String())
}

// SanitizeText strips all markup from a plain-text field such as a title.
func SanitizeText(src string) string {
	return strict.Sanitize(src)
}
