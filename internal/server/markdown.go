package server

import (
	"bytes"
	"html"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	md        = goldmark.New()
	sanitizer = bluemonday.UGCPolicy()
)

// renderOverview turns the overview's inline markdown (mostly **bold**
// names) into sanitized HTML.
func renderOverview(text string) string {
	if text == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "<p>" + html.EscapeString(text) + "</p>"
	}
	return sanitizer.Sanitize(buf.String())
}
