// ABOUTME: Renders chat message text to HTML for display-ready push payloads
// ABOUTME: Uses goldmark with GFM autolinks and strikethrough; raw HTML is never passed through

package markdown

import (
	"bytes"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// Render converts message content to HTML. Content that fails to render
// falls back to escaped text so a message is never dropped for its markup.
func Render(content string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		return "<p>" + html.EscapeString(content) + "</p>"
	}
	return strings.TrimSpace(buf.String())
}
