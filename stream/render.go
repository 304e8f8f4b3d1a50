package stream

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/pithecene-io/stagehand/scanner"
)

// ArtifactPlaceholder returns the display element that stands in for an
// artifact in the transcript.
func ArtifactPlaceholder(messageID, artifactID string) string {
	return `<div class="__stageArtifact__" data-message-id="` + html.EscapeString(messageID) +
		`" data-artifact-id="` + html.EscapeString(artifactID) + `"></div>`
}

// QuickAction is one button of a quick-actions block.
type QuickAction struct {
	Type    string
	Message string
	Path    string
	Href    string
	Label   string
}

// parseQuickActions extracts the leaf elements of a quick-actions body.
// Malformed leaves are skipped.
func parseQuickActions(body string) []QuickAction {
	var actions []QuickAction
	pos := 0
	for {
		m := scanner.Find(body, pos, scanner.QuickActionOpen)
		if m.Status != scanner.Found {
			return actions
		}
		accepted, _ := scanner.NameBoundary(body, m.Start, scanner.QuickActionOpen)
		if !accepted {
			pos = m.Start + len(scanner.QuickActionOpen)
			continue
		}
		end, ok := scanner.TagEnd(body, m.Start)
		if !ok {
			return actions
		}
		closing := scanner.Find(body, end, scanner.QuickActionClose)
		if closing.Status != scanner.Found {
			return actions
		}
		attrs := scanner.Attributes(body[m.Start:end])
		actions = append(actions, QuickAction{
			Type:    attrs.Get("type"),
			Message: attrs.Get("message"),
			Path:    attrs.Get("path"),
			Href:    attrs.Get("href"),
			Label:   strings.TrimSpace(body[end:closing.Start]),
		})
		pos = closing.Start + len(scanner.QuickActionClose)
	}
}

// renderQuickActions returns the button group that replaces a quick-actions block.
func renderQuickActions(messageID string, actions []QuickAction) string {
	var b strings.Builder
	b.WriteString(`<div class="__stageQuickActions__" data-message-id="`)
	b.WriteString(html.EscapeString(messageID))
	b.WriteString(`">`)
	for _, a := range actions {
		b.WriteString(`<button class="__stageQuickAction__" data-type="`)
		b.WriteString(html.EscapeString(a.Type))
		b.WriteString(`" data-message="`)
		b.WriteString(html.EscapeString(a.Message))
		b.WriteString(`" data-path="`)
		b.WriteString(html.EscapeString(a.Path))
		b.WriteString(`" data-href="`)
		b.WriteString(html.EscapeString(a.Href))
		b.WriteString(`">`)
		b.WriteString(html.EscapeString(a.Label))
		b.WriteString(`</button>`)
	}
	b.WriteString(`</div>`)
	return b.String()
}
