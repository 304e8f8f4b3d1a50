package heuristic

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/pithecene-io/stagehand/scanner"
)

// artifactID derives a stable id from the wrapped content so that
// re-processing the same message yields byte-identical output.
func artifactID(prefix, content string) string {
	return prefix + "-" + contentHash(content)[:8]
}

func openArtifact(id, title, typ string) string {
	return scanner.ArtifactOpen + ` id="` + html.EscapeString(id) + `" title="` + html.EscapeString(title) +
		`" type="` + html.EscapeString(typ) + `">` + "\n"
}

// WrapFile returns an artifact holding one file action.
func WrapFile(title, filePath, content string) string {
	var b strings.Builder
	b.WriteString(openArtifact(artifactID("file", filePath+"\x00"+content), title, "bundled"))
	b.WriteString(scanner.ActionOpen + ` type="file" filePath="` + html.EscapeString(filePath) + `">` + "\n")
	b.WriteString(content)
	b.WriteString("\n" + scanner.ActionClose + "\n" + scanner.ArtifactClose)
	return b.String()
}

// WrapShell returns an artifact holding one shell action.
func WrapShell(title, command string) string {
	var b strings.Builder
	b.WriteString(openArtifact(artifactID("shell", command), title, "bundled"))
	b.WriteString(scanner.ActionOpen + ` type="shell">` + "\n")
	b.WriteString(command)
	b.WriteString("\n" + scanner.ActionClose + "\n" + scanner.ArtifactClose)
	return b.String()
}
