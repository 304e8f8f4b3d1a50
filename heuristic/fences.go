package heuristic

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// Fence is a fenced code block located in the document text.
type Fence struct {
	// Range spans from the opening fence line to the end of the closing
	// fence line (newline excluded).
	Range
	Lang string
	Body string
	// Closed is false for a block still waiting for its closing fence.
	Closed bool
}

var markdown = goldmark.New()

// Fences returns the fenced code blocks of text that lie outside tagged.
// Tagged ranges are blanked before parsing so that artifact bodies cannot
// swallow or open blocks.
func Fences(text string, tagged []Range) []Fence {
	source := []byte(masked(text, tagged))
	doc := markdown.Parser().Parse(gmtext.NewReader(source))

	var fences []Fence
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		code, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		if f, ok := fenceFromNode(text, source, code); ok && Untagged(f.Range, tagged) {
			fences = append(fences, f)
		}
		return ast.WalkSkipChildren, nil
	})
	return fences
}

func fenceFromNode(text string, source []byte, code *ast.FencedCodeBlock) (Fence, bool) {
	lines := code.Lines()
	var openerAt int
	switch {
	case code.Info != nil:
		openerAt = code.Info.Segment.Start
	case lines.Len() > 0:
		openerAt = lines.At(0).Start - 1
	default:
		return Fence{}, false
	}
	if openerAt < 0 {
		return Fence{}, false
	}
	start := lineStart(text, openerAt)

	var body strings.Builder
	bodyEnd := lineEnd(text, openerAt)
	if bodyEnd < len(text) {
		bodyEnd++
	}
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		body.Write(seg.Value(source))
		bodyEnd = seg.Stop
	}

	f := Fence{
		Range: Range{start, len(text)},
		Lang:  strings.ToLower(string(code.Language(source))),
		Body:  strings.TrimRight(body.String(), "\n"),
	}
	if bodyEnd >= len(text) {
		return f, true
	}
	closing := strings.TrimSpace(text[bodyEnd:lineEnd(text, bodyEnd)])
	if strings.HasPrefix(closing, "```") || strings.HasPrefix(closing, "~~~") {
		f.End = lineEnd(text, bodyEnd)
		f.Closed = true
	}
	return f, true
}
