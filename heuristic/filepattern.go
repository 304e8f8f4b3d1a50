package heuristic

import (
	"regexp"
	"strings"
)

var (
	pathToken    = regexp.MustCompile(`[\w@+./-]+\.[A-Za-z0-9]{1,10}`)
	quotedToken  = regexp.MustCompile("`([^`\\s]+)`")
	creationWord = regexp.MustCompile(`(?i)\b(create|creating|add|adding|write|writing|save|update|updating|modify|replace|new file|put (?:this|the following) in)\b`)
	pathHeading  = regexp.MustCompile(`^(?:#{1,6}\s*)?(?:\*\*|__|` + "`" + `)?(?:(?i:file(?:name)?):\s*)?` +
		`(?:\*\*|__|` + "`" + `)?([\w@+./-]+\.[A-Za-z0-9]{1,10})(?:\*\*|__|` + "`" + `)?:?$`)
	commentPath = regexp.MustCompile(`^(?://|#|--|/\*|<!--)\s*((?i:file(?:name)?|path):\s*)?([\w@+./-]+\.[A-Za-z0-9]{1,10})\s*(?:\*/|-->)?\s*$`)
	moduleStart = regexp.MustCompile(`^(?:import\s.+\sfrom\s+['"]|import\s+['"]|(?:const|let|var)\s+\w+\s*=\s*require\(|['"]use (?:strict|client)['"])`)
	proseLine   = regexp.MustCompile(`^[A-Z][^;{}()=<>]*[.!?:]$`)
)

var structuredLangs = map[string]bool{
	"json": true, "jsx": true, "tsx": true, "html": true, "xml": true, "yaml": true, "yml": true, "toml": true,
}

// candidate is a block recognized as the content of a file.
type candidate struct {
	Range
	path    string
	content string
}

// family is one detection pattern of the file classifier. Families that
// are not explicit need creation phrasing near the block.
type family struct {
	name     string
	explicit bool
	find     func(doc *Document, tagged []Range) []candidate
}

var fileFamilies = []family{
	{name: "path_heading", explicit: true, find: findPathHeading},
	{name: "creation_phrase", explicit: true, find: findCreationPhrase},
	{name: "leading_comment", find: findLeadingComment},
	{name: "structured_block", find: findStructured},
	{name: "raw_module", explicit: true, find: findRawModule},
}

// FilePattern wraps untagged code that is clearly meant to be a file.
type FilePattern struct{}

// Name implements Classifier.
func (FilePattern) Name() string { return "filepattern" }

// Apply implements Classifier.
func (FilePattern) Apply(doc *Document) int {
	total := 0
	for _, fam := range fileFamilies {
		tagged := doc.TaggedRanges()
		var edits []Edit
		for _, c := range fam.find(doc, tagged) {
			if !Untagged(c.Range, tagged) || !ValidPath(c.path) {
				continue
			}
			if !fam.explicit && !hasCreationContext(doc.Text, c.Start) {
				continue
			}
			if !doc.Claim(c.path+"\x00"+c.content, c.Start) {
				continue
			}
			edits = append(edits, Edit{Range: c.Range, Text: WrapFile(c.path, c.path, c.content)})
		}
		total += doc.Apply(edits)
	}
	return total
}

func hasCreationContext(text string, pos int) bool {
	for _, l := range precedingLines(text, pos, 3) {
		if creationWord.MatchString(l) {
			return true
		}
	}
	return false
}

// pickPath chooses the most likely file path mentioned on a line:
// a backtick-quoted path first, then one with a directory, then the last one.
func pickPath(line string) string {
	for _, m := range quotedToken.FindAllStringSubmatch(line, -1) {
		if p := cleanPath(m[1]); ValidPath(p) {
			return p
		}
	}
	var valid []string
	for _, tok := range pathToken.FindAllString(line, -1) {
		if p := cleanPath(tok); ValidPath(p) {
			if strings.Contains(p, "/") {
				return p
			}
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return ""
	}
	return valid[len(valid)-1]
}

func closedFences(doc *Document, tagged []Range) []Fence {
	var out []Fence
	for _, f := range Fences(doc.Text, tagged) {
		if f.Closed {
			out = append(out, f)
		}
	}
	return out
}

// findPathHeading matches a line holding only a path right above a block.
func findPathHeading(doc *Document, tagged []Range) []candidate {
	var out []candidate
	for _, f := range closedFences(doc, tagged) {
		prev := precedingLines(doc.Text, f.Start, 1)
		if len(prev) == 0 {
			continue
		}
		m := pathHeading.FindStringSubmatch(prev[0])
		if m == nil {
			continue
		}
		out = append(out, candidate{Range: f.Range, path: cleanPath(m[1]), content: f.Body})
	}
	return out
}

// findCreationPhrase matches "create src/x.ts:" style lines above a block.
func findCreationPhrase(doc *Document, tagged []Range) []candidate {
	var out []candidate
	for _, f := range closedFences(doc, tagged) {
		prev := precedingLines(doc.Text, f.Start, 1)
		if len(prev) == 0 || !creationWord.MatchString(prev[0]) {
			continue
		}
		if p := pickPath(prev[0]); p != "" {
			out = append(out, candidate{Range: f.Range, path: p, content: f.Body})
		}
	}
	return out
}

// findLeadingComment matches blocks whose first line is a comment naming
// the file. The comment line is dropped from the content.
func findLeadingComment(doc *Document, tagged []Range) []candidate {
	var out []candidate
	for _, f := range closedFences(doc, tagged) {
		first, rest, _ := strings.Cut(f.Body, "\n")
		m := commentPath.FindStringSubmatch(strings.TrimSpace(first))
		if m == nil {
			continue
		}
		out = append(out, candidate{Range: f.Range, path: cleanPath(m[2]), content: rest})
	}
	return out
}

// findStructured matches JSON, JSX and markup blocks preceded by a line
// that mentions a path.
func findStructured(doc *Document, tagged []Range) []candidate {
	var out []candidate
	for _, f := range closedFences(doc, tagged) {
		if !structuredLangs[f.Lang] {
			continue
		}
		prev := precedingLines(doc.Text, f.Start, 1)
		if len(prev) == 0 {
			continue
		}
		if p := pickPath(prev[0]); p != "" {
			out = append(out, candidate{Range: f.Range, path: p, content: f.Body})
		}
	}
	return out
}

// findRawModule matches an unfenced ES or CommonJS module body that starts
// after a line naming the file and ends before a blank line followed by
// prose. Bodies without a terminating prose line are still streaming and
// are left alone.
func findRawModule(doc *Document, tagged []Range) []candidate {
	text := masked(doc.Text, tagged)
	fences := Fences(doc.Text, tagged)
	var out []candidate

	pos := 0
	for pos < len(text) {
		end := lineEnd(text, pos)
		line := strings.TrimSpace(text[pos:end])
		if !moduleStart.MatchString(line) || insideFence(fences, pos) {
			pos = end + 1
			continue
		}
		bodyEnd, next, ok := moduleEnd(text, pos)
		if !ok {
			return out
		}
		body := strings.TrimRight(doc.Text[pos:bodyEnd], "\n")
		if strings.Contains(body, "export ") || strings.Contains(body, "module.exports") {
			if prev := precedingLines(doc.Text, pos, 1); len(prev) > 0 {
				p := pickPath(prev[0])
				if m := pathHeading.FindStringSubmatch(prev[0]); m != nil {
					p = cleanPath(m[1])
				}
				if p != "" && (creationWord.MatchString(prev[0]) || pathHeading.MatchString(prev[0])) {
					out = append(out, candidate{Range: Range{pos, pos + len(body)}, path: p, content: body})
				}
			}
		}
		pos = next
	}
	return out
}

// moduleEnd finds the blank line that precedes a prose line after start.
// It returns the offset where the body ends and where scanning resumes.
func moduleEnd(text string, start int) (bodyEnd, next int, ok bool) {
	blank := -1
	pos := start
	for pos < len(text) {
		end := lineEnd(text, pos)
		if end == len(text) {
			// the last line may still be arriving
			return 0, 0, false
		}
		line := strings.TrimSpace(text[pos:end])
		switch {
		case line == "":
			if blank < 0 {
				blank = pos
			}
		case blank >= 0 && proseLine.MatchString(line):
			return blank, pos, true
		default:
			blank = -1
		}
		pos = end + 1
	}
	return 0, 0, false
}

func insideFence(fences []Fence, pos int) bool {
	for _, f := range fences {
		if pos >= f.Start && pos < f.End {
			return true
		}
	}
	return false
}
