package heuristic

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/pithecene-io/stagehand/scanner"
)

// Range is a half-open byte range [Start, End).
type Range struct {
	Start int
	End   int
}

// Overlaps reports whether r and o share at least one byte.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Edit replaces Range of the document text with Text.
type Edit struct {
	Range
	Text string
}

// Document is the text of one message while classifiers rewrite it.
type Document struct {
	MessageID string
	Text      string

	seen map[string]int
}

// NewDocument wraps text for classification. seen maps content hashes to the
// offset of their first wrapped occurrence; it may be nil for one-shot use.
func NewDocument(messageID, text string, seen map[string]int) *Document {
	if seen == nil {
		seen = make(map[string]int)
	}
	return &Document{MessageID: messageID, Text: text, seen: seen}
}

// TaggedRanges returns the byte ranges covered by artifacts and quick-action
// blocks. An artifact whose close tag has not arrived extends to the end of
// the text. The ranges are computed from the current text, so callers must
// ask again after every rewrite.
func (d *Document) TaggedRanges() []Range {
	var ranges []Range
	pos := 0
	for pos < len(d.Text) {
		m := scanner.FindFirst(d.Text, pos, scanner.ArtifactOpen, scanner.QuickActionsOpen)
		if m.Status != scanner.Found {
			if m.Status == scanner.Incomplete {
				ranges = append(ranges, Range{m.Start, len(d.Text)})
			}
			break
		}
		closeTag := scanner.ArtifactClose
		if m.Tag == scanner.QuickActionsOpen {
			closeTag = scanner.QuickActionsClose
		}
		c := scanner.Find(d.Text, m.Start+len(m.Tag), closeTag)
		if c.Status != scanner.Found {
			ranges = append(ranges, Range{m.Start, len(d.Text)})
			break
		}
		end := c.Start + len(closeTag)
		ranges = append(ranges, Range{m.Start, end})
		pos = end
	}
	return ranges
}

// Untagged reports whether r lies completely outside the given tagged ranges.
func Untagged(r Range, tagged []Range) bool {
	for _, t := range tagged {
		if r.Overlaps(t) {
			return false
		}
	}
	return true
}

// HasTagBefore reports whether an artifact opens before offset.
func (d *Document) HasTagBefore(offset int) bool {
	return scanner.IndexFold(d.Text[:offset], scanner.ArtifactOpen) >= 0
}

// Claim records content found at offset and reports whether it may be
// wrapped. The first occurrence of a piece of content owns it; the same
// content seen again at the same offset on a later call is accepted again,
// while a repetition elsewhere in the message is rejected.
func (d *Document) Claim(content string, offset int) bool {
	h := contentHash(content)
	if first, ok := d.seen[h]; ok {
		return first == offset
	}
	d.seen[h] = offset
	return true
}

// Apply performs non-overlapping edits. Edits may be given in any order.
func (d *Document) Apply(edits []Edit) int {
	if len(edits) == 0 {
		return 0
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].Start > edits[j].Start })
	text := d.Text
	last := len(text) + 1
	applied := 0
	for _, e := range edits {
		if e.End > last {
			continue
		}
		text = text[:e.Start] + e.Text + text[e.End:]
		last = e.Start
		applied++
	}
	d.Text = text
	return applied
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(s)))
	return hex.EncodeToString(sum[:8])
}

// masked returns the text with tagged ranges blanked out. Newlines are kept
// so offsets and line structure survive.
func masked(text string, tagged []Range) string {
	if len(tagged) == 0 {
		return text
	}
	b := []byte(text)
	for _, r := range tagged {
		for i := r.Start; i < r.End && i < len(b); i++ {
			if b[i] != '\n' {
				b[i] = ' '
			}
		}
	}
	return string(b)
}

// lineStart returns the offset of the first byte of the line containing pos.
func lineStart(text string, pos int) int {
	return strings.LastIndexByte(text[:pos], '\n') + 1
}

// lineEnd returns the offset of the newline ending the line containing pos,
// or len(text).
func lineEnd(text string, pos int) int {
	if i := strings.IndexByte(text[pos:], '\n'); i >= 0 {
		return pos + i
	}
	return len(text)
}

// precedingLines returns up to n non-blank lines that end before pos,
// nearest first.
func precedingLines(text string, pos, n int) []string {
	var lines []string
	end := lineStart(text, pos)
	for end > 0 && len(lines) < n {
		start := lineStart(text, end-1)
		if line := strings.TrimSpace(text[start : end-1]); line != "" {
			lines = append(lines, line)
		}
		end = start
	}
	return lines
}
