// Package scanner recognizes artifact, action and quick-action tag
// boundaries in a growing text buffer.
//
// All searches are ASCII case-insensitive and byte-offset based, so offsets
// returned for a buffer stay valid when more text is appended to it. When a
// requested tag is not present but the buffer ends with a prefix of it, the
// scanner reports Incomplete instead of NotFound so that callers hold their
// cursor in front of the partial tag until more text arrives.
package scanner

import (
	"strings"

	"golang.org/x/net/html"
)

// Tag literals.
const (
	ArtifactOpen      = "<stageArtifact"
	ArtifactClose     = "</stageArtifact>"
	ActionOpen        = "<stageAction"
	ActionClose       = "</stageAction>"
	QuickActionsOpen  = "<stageQuickActions>"
	QuickActionsClose = "</stageQuickActions>"
	QuickActionOpen   = "<stageQuickAction"
	QuickActionClose  = "</stageQuickAction>"
)

// Status is the outcome of a tag search.
type Status int

const (
	// NotFound means the tag does not occur and the buffer tail is not a prefix of it.
	NotFound Status = iota
	// Found means the full tag literal occurs at Match.Start.
	Found
	// Incomplete means the buffer ends with a proper prefix of the tag
	// starting at Match.Start; more input is needed to decide.
	Incomplete
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Incomplete:
		return "incomplete"
	default:
		return "not_found"
	}
}

// Match is the result of a tag search.
type Match struct {
	Status Status
	// Start is the byte offset of the tag (or of its partial prefix).
	Start int
	// Tag is the literal that matched.
	Tag string
}

// Find searches buf for literal at or after from.
func Find(buf string, from int, literal string) Match {
	if from < 0 {
		from = 0
	}
	if from > len(buf) {
		return Match{Status: NotFound, Start: -1}
	}
	if i := IndexFold(buf[from:], literal); i >= 0 {
		return Match{Status: Found, Start: from + i, Tag: literal}
	}
	if i := partialTail(buf, from, literal); i >= 0 {
		return Match{Status: Incomplete, Start: i, Tag: literal}
	}
	return Match{Status: NotFound, Start: -1}
}

// FindFirst searches for the earliest of several literals. A full match
// always wins over a partial one; among partial tails the earliest start wins.
func FindFirst(buf string, from int, literals ...string) Match {
	best := Match{Status: NotFound, Start: -1}
	for _, lit := range literals {
		m := Find(buf, from, lit)
		switch m.Status {
		case Found:
			if best.Status != Found || m.Start < best.Start {
				best = m
			}
		case Incomplete:
			if best.Status == NotFound || (best.Status == Incomplete && m.Start < best.Start) {
				best = m
			}
		}
	}
	return best
}

// partialTail returns the offset of the longest proper prefix of literal
// that ends the buffer, or -1.
func partialTail(buf string, from int, literal string) int {
	maxLen := len(literal) - 1
	if avail := len(buf) - from; avail < maxLen {
		maxLen = avail
	}
	for k := maxLen; k > 0; k-- {
		start := len(buf) - k
		if equalFoldASCII(buf[start:], literal[:k]) {
			return start
		}
	}
	return -1
}

// NameBoundary inspects the byte following a tag name that starts at
// start. The name is only accepted when followed by '>' or whitespace, which
// separates <stageAction from <stageActions and similar identifiers.
func NameBoundary(buf string, start int, literal string) (accepted, incomplete bool) {
	next := start + len(literal)
	if next >= len(buf) {
		return false, true
	}
	switch buf[next] {
	case '>', ' ', '\t', '\n', '\r', '\f':
		return true, false
	default:
		return false, false
	}
}

// TagEnd returns the offset just past the '>' that closes the opening tag
// beginning at start. Quoted attribute values may contain '>'.
// ok is false when the tag has not been fully received.
func TagEnd(buf string, start int) (end int, ok bool) {
	var quote byte
	for i := start + 1; i < len(buf); i++ {
		c := buf[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i + 1, true
		}
	}
	return -1, false
}

// Attrs is a set of tag attributes keyed by lower-cased name.
type Attrs map[string]string

// Get returns the attribute value, matching the name case-insensitively.
func (a Attrs) Get(name string) string {
	return a[strings.ToLower(name)]
}

// Has reports whether the attribute is present.
func (a Attrs) Has(name string) bool {
	_, ok := a[strings.ToLower(name)]
	return ok
}

// Attributes tokenizes a complete opening tag and returns its attributes.
// Values are entity-decoded.
func Attributes(tag string) Attrs {
	attrs := Attrs{}
	z := html.NewTokenizer(strings.NewReader(tag))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return attrs
		case html.StartTagToken, html.SelfClosingTagToken:
			for _, a := range z.Token().Attr {
				attrs[strings.ToLower(a.Key)] = a.Val
			}
			return attrs
		}
	}
}

// IndexFold is an ASCII case-insensitive strings.Index.
func IndexFold(s, substr string) int {
	n := len(substr)
	if n == 0 {
		return 0
	}
	first := lower(substr[0])
	for i := 0; i+n <= len(s); i++ {
		if lower(s[i]) != first {
			continue
		}
		if equalFoldASCII(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

// HasPrefixFold is an ASCII case-insensitive strings.HasPrefix.
func HasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && equalFoldASCII(s[:len(prefix)], prefix)
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lower(a[i]) != lower(b[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
