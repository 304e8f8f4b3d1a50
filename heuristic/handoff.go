package heuristic

import (
	"regexp"
)

// HandoffPath is the file a detected design hand-off payload is written to.
const HandoffPath = ".stagehand/handoff.json"

var handoffPhrase = regexp.MustCompile(`(?i)(hand(ing)?[- ]?off|design (brief|spec|summary)|here(?:'s| is) (?:the|your) (?:app )?(?:design|spec|blueprint|plan))`)

// Handoff wraps a design hand-off payload: a JSON object describing an app
// (name, description, category) that follows a hand-off phrase in a message
// with no tags before it.
type Handoff struct{}

// Name implements Classifier.
func (Handoff) Name() string { return "handoff" }

// Apply implements Classifier.
func (Handoff) Apply(doc *Document) int {
	tagged := doc.TaggedRanges()
	objs := Objects(doc.Text, 0, func(r Range) bool { return Untagged(r, tagged) })
	if len(objs) == 0 {
		return 0
	}
	r := objs[0]
	if doc.HasTagBefore(r.Start) || !handoffPhrase.MatchString(doc.Text[:r.Start]) {
		return 0
	}
	obj := doc.Text[r.Start:r.End]
	if !IsHandoff(obj) {
		return 0
	}
	region, ok := objectRegion(Fences(doc.Text, tagged), r, obj)
	if !ok || !doc.Claim(obj, region.Start) {
		return 0
	}
	return doc.Apply([]Edit{{Range: region, Text: WrapFile("Design Handoff", HandoffPath, obj)}})
}

// IsHandoff reports whether obj is valid JSON with app name, description
// and category keys.
func IsHandoff(obj string) bool {
	keys, ok := topLevelKeys(obj)
	if !ok {
		return false
	}
	_, camel := keys["appName"]
	_, snake := keys["app_name"]
	_, desc := keys["description"]
	_, cat := keys["category"]
	return (camel || snake) && desc && cat
}
