package heuristic

import (
	"encoding/json"
	"strings"
)

// ManifestPath is the file a detected package manifest is written to.
const ManifestPath = "package.json"

var manifestKeys = []string{"name", "version", "scripts", "dependencies", "devDependencies", "main"}

// Manifest wraps untagged package-manifest JSON objects into a file action.
type Manifest struct{}

// Name implements Classifier.
func (Manifest) Name() string { return "manifest" }

// Apply implements Classifier.
func (Manifest) Apply(doc *Document) int {
	tagged := doc.TaggedRanges()
	fences := Fences(doc.Text, tagged)

	var edits []Edit
	for _, r := range Objects(doc.Text, 0, func(r Range) bool { return Untagged(r, tagged) }) {
		obj := doc.Text[r.Start:r.End]
		if !IsManifest(obj) {
			continue
		}
		region, ok := objectRegion(fences, r, obj)
		if !ok || !doc.Claim(obj, region.Start) {
			continue
		}
		edits = append(edits, Edit{Range: region, Text: WrapFile("package.json", ManifestPath, obj)})
	}
	return doc.Apply(edits)
}

// IsManifest reports whether obj is valid JSON carrying at least two of the
// well-known package manifest keys.
func IsManifest(obj string) bool {
	keys, ok := topLevelKeys(obj)
	if !ok {
		return false
	}
	n := 0
	for _, k := range manifestKeys {
		if _, ok := keys[k]; ok {
			n++
		}
	}
	return n >= 2
}

func topLevelKeys(obj string) (map[string]json.RawMessage, bool) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &keys); err != nil {
		return nil, false
	}
	return keys, true
}

// objectRegion returns the range to replace for an object. An object inside
// a fenced block is only eligible when it is the whole body of a closed
// block, in which case the fence goes with it.
func objectRegion(fences []Fence, r Range, obj string) (Range, bool) {
	for _, f := range fences {
		if !f.Overlaps(r) {
			continue
		}
		if !f.Closed || strings.TrimSpace(f.Body) != obj {
			return Range{}, false
		}
		return f.Range, true
	}
	return r, true
}
