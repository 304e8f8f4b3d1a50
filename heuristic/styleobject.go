package heuristic

import (
	"regexp"
	"strings"
)

var styleProps = map[string]bool{}

func init() {
	for _, p := range strings.Fields(`color background backgroundcolor fontsize fontweight fontfamily
		fontstyle lineheight letterspacing textalign textdecoration texttransform margin margintop
		marginbottom marginleft marginright padding paddingtop paddingbottom paddingleft paddingright
		display flex flexdirection flexwrap flexgrow flexshrink justifycontent alignitems alignself gap
		border borderradius bordercolor borderwidth borderstyle width height minwidth minheight maxwidth
		maxheight position top left right bottom zindex opacity boxshadow overflow cursor transition
		transform outline`) {
		styleProps[p] = true
	}
}

var (
	styleLine = regexp.MustCompile(`^\s*['"]?([A-Za-z-]+)['"]?\s*:\s*[^,;{}]+[,;]?\s*$`)
	objectKey = regexp.MustCompile(`['"]?([A-Za-z-]+)['"]?\s*:`)
)

// styleShare is the share of keys that must be style properties.
const styleShare = 0.8

func isStyleProp(key string) bool {
	return styleProps[strings.ToLower(strings.ReplaceAll(key, "-", ""))]
}

// StyleObject removes UI style objects that leaked into the prose, either
// as brace-delimited objects or as runs of "property: value" lines.
type StyleObject struct{}

// Name implements Classifier.
func (StyleObject) Name() string { return "styleobject" }

// Apply implements Classifier.
func (StyleObject) Apply(doc *Document) int {
	n := doc.Apply(styleObjectEdits(doc))
	return n + doc.Apply(styleLineEdits(doc))
}

func outsideCode(doc *Document) func(Range) bool {
	tagged := doc.TaggedRanges()
	var blocked []Range
	blocked = append(blocked, tagged...)
	for _, f := range Fences(doc.Text, tagged) {
		blocked = append(blocked, f.Range)
	}
	return func(r Range) bool { return Untagged(r, blocked) }
}

func styleObjectEdits(doc *Document) []Edit {
	keep := outsideCode(doc)
	var edits []Edit
	for _, r := range Objects(doc.Text, 0, keep) {
		if strings.TrimSpace(doc.Text[lineStart(doc.Text, r.Start):r.Start]) != "" {
			continue
		}
		keys := objectKey.FindAllStringSubmatch(doc.Text[r.Start+1:r.End-1], -1)
		if len(keys) < 2 {
			continue
		}
		styled := 0
		for _, k := range keys {
			if isStyleProp(k[1]) {
				styled++
			}
		}
		if float64(styled)/float64(len(keys)) < styleShare {
			continue
		}
		end := r.End
		if end < len(doc.Text) && doc.Text[end] == '\n' {
			end++
		}
		edits = append(edits, Edit{Range: Range{r.Start, end}})
	}
	return edits
}

func styleLineEdits(doc *Document) []Edit {
	keep := outsideCode(doc)
	var edits []Edit
	runStart, runLines := -1, 0
	flush := func(end int) {
		if runLines >= 2 {
			edits = append(edits, Edit{Range: Range{runStart, end}})
		}
		runStart, runLines = -1, 0
	}

	pos := 0
	for pos < len(doc.Text) {
		end := lineEnd(doc.Text, pos)
		if end == len(doc.Text) {
			// incomplete trailing line
			break
		}
		line := doc.Text[pos:end]
		m := styleLine.FindStringSubmatch(line)
		if m != nil && isStyleProp(m[1]) && keep(Range{pos, end + 1}) {
			if runStart < 0 {
				runStart = pos
			}
			runLines++
		} else {
			flush(pos)
		}
		pos = end + 1
	}
	flush(pos)
	return edits
}
