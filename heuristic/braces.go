package heuristic

// MatchBrace returns the offset just past the '}' that balances the '{' at
// start. Braces inside JSON string literals are ignored, including escaped
// quotes. ok is false when the object is not closed yet.
func MatchBrace(text string, start int) (end int, ok bool) {
	if start < 0 || start >= len(text) || text[start] != '{' {
		return -1, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return -1, false
}

// Objects returns the outermost brace-balanced objects in text[from:] whose
// ranges satisfy keep. Scanning stops at the first object that is not closed,
// since everything after it may still belong to that object.
func Objects(text string, from int, keep func(Range) bool) []Range {
	var out []Range
	for i := from; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end, ok := MatchBrace(text, i)
		if !ok {
			if keep == nil || keep(Range{i, len(text)}) {
				return out
			}
			continue
		}
		if r := (Range{i, end}); keep == nil || keep(r) {
			out = append(out, r)
		}
		i = end - 1
	}
	return out
}
