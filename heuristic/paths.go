package heuristic

import (
	"path"
	"regexp"
	"strings"
)

var (
	safePath = regexp.MustCompile(`^[A-Za-z0-9_@+./-]+$`)
	safeExt  = regexp.MustCompile(`^\.[A-Za-z0-9]*[A-Za-z][A-Za-z0-9]*$`)

	placeholderPaths = regexp.MustCompile(`(?i)(^|/)(path/to|your[-_]|my[-_]?file|filename\.|file\.ext|example\.[a-z]+$|foo\.|bar\.|xxx)`)
)

// domain-like suffixes that show up in prose but are never project files.
var hostExts = map[string]bool{".com": true, ".org": true, ".net": true, ".edu": true, ".gov": true}

// ValidPath reports whether p looks like a real project file path: it has
// an extension, uses a safe character set, stays inside the project and is
// not a placeholder such as path/to/file.js.
func ValidPath(p string) bool {
	if p == "" || len(p) > 200 || !safePath.MatchString(p) {
		return false
	}
	ext := path.Ext(p)
	if len(ext) > 11 || !safeExt.MatchString(ext) || hostExts[strings.ToLower(ext)] {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return !placeholderPaths.MatchString(p)
}

// cleanPath strips markdown decoration and trailing punctuation from a path token.
func cleanPath(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`*_\"'")
	s = strings.TrimRight(s, ":,;.)")
	s = strings.Trim(s, "`*_\"'")
	return strings.TrimPrefix(s, "./")
}
