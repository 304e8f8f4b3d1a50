package stream

import (
	"path"
	"regexp"
	"strings"

	"github.com/pithecene-io/stagehand/scanner"
	"github.com/pithecene-io/stagehand/types"
)

// actionFromAttrs builds an action from the attributes of its opening tag.
// It returns the name of the first required attribute that is missing or
// invalid, together with the matching sentinel.
func actionFromAttrs(attrs scanner.Attrs) (types.Action, string, error) {
	raw := strings.ToLower(strings.TrimSpace(attrs.Get("type")))
	action := types.Action{Type: types.ActionType(raw)}

	switch action.Type {
	case types.ActionTypeFile:
		action.FilePath = strings.TrimSpace(attrs.Get("filePath"))
		action.Source = strings.TrimSpace(attrs.Get("source"))
		action.Encoding = strings.ToLower(strings.TrimSpace(attrs.Get("encoding")))
		if action.FilePath == "" {
			return action, "filePath", ErrMissingAttribute
		}
	case types.ActionTypeDatabase:
		action.Operation = types.DatabaseOperation(strings.ToLower(strings.TrimSpace(attrs.Get("operation"))))
		action.FilePath = strings.TrimSpace(attrs.Get("filePath"))
		switch action.Operation {
		case types.DatabaseMigration:
			if action.FilePath == "" {
				return action, "filePath", ErrMissingAttribute
			}
		case types.DatabaseQuery:
		case "":
			return action, "operation", ErrMissingAttribute
		default:
			return action, "operation", ErrInvalidAttribute
		}
	case types.ActionTypeShell, types.ActionTypeStart, types.ActionTypeBuild:
	default:
		action.RawType = raw
	}
	return action, "", nil
}

var fenceWrapper = regexp.MustCompile("(?s)^```[^\\n]*\\n(.*?)\\n?```$")

// finalizeContent turns a closed action body into the content handed to
// the runner. File bodies lose one enclosing code fence and HTML-escaped
// angle brackets unless the target is a markdown document.
func finalizeContent(a *types.Action, body string) string {
	content := strings.TrimSpace(body)
	if a.Type != types.ActionTypeFile || a.Binary() {
		return content
	}
	if !isMarkdown(a.FilePath) {
		content = stripFence(content)
		content = strings.NewReplacer("&lt;", "<", "&gt;", ">").Replace(content)
	}
	return content + "\n"
}

func stripFence(s string) string {
	m := fenceWrapper.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return m[1]
}

func isMarkdown(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".md", ".markdown", ".mdx":
		return true
	default:
		return false
	}
}
