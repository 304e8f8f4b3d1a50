package heuristic

import "testing"

func TestFences(t *testing.T) {
	text := "Intro\n```bash\nnpm i\n```\nmiddle\n```js\nlet a = 1\n"
	fences := Fences(text, nil)
	if len(fences) != 2 {
		t.Fatalf("Fences() = %d blocks, want 2", len(fences))
	}

	first := fences[0]
	if first.Lang != "bash" || first.Body != "npm i" || !first.Closed {
		t.Errorf("first fence = %+v", first)
	}
	if got := text[first.Start:first.End]; got != "```bash\nnpm i\n```" {
		t.Errorf("first fence text = %q", got)
	}

	second := fences[1]
	if second.Lang != "js" || second.Closed {
		t.Errorf("second fence = %+v, want unclosed js", second)
	}
}

func TestFences_SkipsTaggedRanges(t *testing.T) {
	text := "<stageArtifact title=\"x\">\n```sh\nls\n```\n</stageArtifact>\n```sh\npwd\n```"
	doc := NewDocument("m", text, nil)
	fences := Fences(text, doc.TaggedRanges())
	if len(fences) != 1 || fences[0].Body != "pwd" {
		t.Fatalf("Fences() = %+v, want only the untagged block", fences)
	}
}
