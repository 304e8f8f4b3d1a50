package scanner

import "testing"

func TestFind(t *testing.T) {
	tests := []struct {
		name   string
		buf    string
		from   int
		lit    string
		status Status
		start  int
	}{
		{"found", "hello <stageArtifact id=\"a\">", 0, ArtifactOpen, Found, 6},
		{"case insensitive", "x <STAGEARTIFACT>", 0, ArtifactOpen, Found, 2},
		{"partial tail", "hello <stageArt", 0, ArtifactOpen, Incomplete, 6},
		{"single bracket tail", "hello <", 0, ArtifactOpen, Incomplete, 6},
		{"not found", "hello world", 0, ArtifactOpen, NotFound, -1},
		{"before from ignored", "<stageArtifact> tail", 3, ArtifactOpen, NotFound, -1},
		{"from past end", "abc", 10, ArtifactOpen, NotFound, -1},
		{"close tag", "body</stageAction>", 0, ActionClose, Found, 4},
		{"close partial", "body</stageAct", 0, ActionClose, Incomplete, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Find(tt.buf, tt.from, tt.lit)
			if m.Status != tt.status {
				t.Fatalf("status = %v, want %v", m.Status, tt.status)
			}
			if m.Start != tt.start {
				t.Errorf("start = %d, want %d", m.Start, tt.start)
			}
		})
	}
}

func TestFindFirst(t *testing.T) {
	buf := "a <stageAction type=\"file\"> b </stageArtifact>"
	m := FindFirst(buf, 0, ArtifactClose, ActionOpen)
	if m.Status != Found || m.Tag != ActionOpen || m.Start != 2 {
		t.Fatalf("got %+v, want action open at 2", m)
	}

	// A full match beats a partial tail.
	m = FindFirst("x </stageArtifact> <stageAc", 0, ArtifactClose, ActionOpen)
	if m.Status != Found || m.Tag != ArtifactClose {
		t.Fatalf("got %+v, want artifact close", m)
	}

	m = FindFirst("text </stage", 0, ArtifactClose, ActionOpen)
	if m.Status != Incomplete || m.Start != 5 {
		t.Fatalf("got %+v, want incomplete at 5", m)
	}
}

func TestNameBoundary(t *testing.T) {
	tests := []struct {
		buf        string
		accepted   bool
		incomplete bool
	}{
		{"<stageAction type=\"x\">", true, false},
		{"<stageAction>", true, false},
		{"<stageAction\n", true, false},
		{"<stageActions>", false, false},
		{"<stageAction", false, true},
	}
	for _, tt := range tests {
		acc, inc := NameBoundary(tt.buf, 0, ActionOpen)
		if acc != tt.accepted || inc != tt.incomplete {
			t.Errorf("NameBoundary(%q) = %v,%v want %v,%v", tt.buf, acc, inc, tt.accepted, tt.incomplete)
		}
	}
}

func TestTagEnd(t *testing.T) {
	buf := `<stageAction type="shell" note="a > b">npm i`
	end, ok := TagEnd(buf, 0)
	if !ok {
		t.Fatal("expected complete tag")
	}
	if buf[end-1] != '>' || buf[end:] != "npm i" {
		t.Errorf("end = %d (%q)", end, buf[end:])
	}

	if _, ok := TagEnd(`<stageAction type="sh`, 0); ok {
		t.Error("expected incomplete tag")
	}
}

func TestAttributes(t *testing.T) {
	attrs := Attributes(`<stageAction Type="file" filePath="src/a &amp; b.ts" data-x='y'>`)
	if got := attrs.Get("type"); got != "file" {
		t.Errorf("type = %q", got)
	}
	if got := attrs.Get("filePath"); got != "src/a & b.ts" {
		t.Errorf("filePath = %q", got)
	}
	if !attrs.Has("DATA-X") {
		t.Error("expected data-x attribute")
	}
	if attrs.Has("missing") {
		t.Error("unexpected attribute")
	}
}

func TestIndexFold(t *testing.T) {
	if got := IndexFold("Hello World", "WORLD"); got != 6 {
		t.Errorf("IndexFold = %d, want 6", got)
	}
	if got := IndexFold("abc", ""); got != 0 {
		t.Errorf("IndexFold empty = %d", got)
	}
	if !HasPrefixFold("<StageAction>", ActionOpen) {
		t.Error("HasPrefixFold should match")
	}
}
