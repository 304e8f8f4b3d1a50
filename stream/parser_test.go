package stream

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/stagehand/metrics"
	"github.com/pithecene-io/stagehand/types"
)

// recorder collects parser events for assertions.
type recorder struct {
	events []types.ParserEvent
}

func (r *recorder) options() Options {
	return Options{Callbacks: Callbacks{OnEvent: func(ev types.ParserEvent) {
		ev.Seq = 0
		r.events = append(r.events, ev)
	}}}
}

func (r *recorder) kinds() []types.ParserEventKind {
	out := make([]types.ParserEventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) closed() []types.Action {
	var out []types.Action
	for _, ev := range r.events {
		if ev.Kind == types.EventActionClose {
			out = append(out, ev.Action.Action)
		}
	}
	return out
}

const sample = "Sure, here you go.\n" +
	`<stageArtifact id="app" title="Demo App" type="bundled">` + "\n" +
	`<stageAction type="file" filePath="src/index.js">` + "\n```js\nconsole.log(&lt;b&gt;)\n```\n</stageAction>\n" +
	`<stageAction type="shell">npm install</stageAction>` + "\n" +
	`<stageAction type="start">npm run dev</stageAction>` + "\n" +
	"</stageArtifact>\nAll done."

func TestParse_FullMessage(t *testing.T) {
	rec := &recorder{}
	p := NewParserState(rec.options())

	out, err := p.Parse("m1", sample)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := "Sure, here you go.\n" + ArtifactPlaceholder("m1", "m1-0") + "\nAll done."
	if out != want {
		t.Errorf("display mismatch\n got: %q\nwant: %q", out, want)
	}

	wantKinds := []types.ParserEventKind{
		types.EventArtifactOpen,
		types.EventActionOpen, types.EventActionClose,
		types.EventActionOpen, types.EventActionClose,
		types.EventActionOpen, types.EventActionClose,
		types.EventArtifactClose,
	}
	if diff := cmp.Diff(wantKinds, rec.kinds()); diff != "" {
		t.Errorf("event kinds (-want +got):\n%s", diff)
	}

	wantActions := []types.Action{
		{Type: types.ActionTypeFile, FilePath: "src/index.js", Content: "console.log(<b>)\n"},
		{Type: types.ActionTypeShell, Content: "npm install"},
		{Type: types.ActionTypeStart, Content: "npm run dev"},
	}
	if diff := cmp.Diff(wantActions, rec.closed()); diff != "" {
		t.Errorf("closed actions (-want +got):\n%s", diff)
	}

	art := rec.events[0].Artifact.Artifact
	if art.Title != "Demo App" || art.Type != "bundled" || art.TagID != "app" {
		t.Errorf("artifact = %+v", art)
	}
	if id := rec.events[1].Action.ActionID; id != "m1-action-1" {
		t.Errorf("first action id = %q, want m1-action-1", id)
	}
}

func TestParse_StreamingFileAction(t *testing.T) {
	rec := &recorder{}
	p := NewParserState(rec.options())

	first := `<stageArtifact title="T" type="bundled">` + "\n" + `<stageAction type="file" filePath="/a.js">console.l`
	if _, err := p.Parse("m", first); err != nil {
		t.Fatalf("first Parse() error = %v", err)
	}
	if diff := cmp.Diff([]types.ParserEventKind{types.EventArtifactOpen, types.EventActionOpen, types.EventActionStream}, rec.kinds()); diff != "" {
		t.Fatalf("first call kinds (-want +got):\n%s", diff)
	}
	if got := rec.events[2].Action.Action.Content; got != "console.l" {
		t.Errorf("stream content = %q, want %q", got, "console.l")
	}

	rec.events = nil
	if _, err := p.Parse("m", first+"og(1)</stageAction>\n</stageArtifact>"); err != nil {
		t.Fatalf("second Parse() error = %v", err)
	}
	if diff := cmp.Diff([]types.ParserEventKind{types.EventActionClose, types.EventArtifactClose}, rec.kinds()); diff != "" {
		t.Fatalf("second call kinds (-want +got):\n%s", diff)
	}
	if got := rec.events[0].Action.Action.Content; got != "console.log(1)\n" {
		t.Errorf("close content = %q, want %q", got, "console.log(1)\n")
	}
}

func TestParse_StreamEventsOnlyForFiles(t *testing.T) {
	rec := &recorder{}
	p := NewParserState(rec.options())

	text := `<stageArtifact title="T"><stageAction type="shell">npm in`
	if _, err := p.Parse("m", text); err != nil {
		t.Fatal(err)
	}
	for _, k := range rec.kinds() {
		if k == types.EventActionStream {
			t.Fatal("shell actions must not stream")
		}
	}
}

func TestParse_RepeatedCallDoesNotRestream(t *testing.T) {
	rec := &recorder{}
	p := NewParserState(rec.options())

	text := `<stageArtifact title="T"><stageAction type="file" filePath="a.txt">abc`
	for range 3 {
		if _, err := p.Parse("m", text); err != nil {
			t.Fatal(err)
		}
	}
	streams := 0
	for _, k := range rec.kinds() {
		if k == types.EventActionStream {
			streams++
		}
	}
	if streams != 1 {
		t.Errorf("stream events = %d, want 1", streams)
	}
}

func TestParse_IdempotentAcrossSplits(t *testing.T) {
	full := NewParserState(Options{})
	want, err := full.Parse("m", sample)
	if err != nil {
		t.Fatal(err)
	}
	wantRec := &recorder{}
	if _, err := NewParserState(wantRec.options()).Parse("m", sample); err != nil {
		t.Fatal(err)
	}

	for k := 0; k <= len(sample); k++ {
		rec := &recorder{}
		p := NewParserState(rec.options())
		if _, err := p.Parse("m", sample[:k]); err != nil {
			t.Fatalf("split %d: %v", k, err)
		}
		got, err := p.Parse("m", sample)
		if err != nil {
			t.Fatalf("split %d: %v", k, err)
		}
		if got != want {
			t.Fatalf("split %d: display mismatch\n got: %q\nwant: %q", k, got, want)
		}
		if diff := cmp.Diff(wantRec.closed(), rec.closed()); diff != "" {
			t.Fatalf("split %d: closed actions (-want +got):\n%s", k, diff)
		}
	}
}

func TestParse_CharByCharNoLeakage(t *testing.T) {
	rec := &recorder{}
	p := NewParserState(rec.options())

	openTag := `<stageAction type="shell">`
	text := `Intro <stageArtifact title="x">` + openTag + `ls</stageAction></stageArtifact> end`
	openAt := strings.Index(text, openTag) + len(openTag)

	var out string
	for i := 1; i <= len(text); i++ {
		var err error
		out, err = p.Parse("m", text[:i])
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(out, "<stage") || strings.Contains(out, "<st") {
			t.Fatalf("prefix %d leaked tag text: %q", i, out)
		}
		for _, k := range rec.kinds() {
			if k == types.EventActionOpen && i < openAt {
				t.Fatalf("action opened at prefix %d before tag completed at %d", i, openAt)
			}
		}
	}
	if want := "Intro " + ArtifactPlaceholder("m", "m-0") + " end"; out != want {
		t.Errorf("display = %q, want %q", out, want)
	}
}

func TestParse_NameBoundaryRejectsLongerIdentifier(t *testing.T) {
	p := NewParserState(Options{})
	out, err := p.Parse("m", "use <stageArtifacts> here")
	if err != nil {
		t.Fatal(err)
	}
	if out != "use <stageArtifacts> here" {
		t.Errorf("display = %q", out)
	}
}

func TestParse_MissingAttributeIsFatal(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		attr string
		err  error
	}{
		{"migration without path", `<stageAction type="database" operation="migration">`, "filePath", ErrMissingAttribute},
		{"file without path", `<stageAction type="file">`, "filePath", ErrMissingAttribute},
		{"database without operation", `<stageAction type="database">`, "operation", ErrMissingAttribute},
		{"bad operation", `<stageAction type="database" operation="drop">`, "operation", ErrInvalidAttribute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := metrics.NewCollector("", "", "", "")
			p := NewParserState(Options{Metrics: c})
			text := `before <stageArtifact title="x">` + tt.tag + "body</stageAction></stageArtifact>"
			out, err := p.Parse("m", text)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			var pe *ParseError
			if !errors.As(err, &pe) || pe.Attribute != tt.attr {
				t.Fatalf("err = %#v, want ParseError for %s", err, tt.attr)
			}
			if !strings.HasPrefix(out, "before ") {
				t.Errorf("display = %q", out)
			}
			if _, again := p.Parse("m", text+" more"); !errors.Is(again, tt.err) {
				t.Errorf("second call err = %v, want sticky error", again)
			}
			if got := c.Snapshot().ParseErrors; got != 1 {
				t.Errorf("ParseErrors = %d, want 1", got)
			}
		})
	}
}

func TestParse_UnknownTypeIsNotFatal(t *testing.T) {
	rec := &recorder{}
	p := NewParserState(rec.options())
	_, err := p.Parse("m", `<stageArtifact title="x"><stageAction type="deploy">now</stageAction></stageArtifact>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	closed := rec.closed()
	if len(closed) != 1 {
		t.Fatalf("closed = %d, want 1", len(closed))
	}
	if closed[0].RawType != "deploy" || closed[0].Type.Known() || closed[0].Content != "now" {
		t.Errorf("action = %+v", closed[0])
	}
}

func TestParse_MarkdownFileKeepsFences(t *testing.T) {
	rec := &recorder{}
	p := NewParserState(rec.options())
	body := "```sh\nnpm i\n```"
	text := `<stageArtifact title="x"><stageAction type="file" filePath="README.md">` + body + `</stageAction></stageArtifact>`
	if _, err := p.Parse("m", text); err != nil {
		t.Fatal(err)
	}
	if got := rec.closed()[0].Content; got != body+"\n" {
		t.Errorf("content = %q", got)
	}
}

func TestParse_QuickActions(t *testing.T) {
	p := NewParserState(Options{})
	text := "Next steps:\n<stageQuickActions>" +
		`<stageQuickAction type="message" message="Add tests">Add tests</stageQuickAction>` +
		`<stageQuickAction type="link" href="https://example.com?a=1&amp;b=2">Docs</stageQuickAction>` +
		"</stageQuickActions>"

	out, err := p.Parse("m", text)
	if err != nil {
		t.Fatal(err)
	}
	want := "Next steps:\n" + `<div class="__stageQuickActions__" data-message-id="m">` +
		`<button class="__stageQuickAction__" data-type="message" data-message="Add tests" data-path="" data-href="">Add tests</button>` +
		`<button class="__stageQuickAction__" data-type="link" data-message="" data-path="" data-href="https://example.com?a=1&amp;b=2">Docs</button>` +
		`</div>`
	if out != want {
		t.Errorf("display mismatch\n got: %q\nwant: %q", out, want)
	}
}

func TestParse_QuickActionsWaitForClose(t *testing.T) {
	p := NewParserState(Options{})
	out, err := p.Parse("m", `Hi <stageQuickActions><stageQuickAction type="message">x`)
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hi " {
		t.Errorf("display = %q, want %q", out, "Hi ")
	}
}

// markerPre rewrites a marker into a complete artifact once the marker has
// fully arrived, the way the heuristic pre-processor wraps a complete JSON
// object that was previously streamed as prose.
type markerPre struct{ resets int }

func (m *markerPre) Process(_ string, text string) string {
	return strings.ReplaceAll(text, "@@manifest@@",
		`<stageArtifact title="m"><stageAction type="file" filePath="package.json">{}</stageAction></stageArtifact>`)
}

func (m *markerPre) Reset(string) { m.resets++ }

func TestParse_RewindOnUpstreamRewrite(t *testing.T) {
	c := metrics.NewCollector("", "", "", "")
	pre := &markerPre{}
	rec := &recorder{}
	opts := rec.options()
	opts.Preprocessor = pre
	opts.Metrics = c
	p := NewParserState(opts)

	out, _ := p.Parse("m", "Config: @@manif")
	if out != "Config: @@manif" {
		t.Fatalf("first display = %q", out)
	}
	out, err := p.Parse("m", "Config: @@manifest@@ done")
	if err != nil {
		t.Fatal(err)
	}
	want := "Config: " + ArtifactPlaceholder("m", "m-0") + " done"
	if out != want {
		t.Errorf("display = %q, want %q", out, want)
	}
	if len(rec.closed()) != 1 {
		t.Errorf("closed actions = %d, want 1", len(rec.closed()))
	}
	if c.Snapshot().ParserRewinds != 1 {
		t.Errorf("ParserRewinds = %d, want 1", c.Snapshot().ParserRewinds)
	}

	p.Reset("m")
	if pre.resets != 1 {
		t.Errorf("pre-processor resets = %d, want 1", pre.resets)
	}
	if _, ok := p.State("m"); ok {
		t.Error("state should be discarded after Reset")
	}
}

func TestParse_MessagesAreIndependent(t *testing.T) {
	p := NewParserState(Options{})
	if _, err := p.Parse("a", `<stageArtifact title="x">hidden`); err != nil {
		t.Fatal(err)
	}
	out, err := p.Parse("b", "plain")
	if err != nil {
		t.Fatal(err)
	}
	if out != "plain" {
		t.Errorf("display = %q", out)
	}
	st, ok := p.State("a")
	if !ok || !st.InsideArtifact || st.InsideAction {
		t.Errorf("state a = %+v", st)
	}
}

func TestState_ConcurrentWithParse(t *testing.T) {
	p := NewParserState(Options{})
	msg := sample

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= len(msg); i++ {
			if _, err := p.Parse("m", msg[:i]); err != nil {
				t.Errorf("Parse at %d: %v", i, err)
				return
			}
		}
	}()

	last := -1
	for polling := true; polling; {
		select {
		case <-done:
			polling = false
		default:
		}
		st, ok := p.State("m")
		if !ok {
			continue
		}
		if st.Cursor < last {
			t.Errorf("cursor went back from %d to %d", last, st.Cursor)
		}
		last = st.Cursor
		if st.CurrentAction != nil {
			// Snapshots are private copies.
			st.CurrentAction.Content = "scribbled"
		}
	}

	st, ok := p.State("m")
	if !ok {
		t.Fatal("no state after parse")
	}
	if st.InsideArtifact || st.InsideAction || st.CurrentAction != nil {
		t.Errorf("final state = %+v", st)
	}
	if st.ActionCounter != 3 || st.ArtifactCounter != 1 {
		t.Errorf("counters = %d actions, %d artifacts", st.ActionCounter, st.ArtifactCounter)
	}
}

func TestState_CallableFromCallback(t *testing.T) {
	var p *ParserState
	var seen []int
	p = NewParserState(Options{Callbacks: Callbacks{OnActionOpen: func(types.ActionEvent) {
		st, _ := p.State("m")
		seen = append(seen, st.ActionCounter)
	}}})
	first := `<stageArtifact title="T"><stageAction type="shell">ls</stageAction>`
	if _, err := p.Parse("m", first); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Parse("m", first+`<stageAction type="shell">pwd</stageAction>`); err != nil {
		t.Fatal(err)
	}
	// Each callback sees the position published by the previous call.
	if diff := cmp.Diff([]int{0, 1}, seen); diff != "" {
		t.Errorf("counters seen from callbacks (-want +got):\n%s", diff)
	}
}
