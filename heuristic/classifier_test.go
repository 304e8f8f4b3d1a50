package heuristic

import (
	"strings"
	"testing"
)

const manifestJSON = `{"name":"x","version":"1.0.0","scripts":{"start":"x"},"dependencies":{"react":"^18.0.0"}}`

func apply(c Classifier, text string) (string, int) {
	doc := NewDocument("m", text, nil)
	n := c.Apply(doc)
	return doc.Text, n
}

func TestManifest_WrapsUntaggedObject(t *testing.T) {
	text := "Here is config:\n" + manifestJSON + "\nDone."
	out, n := apply(Manifest{}, text)
	if n != 1 {
		t.Fatalf("rewrites = %d, want 1", n)
	}
	if !strings.HasPrefix(out, "Here is config:\n<stageArtifact ") || !strings.HasSuffix(out, "</stageArtifact>\nDone.") {
		t.Errorf("unexpected output: %q", out)
	}
	if !strings.Contains(out, `<stageAction type="file" filePath="package.json">`+"\n"+manifestJSON+"\n</stageAction>") {
		t.Errorf("manifest action missing: %q", out)
	}
}

func TestManifest_IgnoresOtherJSON(t *testing.T) {
	text := "Response:\n{\"name\":\"x\",\"age\":3}\n"
	if out, n := apply(Manifest{}, text); n != 0 || out != text {
		t.Errorf("non-manifest JSON rewritten: %q", out)
	}
	invalid := "Oops {name: x, version: 1}"
	if _, n := apply(Manifest{}, invalid); n != 0 {
		t.Error("invalid JSON must not be wrapped")
	}
}

func TestManifest_FencedBlock(t *testing.T) {
	text := "```json\n" + manifestJSON + "\n```\nafter"
	out, n := apply(Manifest{}, text)
	if n != 1 {
		t.Fatalf("rewrites = %d, want 1", n)
	}
	if strings.Contains(out, "```") {
		t.Errorf("fence should be replaced with the object: %q", out)
	}

	code := "```js\nconst pkg = " + manifestJSON + "\n```"
	if _, n := apply(Manifest{}, code); n != 0 {
		t.Error("object embedded in code must not be wrapped")
	}
}

func TestManifest_DuplicateWrappedOnce(t *testing.T) {
	seen := map[string]int{}
	text := "A:\n" + manifestJSON + "\nB:\n" + manifestJSON + "\n"

	for call := range 2 {
		doc := NewDocument("m", text, seen)
		if n := (Manifest{}).Apply(doc); n != 1 {
			t.Fatalf("call %d: rewrites = %d, want 1", call, n)
		}
		if got := strings.Count(doc.Text, "<stageArtifact"); got != 1 {
			t.Fatalf("call %d: artifacts = %d, want 1", call, got)
		}
		if !strings.HasSuffix(doc.Text, "B:\n"+manifestJSON+"\n") {
			t.Errorf("call %d: second copy should stay untouched: %q", call, doc.Text)
		}
	}
}

func TestHandoff(t *testing.T) {
	payload := `{"appName":"Tasks","description":"Todo app","category":"productivity"}`
	text := "Here is the design handoff:\n" + payload + "\nLet's build it."
	out, n := apply(Handoff{}, text)
	if n != 1 {
		t.Fatalf("rewrites = %d, want 1", n)
	}
	if !strings.Contains(out, `filePath=".stagehand/handoff.json"`) {
		t.Errorf("handoff action missing: %q", out)
	}

	noPhrase := "Some data:\n" + payload
	if _, n := apply(Handoff{}, noPhrase); n != 0 {
		t.Error("payload without hand-off phrase must not be wrapped")
	}

	tagged := `<stageArtifact title="x"></stageArtifact> Here is the handoff: ` + payload
	if _, n := apply(Handoff{}, tagged); n != 0 {
		t.Error("payload after existing tags must not be wrapped")
	}

	// A later artifact does not undo a wrap made while the message streamed.
	later := text + "\n" + `<stageArtifact title="Tasks"></stageArtifact>`
	if _, n := apply(Handoff{}, later); n != 1 {
		t.Errorf("payload before a later artifact: rewrites = %d, want 1", n)
	}
}

func TestShellBlock(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		lang    string
		wrapped bool
		command string
	}{
		{"single command", "npm install", "bash", true, "npm install"},
		{"several commands", "npm install\nnpm run dev", "sh", true, "npm install && npm run dev"},
		{"chained", "cd app && npm i", "shell", true, "cd app && npm i"},
		{"prompted console", "$ npm test\n> app@1.0.0 test\nPASS", "console", true, "npm test"},
		{"continuation", "docker run \\\n  -p 80:80 nginx", "bash", true, "docker run    -p 80:80 nginx"},
		{"shebang script", "#!/bin/bash\nset -e\necho hi", "bash", false, ""},
		{"control flow", "for f in *.txt; do\n  echo $f\ndone", "bash", false, ""},
		{"function", "deploy() {\n  npm run build\n}", "bash", false, ""},
		{"assignment", "NAME=demo\necho $NAME", "bash", false, ""},
		{"mostly prose", "npm install\nthis is not a command\nnpm test", "sh", false, ""},
		{"not shell", "npm install", "js", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := "Run:\n```" + tt.lang + "\n" + tt.body + "\n```\nok"
			out, n := apply(ShellBlock{}, text)
			if (n == 1) != tt.wrapped {
				t.Fatalf("wrapped = %v, want %v (%q)", n == 1, tt.wrapped, out)
			}
			if tt.wrapped && !strings.Contains(out, `<stageAction type="shell">`+"\n"+tt.command+"\n</stageAction>") {
				t.Errorf("command mismatch: %q", out)
			}
		})
	}
}

func TestCommandLike(t *testing.T) {
	tests := map[string]bool{
		"npm install":              true,
		"sudo apt-get install git": true,
		"NODE_ENV=prod node app":   true,
		"./scripts/setup.sh":       true,
		"terraform plan -out x":    true,
		"hello world":              false,
		"Then open the browser":    false,
	}
	for line, want := range tests {
		if got := CommandLike(line); got != want {
			t.Errorf("CommandLike(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestFilePattern(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		path    string
		content string
	}{
		{
			name:    "path heading",
			text:    "**src/App.tsx**\n```tsx\nexport default function App() { return <div/> }\n```\n",
			path:    "src/App.tsx",
			content: "export default function App() { return <div/> }",
		},
		{
			name:    "creation phrase",
			text:    "Create a Node.js server in `server.js`:\n```js\nconst http = require('http')\n```",
			path:    "server.js",
			content: "const http = require('http')",
		},
		{
			name:    "leading comment with context",
			text:    "Now add the helper:\n```js\n// utils/math.js\nexport const add = (a, b) => a + b\n```",
			path:    "utils/math.js",
			content: "export const add = (a, b) => a + b",
		},
		{
			name:    "structured block",
			text:    "Update the config.\nThis goes in tsconfig.json\n```json\n{\"compilerOptions\":{}}\n```",
			path:    "tsconfig.json",
			content: "{\"compilerOptions\":{}}",
		},
		{
			name:    "raw module",
			text:    "Create `src/index.js`:\nimport React from 'react'\nexport default function App() {}\n\nThat's the entry point.\n",
			path:    "src/index.js",
			content: "import React from 'react'\nexport default function App() {}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, n := apply(FilePattern{}, tt.text)
			if n != 1 {
				t.Fatalf("rewrites = %d, want 1 (%q)", n, out)
			}
			want := `<stageAction type="file" filePath="` + tt.path + `">` + "\n" + tt.content + "\n</stageAction>"
			if !strings.Contains(out, want) {
				t.Errorf("output %q does not contain %q", out, want)
			}
		})
	}
}

func TestFilePattern_LeavesAmbiguousBlocks(t *testing.T) {
	tests := map[string]string{
		"comment without context": "Example:\n```js\n// utils/math.js\nexport const add = 1\n```",
		"placeholder path":        "Create `path/to/file.js`:\n```js\nx()\n```",
		"unclosed block":          "Create `src/a.js`:\n```js\nconst a = 1\n",
		"module still streaming":  "Create `src/index.js`:\nimport React from 'react'\nexport default 1\n",
		"plain snippet":           "Like this:\n```js\nconsole.log(1)\n```",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			if out, n := apply(FilePattern{}, text); n != 0 {
				t.Errorf("rewrites = %d, want 0 (%q)", n, out)
			}
		})
	}
}

func TestStyleObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "style lines",
			text: "Here is the card.\ncolor: red;\nfontSize: 12px;\nThanks!\n",
			want: "Here is the card.\nThanks!\n",
		},
		{
			name: "style object",
			text: "Look:\n{ color: 'red', backgroundColor: 'blue', padding: 4 }\nok",
			want: "Look:\nok",
		},
		{
			name: "single line kept",
			text: "Set color: red for errors.\nok\n",
			want: "Set color: red for errors.\nok\n",
		},
		{
			name: "fenced css kept",
			text: "```css\ncolor: red;\nmargin: 0;\n```\n",
			want: "```css\ncolor: red;\nmargin: 0;\n```\n",
		},
		{
			name: "mixed object kept",
			text: "{ color: 'red', onClick: go, href: x }\n",
			want: "{ color: 'red', onClick: go, href: x }\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if out, _ := apply(StyleObject{}, tt.text); out != tt.want {
				t.Errorf("got %q, want %q", out, tt.want)
			}
		})
	}
}
