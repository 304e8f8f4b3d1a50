package runner

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pithecene-io/stagehand/sandbox"
	"github.com/pithecene-io/stagehand/types"
)

func TestPrepareCommand(t *testing.T) {
	tests := []struct {
		name    string
		seed    []string
		command string
		want    string
	}{
		{"rm missing", nil, "rm foo.txt", "rm -f foo.txt"},
		{"rm existing", []string{"foo.txt"}, "rm foo.txt", "rm foo.txt"},
		{"rm forced", nil, "rm -rf build", "rm -rf build"},
		{"rm glob", []string{"a.log"}, "rm *.log", "rm -f *.log"},
		{"cd missing", nil, "cd app", "mkdir -p app && cd app"},
		{"cd existing", []string{"app/index.js"}, "cd app", "cd app"},
		{"cd then rm", nil, "cd app && rm x.txt", "mkdir -p app && cd app && rm -f x.txt"},
		{"cd tracks cwd", []string{"app/x.txt"}, "cd app && rm x.txt", "cd app && rm x.txt"},
		{"npx", nil, "npx create-vite@latest app", "npx --yes create-vite@latest app"},
		{"npx already yes", nil, "npx -y serve", "npx -y serve"},
		{"npm init", nil, "npm init", "npm init -y"},
		{"apt", nil, "sudo apt-get install curl", "sudo apt-get install -y curl"},
		{"apt assume yes", nil, "apt-get install --assume-yes curl", "apt-get install --assume-yes curl"},
		{"curl bare", nil, "curl https://example.com", "curl -L -A " + userAgent + " https://example.com"},
		{"curl with location", nil, "curl -fsSL https://example.com", "curl -A " + userAgent + " -fsSL https://example.com"},
		{"wget", nil, "wget https://example.com/a.tgz", "wget --user-agent=" + userAgent + " https://example.com/a.tgz"},
		{"untouched pipe", nil, "echo hi | grep h", "echo hi | grep h"},
		{"trimmed", nil, "  ls -la  ", "ls -la"},
		{"separator in quotes", nil, `git commit -m "cleanup; rm old.txt"`, `git commit -m "cleanup; rm old.txt"`},
		{"quoted header kept", nil, `curl -H "Accept: a;b" https://x.test/y`, "curl -L -A " + userAgent + ` -H "Accept: a;b" https://x.test/y`},
		{"spacing kept", nil, "echo a;rm x.txt", "echo a;rm -f x.txt"},
		{"assignment prefix", nil, "FOO=1 rm x.txt", "FOO=1 rm -f x.txt"},
		{"quoted cd", nil, `cd "my app"`, `mkdir -p "my app" && cd "my app"`},
		{"quoted cd tracks cwd", []string{"my app/x.txt"}, `cd "my app" && rm x.txt`, `cd "my app" && rm x.txt`},
		{"quoted command word", nil, `"rm" x.txt`, `"rm" x.txt`},
		{"unterminated quote", nil, `echo "oops; rm x`, `echo "oops; rm x`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := sandbox.NewMemory()
			for _, p := range tt.seed {
				sb.Seed(p, "x")
			}
			r := newTestRunner(t, sb, Config{})
			got, err := r.prepareCommand(t.Context(), "a", tt.command)
			if err != nil {
				t.Fatalf("prepareCommand failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("prepareCommand(%q) = %q, want %q", tt.command, got, tt.want)
			}
		})
	}
}

func TestSplitSegments(t *testing.T) {
	command := `a && b "c || d"; e 'f;g' | h`
	segs, err := splitSegments(command)
	if err != nil {
		t.Fatal(err)
	}
	var texts, last []string
	for _, s := range segs {
		texts = append(texts, s.text(command))
		last = append(last, s.fields[len(s.fields)-1])
	}
	if diff := cmp.Diff([]string{"a", `b "c || d"`, `e 'f;g'`, "h"}, texts); diff != "" {
		t.Errorf("segment texts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "c || d", "f;g", "h"}, last); diff != "" {
		t.Errorf("unquoted fields mismatch (-want +got):\n%s", diff)
	}

	if _, err := splitSegments(`echo "open`); err == nil {
		t.Error("expected an error for an unterminated quote")
	}
}

func TestDependencyDir(t *testing.T) {
	tests := []struct {
		command string
		wantDir string
		want    bool
	}{
		{"npm run dev", ".", true},
		{"pnpm dev", ".", true},
		{"npx vite", ".", true},
		{"PORT=4000 node server.js", ".", true},
		{"cd app && npm run dev", "app", true},
		{"cd app && cd web && vite", "app/web", true},
		{"npm install && npm run dev", "", false},
		{"yarn && yarn dev", "", false},
		{"ls -la", "", false},
		{"echo npm run dev", "", false},
		{`echo "x; npm run dev"`, "", false},
	}
	for _, tt := range tests {
		segs, err := splitSegments(tt.command)
		if err != nil {
			t.Fatalf("splitSegments(%q): %v", tt.command, err)
		}
		dir, ok := dependencyDir(tt.command, segs)
		if ok != tt.want || dir != tt.wantDir {
			t.Errorf("dependencyDir(%q) = %q, %v, want %q, %v", tt.command, dir, ok, tt.wantDir, tt.want)
		}
	}
}

func TestDetectPort(t *testing.T) {
	tests := []struct {
		command string
		want    int
	}{
		{"vite --port 5173", 5173},
		{"next dev --port=3001", 3001},
		{"serve -p 8080", 8080},
		{"PORT=4000 node server.js", 4000},
		{"python -m http.server on 0.0.0.0:8000", 8000},
		{"npm run dev", 0},
		{"x --port 99999", 0},
	}
	for _, tt := range tests {
		if got := detectPort(tt.command); got != tt.want {
			t.Errorf("detectPort(%q) = %d, want %d", tt.command, got, tt.want)
		}
	}
}

func TestDiagnose(t *testing.T) {
	tests := []struct {
		name string
		res  types.CommandResult
		want error
	}{
		{"exit 127", types.CommandResult{ExitCode: 127}, ErrUnknownCommand},
		{"not found text", types.CommandResult{ExitCode: 1, Stderr: "bash: tsx: command not found"}, ErrUnknownCommand},
		{"permission", types.CommandResult{ExitCode: 1, Stderr: "open: Permission denied"}, ErrPermissionDenied},
		{"exit 126", types.CommandResult{ExitCode: 126}, ErrPermissionDenied},
		{"directory", types.CommandResult{ExitCode: 1, Stderr: "cat: src: Is a directory"}, ErrIsDirectory},
		{"exists", types.CommandResult{ExitCode: 1, Stderr: "mkdir: cannot create directory 'a': File exists"}, ErrAlreadyExists},
		{"missing", types.CommandResult{ExitCode: 2, Stderr: "ls: cannot access 'x': No such file or directory"}, ErrMissingPath},
		{"enoent", types.CommandResult{ExitCode: 1, Stdout: "Error: ENOENT: open 'a.json'"}, ErrMissingPath},
		{"generic", types.CommandResult{ExitCode: 1, Stderr: "boom"}, ErrCommandFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Diagnose("cmd", tt.res)
			if ce.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", ce.Kind, tt.want)
			}
			if ce.Suggestion == "" {
				t.Error("empty suggestion")
			}
			if ce.ExitCode != tt.res.ExitCode || ce.Command != "cmd" {
				t.Errorf("CommandError = %+v", ce)
			}
		})
	}
}
