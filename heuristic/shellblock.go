package heuristic

import (
	"regexp"
	"strings"
)

var shellLangs = map[string]bool{
	"sh": true, "bash": true, "shell": true, "zsh": true, "console": true,
	"terminal": true, "shellscript": true, "shell-session": true,
}

var knownPrograms = map[string]bool{
	"npm": true, "npx": true, "pnpm": true, "yarn": true, "bun": true, "bunx": true,
	"node": true, "deno": true, "tsc": true, "vite": true, "next": true, "jest": true, "vitest": true,
	"git": true, "cd": true, "mkdir": true, "rm": true, "cp": true, "mv": true, "touch": true,
	"ls": true, "cat": true, "echo": true, "chmod": true, "chown": true, "ln": true, "tar": true, "unzip": true,
	"curl": true, "wget": true, "pip": true, "pip3": true, "python": true, "python3": true, "uv": true,
	"go": true, "cargo": true, "rustc": true, "make": true, "cmake": true,
	"docker": true, "docker-compose": true, "kubectl": true, "helm": true,
	"apt": true, "apt-get": true, "brew": true, "supabase": true, "prisma": true,
	"composer": true, "php": true, "ruby": true, "gem": true, "bundle": true, "rails": true,
	"java": true, "mvn": true, "gradle": true, "dotnet": true, "sed": true, "grep": true, "find": true,
}

var (
	funcDef     = regexp.MustCompile(`^\s*(function\s+[A-Za-z_][\w-]*|[A-Za-z_][\w-]*\s*\(\)\s*\{?)\s*$`)
	controlFlow = regexp.MustCompile(`^\s*(if|for|while|until|case|select)\s|^\s*(then|do|done|fi|esac|else|elif)\b`)
	assignment  = regexp.MustCompile(`^\s*(export\s+|local\s+|readonly\s+)?[A-Za-z_]\w*=\S*\s*$`)
	envPrefix   = regexp.MustCompile(`^[A-Za-z_]\w*=\S*$`)
	chainSplit  = regexp.MustCompile(`\s*(?:&&|\|\||;|\|)\s*`)
)

// commandRatio is the share of lines that must look like commands for a
// multi-line block to be executed.
const commandRatio = 0.7

// ShellBlock rewrites fenced shell blocks that list commands to execute
// into shell actions. Blocks that read like script files are left alone.
type ShellBlock struct{}

// Name implements Classifier.
func (ShellBlock) Name() string { return "shellblock" }

// Apply implements Classifier.
func (ShellBlock) Apply(doc *Document) int {
	var edits []Edit
	for _, f := range Fences(doc.Text, doc.TaggedRanges()) {
		if !f.Closed || !shellLangs[f.Lang] {
			continue
		}
		cmds, ok := ClassifyCommands(f.Body)
		if !ok {
			continue
		}
		command := strings.Join(cmds, " && ")
		if !doc.Claim(command, f.Start) {
			continue
		}
		edits = append(edits, Edit{Range: f.Range, Text: WrapShell("Run commands", command)})
	}
	return doc.Apply(edits)
}

// ClassifyCommands decides whether a shell block body is a list of commands
// to run. It returns the commands in order and true, or false when the body
// looks like a script file or contains no commands.
func ClassifyCommands(body string) ([]string, bool) {
	lines := joinContinuations(strings.Split(body, "\n"))
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "#!") {
		return nil, false
	}

	prompted := false
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "$ ") {
			prompted = true
			break
		}
	}

	var cmds []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		if prompted {
			if !strings.HasPrefix(l, "$ ") {
				// console output
				continue
			}
		}
		l = strings.TrimSpace(strings.TrimPrefix(l, "$ "))
		if funcDef.MatchString(l) || controlFlow.MatchString(l) || assignment.MatchString(l) {
			return nil, false
		}
		cmds = append(cmds, l)
	}
	if len(cmds) == 0 {
		return nil, false
	}

	matched := 0
	for _, c := range cmds {
		if CommandLike(c) {
			matched++
		}
	}
	if len(cmds) == 1 {
		return cmds, matched == 1
	}
	return cmds, float64(matched)/float64(len(cmds)) > commandRatio
}

// CommandLike reports whether a line invokes a known program, a path-like
// executable, or a program with flags.
func CommandLike(line string) bool {
	segments := chainSplit.Split(strings.TrimSpace(line), -1)
	if len(segments) == 0 {
		return false
	}
	fields := strings.Fields(segments[0])
	for len(fields) > 0 && (fields[0] == "sudo" || envPrefix.MatchString(fields[0])) {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return false
	}
	prog := fields[0]
	if knownPrograms[prog] {
		return true
	}
	if strings.HasPrefix(prog, "./") || strings.HasPrefix(prog, "../") ||
		strings.HasPrefix(prog, "/") || strings.HasPrefix(prog, "~/") {
		return true
	}
	if !isIdentifier(prog) {
		return false
	}
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "-") && len(f) > 1 {
			return true
		}
	}
	return false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.') {
			return false
		}
	}
	return true
}

func joinContinuations(lines []string) []string {
	var out []string
	var cur strings.Builder
	for _, l := range lines {
		trimmed := strings.TrimRight(l, " \t")
		if strings.HasSuffix(trimmed, "\\") {
			cur.WriteString(strings.TrimSuffix(trimmed, "\\"))
			cur.WriteString(" ")
			continue
		}
		cur.WriteString(l)
		out = append(out, cur.String())
		cur.Reset()
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
