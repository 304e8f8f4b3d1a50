package runner

import (
	"context"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/pithecene-io/stagehand/sandbox"
	"github.com/pithecene-io/stagehand/types"
)

// userAgent is added to fetch commands that do not set one.
var userAgent = "stagehand/" + types.Version

// segment is one simple command of a command line. start and end are byte
// offsets into the line; fields are its words with quotes removed where the
// word has no expansions.
type segment struct {
	start, end int
	fields     []string
}

// splitSegments parses command and returns its simple commands in source
// order. Separators, quoting and spacing between segments are never
// touched by repairs, which only replace a segment's own byte range.
func splitSegments(command string) ([]segment, error) {
	f, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, err
	}
	var segs []segment
	syntax.Walk(f, func(n syntax.Node) bool {
		call, ok := n.(*syntax.CallExpr)
		if !ok {
			return true
		}
		if len(call.Args) == 0 {
			return false
		}
		seg := segment{
			start: int(call.Args[0].Pos().Offset()),
			end:   int(call.End().Offset()),
		}
		for _, w := range call.Args {
			seg.fields = append(seg.fields, wordValue(w, command))
		}
		segs = append(segs, seg)
		return false
	})
	return segs, nil
}

func (s segment) text(command string) string {
	return command[s.start:s.end]
}

// wordValue unquotes a word made of literal and quoted parts. Words with
// expansions keep their source text.
func wordValue(w *syntax.Word, src string) string {
	raw := src[w.Pos().Offset():w.End().Offset()]
	var b strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			b.WriteString(p.Value)
		case *syntax.SglQuoted:
			if p.Dollar {
				return raw
			}
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return raw
				}
				b.WriteString(lit.Value)
			}
		default:
			return raw
		}
	}
	return b.String()
}

// repairContext is the state threaded through the rules of one command.
type repairContext struct {
	ctx context.Context
	sb  sandbox.Sandbox
	// cwd follows cd segments, relative to the sandbox root.
	cwd string
}

func (rc *repairContext) exists(p string) bool {
	if !path.IsAbs(p) {
		p = path.Join(rc.cwd, p)
	}
	ok, err := sandbox.Exists(rc.ctx, rc.sb, p)
	return err == nil && ok
}

// chdir follows a `cd DIR` segment.
func chdir(cwd string, fields []string) string {
	if len(fields) == 2 && fields[0] == "cd" {
		return path.Join(cwd, fields[1])
	}
	return cwd
}

// repairRule rewrites one segment. It returns the segment unchanged when it
// does not apply.
type repairRule struct {
	name  string
	apply func(rc *repairContext, fields []string, seg string) string
}

var repairRules = []repairRule{
	{"rm-force", repairRemove},
	{"cd-mkdir", repairChdir},
	{"npx-yes", repairNpx},
	{"npm-init-yes", repairNpmInit},
	{"apt-yes", repairApt},
	{"curl-flags", repairCurl},
	{"wget-flags", repairWget},
}

// prepareCommand applies command repairs immediately before dispatch and
// waits for dependencies when the command needs them. The original
// command is returned when no rule applies or it does not parse.
func (r *Runner) prepareCommand(ctx context.Context, actionID, command string) (string, error) {
	command = strings.TrimSpace(command)
	segs, err := splitSegments(command)
	if err != nil {
		r.log().Debug("command not parsed, dispatching unchanged", map[string]any{
			"action_id": actionID,
			"error":     err.Error(),
		})
		return command, nil
	}
	if dir, ok := dependencyDir(command, segs); ok {
		if err := r.waitForDependencies(ctx, actionID, dir); err != nil {
			return "", err
		}
	}

	type edit struct {
		seg  segment
		text string
	}
	rc := &repairContext{ctx: ctx, sb: r.sb, cwd: "."}
	var edits []edit
	var applied []string
	for _, seg := range segs {
		text := seg.text(command)
		// Rules splice after the command word, which must be unquoted.
		if !strings.HasPrefix(text, seg.fields[0]) {
			rc.cwd = chdir(rc.cwd, seg.fields)
			continue
		}
		for _, rule := range repairRules {
			if out := rule.apply(rc, seg.fields, text); out != text {
				edits = append(edits, edit{seg, out})
				applied = append(applied, rule.name)
				break
			}
		}
		rc.cwd = chdir(rc.cwd, seg.fields)
	}
	if len(edits) == 0 {
		return command, nil
	}

	repaired := command
	for i := len(edits) - 1; i >= 0; i-- {
		e := edits[i]
		repaired = repaired[:e.seg.start] + e.text + repaired[e.seg.end:]
	}
	r.cfg.Metrics.IncCommandRepaired()
	r.log().Info("command repaired", map[string]any{
		"action_id": actionID,
		"original":  command,
		"repaired":  repaired,
		"rules":     strings.Join(applied, ","),
	})
	return repaired, nil
}

func flags(fields []string) []string {
	var out []string
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "-") {
			out = append(out, f)
		}
	}
	return out
}

func hasFlag(fields []string, long string, short rune) bool {
	for _, f := range flags(fields) {
		if f == long {
			return true
		}
		if short != 0 && !strings.HasPrefix(f, "--") && strings.ContainsRune(f[1:], short) {
			return true
		}
	}
	return false
}

func insertAfter(seg, word, insert string) string {
	i := strings.Index(seg, word)
	if i < 0 {
		return seg
	}
	i += len(word)
	return seg[:i] + " " + insert + seg[i:]
}

// repairRemove makes rm tolerate missing targets.
func repairRemove(rc *repairContext, fields []string, seg string) string {
	if fields[0] != "rm" || hasFlag(fields, "--force", 'f') {
		return seg
	}
	for _, target := range fields[1:] {
		if strings.HasPrefix(target, "-") {
			continue
		}
		if strings.ContainsAny(target, "*?$~") || !rc.exists(target) {
			return "rm -f" + seg[len("rm"):]
		}
	}
	return seg
}

// repairChdir creates a missing directory before changing into it.
func repairChdir(rc *repairContext, fields []string, seg string) string {
	if fields[0] != "cd" || len(fields) != 2 {
		return seg
	}
	dir := fields[1]
	if dir == "" || strings.ContainsAny(dir[:1], "-~$/") || strings.ContainsAny(dir, "*?") || rc.exists(dir) {
		return seg
	}
	// The source word keeps its quoting.
	return "mkdir -p " + strings.TrimSpace(seg[len("cd"):]) + " && " + seg
}

func repairNpx(_ *repairContext, fields []string, seg string) string {
	if fields[0] != "npx" || hasFlag(fields, "--yes", 'y') {
		return seg
	}
	return insertAfter(seg, "npx", "--yes")
}

func repairNpmInit(_ *repairContext, fields []string, seg string) string {
	if len(fields) < 2 || fields[0] != "npm" || fields[1] != "init" || hasFlag(fields, "--yes", 'y') {
		return seg
	}
	return insertAfter(seg, "init", "-y")
}

func repairApt(_ *repairContext, fields []string, seg string) string {
	f := fields
	if f[0] == "sudo" {
		f = f[1:]
	}
	if len(f) < 2 || (f[0] != "apt-get" && f[0] != "apt") || !slices.Contains(f, "install") {
		return seg
	}
	if hasFlag(f, "--yes", 'y') || hasFlag(f, "--assume-yes", 0) {
		return seg
	}
	return insertAfter(seg, "install", "-y")
}

func repairCurl(_ *repairContext, fields []string, seg string) string {
	if fields[0] != "curl" {
		return seg
	}
	var add []string
	if !hasFlag(fields, "--location", 'L') {
		add = append(add, "-L")
	}
	if !hasFlag(fields, "--user-agent", 'A') && !strings.Contains(strings.ToLower(seg), "user-agent") {
		add = append(add, "-A "+userAgent)
	}
	if len(add) == 0 {
		return seg
	}
	return insertAfter(seg, "curl", strings.Join(add, " "))
}

func repairWget(_ *repairContext, fields []string, seg string) string {
	if fields[0] != "wget" || strings.Contains(strings.ToLower(seg), "user-agent") || hasFlag(fields, "", 'U') {
		return seg
	}
	return insertAfter(seg, "wget", "--user-agent="+userAgent)
}

var (
	packageRunners = regexp.MustCompile(`^(npm|yarn|pnpm|bun)\s+(run|start|dev|build|test|exec|preview)\b`)
	nodeTools      = regexp.MustCompile(`^(npx|node|vite|next|tsc|jest|vitest)\b`)
	installs       = regexp.MustCompile(`^((npm|pnpm|bun)\s+(install|i|ci|add)\b|yarn(\s+(install|add)\b|\s*$))`)
)

// dependencyDir reports whether a command runs project tooling before it
// installs dependencies itself, and the directory it runs that tooling in.
func dependencyDir(command string, segs []segment) (string, bool) {
	cwd := "."
	for _, seg := range segs {
		text := seg.text(command)
		if installs.MatchString(text) {
			return "", false
		}
		if packageRunners.MatchString(text) || nodeTools.MatchString(text) {
			return cwd, true
		}
		cwd = chdir(cwd, seg.fields)
	}
	return "", false
}

// waitForDependencies blocks while dir holds a project manifest but its
// node_modules is empty, until it is populated and its entry count has
// been stable for the quiet period. Timing out is not an error: the
// command is dispatched anyway.
func (r *Runner) waitForDependencies(ctx context.Context, actionID, dir string) error {
	hasManifest, err := sandbox.Exists(ctx, r.sb, path.Join(dir, "package.json"))
	if err != nil || !hasManifest {
		return nil
	}
	count := func() int {
		entries, err := r.sb.ReadDir(ctx, path.Join(dir, "node_modules"))
		if err != nil {
			return 0
		}
		return len(entries)
	}
	if count() > 0 {
		return nil
	}

	logger := r.log()
	logger.Info("waiting for dependencies", map[string]any{
		"action_id": actionID,
		"dir":       dir,
		"timeout":   r.cfg.InstallTimeout.String(),
	})
	deadline := time.NewTimer(r.cfg.InstallTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.cfg.InstallPoll)
	defer ticker.Stop()

	last := 0
	var stableSince time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			logger.Warn("dependencies not ready, running anyway", map[string]any{"action_id": actionID})
			return nil
		case <-ticker.C:
		}
		n := count()
		switch {
		case n == 0:
			last = 0
		case n != last:
			last = n
			stableSince = r.now()
		case r.now().Sub(stableSince) >= r.cfg.InstallQuiet:
			logger.Info("dependencies ready", map[string]any{"action_id": actionID, "entries": n})
			return nil
		}
	}
}
