package runner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/stagehand/manifest"
	"github.com/pithecene-io/stagehand/sandbox"
	"github.com/pithecene-io/stagehand/types"
)

// ErrNoFetcher is returned for file actions with a source when the runner
// has no fetcher.
var ErrNoFetcher = errors.New("no fetcher configured for remote sources")

// ErrNoBuildOutput is returned when a build succeeds without producing any
// of the configured output directories.
var ErrNoBuildOutput = errors.New("build output directory not found")

// ResultPending marks a database query handed off for execution elsewhere.
const ResultPending = "pending"

// runFile writes a file action. Streaming calls write the partial content
// and skip remote sources, binary payloads and manifest repair.
func (r *Runner) runFile(e *entry, action types.Action, streaming bool) (string, error) {
	p, err := sandbox.Clean(action.FilePath)
	if err != nil {
		return "", fmt.Errorf("file %s: %w", action.FilePath, err)
	}
	if streaming && (action.Source != "" || action.Binary()) {
		return "", nil
	}

	var data []byte
	switch {
	case action.Source != "":
		if r.cfg.Fetcher == nil {
			return "", fmt.Errorf("file %s: %w", p, ErrNoFetcher)
		}
		data, err = r.cfg.Fetcher.Fetch(e.ctx, action.Source)
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", action.Source, err)
		}
	case action.Binary():
		data, err = base64.StdEncoding.DecodeString(strings.TrimSpace(action.Content))
		if err != nil {
			return "", fmt.Errorf("file %s: decode base64: %w", p, err)
		}
	default:
		content := action.Content
		if !streaming && manifest.IsManifest(p) {
			content = r.repairManifest(e.state.ID, p, content)
		}
		data = []byte(content)
	}

	ctx, cancel := context.WithTimeout(e.ctx, r.cfg.FileTimeout)
	defer cancel()
	if dir := path.Dir(p); dir != "." {
		if err := r.sb.Mkdir(ctx, dir); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	if err := r.sb.WriteFile(ctx, p, data); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(data), p), nil
}

func (r *Runner) repairManifest(actionID, p, content string) string {
	res, err := r.cfg.ValidateManifest(p, content)
	if err != nil {
		r.log().Warn("manifest not validated, writing as is", map[string]any{
			"action_id": actionID,
			"path":      p,
			"error":     err.Error(),
		})
		return content
	}
	if res.Changed() {
		r.log().Info("manifest repaired", map[string]any{
			"action_id": actionID,
			"path":      p,
			"fixes":     strings.Join(res.Fixes, "; "),
		})
	}
	return res.Content
}

// runShell runs a command to completion within the shell timeout.
func (r *Runner) runShell(e *entry, action types.Action) (string, error) {
	ctx, cancel := context.WithTimeout(e.ctx, r.cfg.ShellTimeout)
	defer cancel()
	command, err := r.prepareCommand(ctx, e.state.ID, action.Content)
	if err != nil {
		return "", err
	}
	res, err := r.sb.RunCommand(ctx, command)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res.Output(), fmt.Errorf("command %q timed out after %s: %w", command, r.cfg.ShellTimeout, err)
		}
		return res.Output(), fmt.Errorf("run command %q: %w", command, err)
	}
	if res.ExitCode != 0 {
		return res.Output(), Diagnose(command, res)
	}
	return res.Output(), nil
}

type startResult struct {
	res types.CommandResult
	err error
}

// runStart launches a long-running command. The chain is held for at most
// the grace period; a process still running after it is reported complete
// and monitored in the background.
func (r *Runner) runStart(e *entry, action types.Action) (string, error) {
	command, err := r.prepareCommand(e.ctx, e.state.ID, action.Content)
	if err != nil {
		return "", err
	}

	done := make(chan startResult, 1)
	r.monitors.Add(1)
	go func() {
		defer r.monitors.Done()
		res, err := r.sb.RunCommand(sandbox.WithBackground(e.ctx), command)
		done <- startResult{res, err}
	}()

	timer := time.NewTimer(r.cfg.StartGrace)
	defer timer.Stop()
	select {
	case out := <-done:
		if out.err != nil {
			return out.res.Output(), fmt.Errorf("start %q: %w", command, out.err)
		}
		if out.res.ExitCode != 0 {
			return out.res.Output(), Diagnose(command, out.res)
		}
		return out.res.Output(), nil
	case <-e.ctx.Done():
		return "", e.ctx.Err()
	case <-timer.C:
	}

	id := e.state.ID
	r.monitors.Add(1)
	go func() {
		defer r.monitors.Done()
		r.monitorStart(e, id, command, done)
	}()

	url := ""
	if port := detectPort(command); port > 0 {
		if u, err := r.sb.Host(e.ctx, port); err == nil {
			url = u
			r.cfg.Alerts.Build(r.alertCtx(), id, types.BuildAlert{
				Stage:        types.StageDeploying,
				BuildStatus:  types.PhaseSuccess,
				DeployStatus: types.PhaseRunning,
				Source:       string(types.ActionTypeStart),
				URL:          u,
				Message:      "preview available",
			})
		} else {
			r.log().Warn("preview host unavailable", map[string]any{"action_id": id, "port": port, "error": err.Error()})
		}
	}
	if url != "" {
		return "running at " + url, nil
	}
	return "running", nil
}

// monitorStart reports a start process that exits with an error after its
// grace period. Exits caused by abort or runner close are not reported.
func (r *Runner) monitorStart(e *entry, id, command string, done <-chan startResult) {
	out := <-done
	if e.ctx.Err() != nil {
		return
	}
	if out.err == nil && out.res.ExitCode == 0 {
		r.log().Info("start process exited", map[string]any{"action_id": id})
		return
	}
	var err error = Diagnose(command, out.res)
	if out.err != nil {
		err = fmt.Errorf("start %q: %w", command, out.err)
	}
	r.log().Warn("start process failed", map[string]any{"action_id": id, "error": err.Error()})
	r.cfg.Alerts.Alert(r.alertCtx(), id, failureAlert(types.ActionTypeStart, err, out.res.Output()))
}

// portPatterns find a listening port in a start command.
var portPatterns = []*regexp.Regexp{
	regexp.MustCompile(`--port[= ](\d{2,5})\b`),
	regexp.MustCompile(`(?:^|\s)-p\s+(\d{2,5})\b`),
	regexp.MustCompile(`\bPORT=(\d{2,5})\b`),
	regexp.MustCompile(`(?:localhost|127\.0\.0\.1|0\.0\.0\.0):(\d{2,5})\b`),
}

func detectPort(command string) int {
	for _, re := range portPatterns {
		if m := re.FindStringSubmatch(command); m != nil {
			if port, err := strconv.Atoi(m[1]); err == nil && port > 0 && port <= 65535 {
				return port
			}
		}
	}
	return 0
}

// runBuild runs the build command and locates its output directory.
func (r *Runner) runBuild(e *entry) (string, error) {
	id := e.state.ID
	r.cfg.Alerts.Build(r.alertCtx(), id, types.BuildAlert{
		Stage:        types.StageBuilding,
		BuildStatus:  types.PhaseRunning,
		DeployStatus: types.PhasePending,
		Source:       string(types.ActionTypeBuild),
	})

	ctx, cancel := context.WithTimeout(e.ctx, r.cfg.ShellTimeout)
	defer cancel()
	res, err := r.sb.RunCommand(ctx, r.cfg.BuildCommand)
	if err == nil && res.ExitCode != 0 {
		err = Diagnose(r.cfg.BuildCommand, res)
	}
	if err == nil {
		var dir string
		dir, err = r.findOutputDir(ctx)
		if err == nil {
			r.cfg.Alerts.Build(r.alertCtx(), id, types.BuildAlert{
				Stage:        types.StageComplete,
				BuildStatus:  types.PhaseSuccess,
				DeployStatus: types.PhasePending,
				Source:       string(types.ActionTypeBuild),
				Message:      "build output in " + dir,
			})
			return dir, nil
		}
	}
	if e.ctx.Err() != nil {
		return "", err
	}
	r.cfg.Alerts.Build(r.alertCtx(), id, types.BuildAlert{
		Stage:        types.StageBuilding,
		BuildStatus:  types.PhaseFailed,
		DeployStatus: types.PhasePending,
		Source:       string(types.ActionTypeBuild),
		Message:      err.Error(),
	})
	return res.Output(), err
}

func (r *Runner) findOutputDir(ctx context.Context) (string, error) {
	for _, dir := range r.cfg.OutputDirs {
		ok, err := sandbox.Exists(ctx, r.sb, dir)
		if err != nil {
			return "", fmt.Errorf("check %s: %w", dir, err)
		}
		if ok {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w (looked for %s)", ErrNoBuildOutput, strings.Join(r.cfg.OutputDirs, ", "))
}

// runDatabase writes migrations through the file handler and hands both
// migrations and queries to the alert sink.
func (r *Runner) runDatabase(e *entry, action types.Action) (string, error) {
	id := e.state.ID
	switch action.Operation {
	case types.DatabaseMigration:
		file := types.Action{Type: types.ActionTypeFile, FilePath: action.FilePath, Content: action.Content}
		if _, err := r.runFile(e, file, false); err != nil {
			return "", err
		}
		r.cfg.Alerts.Database(r.alertCtx(), id, types.DatabaseAlert{
			Title:       "Database migration",
			Description: "Review and apply migration " + action.FilePath,
			Content:     action.Content,
			Source:      string(types.ActionTypeDatabase),
		})
		return action.FilePath, nil
	default:
		r.cfg.Alerts.Database(r.alertCtx(), id, types.DatabaseAlert{
			Title:       "Database query",
			Description: "Review and run the query",
			Content:     action.Content,
			Source:      string(types.ActionTypeDatabase),
		})
		return ResultPending, nil
	}
}

// reportFailure sends the alert for a failed action. Build failures are
// already reported as build alerts.
func (r *Runner) reportFailure(id string, action types.Action, err error) {
	if action.Type == types.ActionTypeBuild {
		return
	}
	output := ""
	var ce *CommandError
	if errors.As(err, &ce) {
		output = ce.Output
	}
	r.cfg.Alerts.Alert(r.alertCtx(), id, failureAlert(action.Type, err, output))
}

func failureAlert(t types.ActionType, err error, output string) types.Alert {
	title := "Action failed"
	description := err.Error()
	switch t {
	case types.ActionTypeShell:
		title = "Command failed"
	case types.ActionTypeStart:
		title = "Dev server failed"
	case types.ActionTypeFile:
		title = "File write failed"
	case types.ActionTypeDatabase:
		title = "Migration failed"
	}
	var ce *CommandError
	if errors.As(err, &ce) && ce.Suggestion != "" {
		description = ce.Suggestion
	}
	content := output
	if content == "" {
		content = err.Error()
	}
	return types.Alert{
		Type:        types.AlertError,
		Title:       title,
		Description: description,
		Content:     content,
		Source:      string(t),
	}
}

// alertCtx outlives action cancellation so failure reports still go out.
func (r *Runner) alertCtx() context.Context {
	return context.WithoutCancel(r.ctx)
}
