package tui

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/stagehand/metrics"
)

// StatsModel shows a metrics snapshot as stat boxes.
type StatsModel struct {
	snap     *metrics.Snapshot
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a stats model for a *metrics.Snapshot.
func NewStatsModel(data any) (StatsModel, error) {
	snap, ok := data.(*metrics.Snapshot)
	if !ok || snap == nil {
		return StatsModel{}, errors.New("stats view requires a metrics snapshot")
	}
	return StatsModel{snap: snap}, nil
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}
	s := m.snap

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session Metrics"))
	b.WriteString("\n")
	if s.SessionID != "" {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Session:"), s.SessionID)
	}
	fmt.Fprintf(&b, "%s %s / %s / %s\n\n", LabelStyle.Render("Setup:"), s.SandboxMode, s.JournalBackend, s.Policy)

	b.WriteString(statRow(
		statBox("Messages", s.MessagesParsed),
		statBox("Actions", s.ActionsClosed),
		statBox("Parse errors", s.ParseErrors),
		statBox("Rewinds", s.ParserRewinds),
	))
	b.WriteString("\n")
	b.WriteString(statRow(
		statBox("Completed", s.ActionsCompleted),
		statBox("Failed", s.ActionsFailed),
		statBox("Aborted", s.ActionsAborted),
		statBox("Repaired", s.CommandsRepaired),
	))
	b.WriteString("\n")
	b.WriteString(statRow(
		statBox("Alerts", s.AlertsPublished),
		statBox("Alert failures", s.AlertsFailed),
		statBox("Records", s.RecordsPersisted),
		statBox("Dropped", s.RecordsDropped),
	))

	if len(s.Rewrites) > 0 {
		b.WriteString("\n\n")
		b.WriteString(LabelStyle.Render("Rewrites:"))
		b.WriteString("\n")
		for _, name := range slices.Sorted(maps.Keys(s.Rewrites)) {
			fmt.Fprintf(&b, "  %-12s %d\n", name, s.Rewrites[name])
		}
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

func statBox(label string, value int64) string {
	return StatBoxStyle.Render(
		StatLabelStyle.Render(label) + "\n" + StatValueStyle.Render(fmt.Sprintf("%d", value)),
	)
}

func statRow(boxes ...string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}
