package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/stagehand/runner"
)

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "previous action"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "next action"),
	),
}

// InspectModel browses the actions of a run report. The list is on top;
// the selected action's content, result and error scroll below it.
type InspectModel struct {
	report   *runner.Report
	cursor   int
	detail   viewport.Model
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates an inspect model for a *runner.Report.
func NewInspectModel(data any) (InspectModel, error) {
	report, ok := data.(*runner.Report)
	if !ok || report == nil {
		return InspectModel{}, errors.New("inspect view requires a run report")
	}
	m := InspectModel{
		report: report,
		detail: viewport.New(80, 12),
	}
	m.detail.SetContent(m.renderDetail())
	return m, nil
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.detail.Width = max(msg.Width-4, 20)
		m.detail.Height = max(msg.Height-len(m.report.Actions)-12, 5)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
				m.detail.SetContent(m.renderDetail())
				m.detail.GotoTop()
			}
			return m, nil
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.report.Actions)-1 {
				m.cursor++
				m.detail.SetContent(m.renderDetail())
				m.detail.GotoTop()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run Report"))
	b.WriteString("\n")
	b.WriteString(m.renderSummary())
	b.WriteString("\n\n")
	b.WriteString(m.renderList())

	out := BoxStyle.Render(b.String())
	if len(m.report.Actions) > 0 {
		out += "\n" + m.detail.View()
	}
	help := HelpStyle.Render("↑/↓ select  pgup/pgdn scroll  q quit")
	return out + "\n" + help
}

// Selected returns the ID of the action under the cursor.
func (m InspectModel) Selected() string {
	if len(m.report.Actions) == 0 {
		return ""
	}
	return m.report.Actions[m.cursor].ID
}

func (m InspectModel) renderSummary() string {
	s := m.report.Summary
	rows := [][2]string{
		{"Session", m.report.SessionID},
		{"Runner", m.report.RunnerID},
		{"Actions", fmt.Sprintf("%d total, %s, %s, %s, %d unfinished",
			s.Total,
			SuccessStyle.Render(fmt.Sprintf("%d complete", s.Complete)),
			ErrorStyle.Render(fmt.Sprintf("%d failed", s.Failed)),
			MutedStyle.Render(fmt.Sprintf("%d aborted", s.Aborted)),
			s.Unfinished)},
	}
	if j := m.report.Journal; j != nil {
		rows = append(rows, [2]string{"Journal", fmt.Sprintf("%s: %d received, %d persisted, %d dropped",
			j.Policy, j.RecordsReceived, j.RecordsWritten, j.RecordsDropped)})
	}
	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1]))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m InspectModel) renderList() string {
	if len(m.report.Actions) == 0 {
		return MutedStyle.Render("(no actions)")
	}
	lines := make([]string, 0, len(m.report.Actions))
	for i, a := range m.report.Actions {
		marker := "  "
		id := a.ID
		if i == m.cursor {
			marker = "> "
			id = SelectedStyle.Render(id)
		}
		status := StatusStyle(a.Status).Render(fmt.Sprintf("%-8s", a.Status))
		dur := time.Duration(a.DurationMs) * time.Millisecond
		lines = append(lines, fmt.Sprintf("%s%s  %-8s  %s  %8s  %s",
			marker, status, a.Action.Type, id, dur, MutedStyle.Render(a.Action.Describe())))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m InspectModel) renderDetail() string {
	if len(m.report.Actions) == 0 {
		return ""
	}
	a := m.report.Actions[m.cursor]
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Action:"), a.ID)
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Message:"), a.MessageID)
	if a.Action.FilePath != "" {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Path:"), a.Action.FilePath)
	}
	if a.Result != "" {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Result:"), a.Result)
	}
	if a.Error != "" {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Error:"), ErrorStyle.Render(a.Error))
	}
	if a.Action.Content != "" && !a.Action.Binary() {
		b.WriteString("\n")
		b.WriteString(a.Action.Content)
	}
	return b.String()
}
