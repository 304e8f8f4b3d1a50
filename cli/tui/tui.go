package tui

import (
	"fmt"
	"slices"

	tea "github.com/charmbracelet/bubbletea"
)

// View types with TUI support.
const (
	ViewReport  = "inspect_report"
	ViewMetrics = "stats_metrics"
)

// Run starts the TUI for a view type and blocks until the user quits.
func Run(viewType string, data any) error {
	var model tea.Model
	switch viewType {
	case ViewReport:
		m, err := NewInspectModel(data)
		if err != nil {
			return err
		}
		model = m
	case ViewMetrics:
		m, err := NewStatsModel(data)
		if err != nil {
			return err
		}
		model = m
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// IsTUISupported reports whether a view type has a TUI.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews lists view types with TUI support.
func SupportedTUIViews() []string {
	return []string{ViewReport, ViewMetrics}
}
