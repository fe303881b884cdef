// Package tui provides Bubble Tea views for the hearth CLI.
//
// TUI mode is opt-in (--tui) and read-only. It renders the same payloads as
// the json, yaml and table output; there is no TUI-only data.
package tui

import (
	"fmt"
	"slices"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// View types with a TUI.
const (
	ViewTraceSummary = "trace_summary"
)

// Run starts the view for viewType and blocks until the user quits.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	model, err := newModel(viewType, data)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// RenderStatic renders a view once without taking over the terminal.
func RenderStatic(viewType string, data any) (string, error) {
	model, err := newModel(viewType, data)
	if err != nil {
		return "", err
	}
	model, _ = model.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View()), nil
}

func newModel(viewType string, data any) (tea.Model, error) {
	switch viewType {
	case ViewTraceSummary:
		return NewTraceModel(data)
	default:
		return nil, fmt.Errorf("unknown view type: %s", viewType)
	}
}

// IsTUISupported reports whether viewType has a TUI.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews lists the view types with a TUI.
func SupportedTUIViews() []string {
	return []string{ViewTraceSummary}
}
