package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Palette. Adaptive colours keep the view readable on light terminals.
var (
	accent = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"} // ember
	calm   = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	alarm  = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	info   = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	dim    = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1)
	LabelStyle = lipgloss.NewStyle().Foreground(dim).Width(12)
	HelpStyle  = lipgloss.NewStyle().Foreground(dim).MarginTop(1)

	TabStyle       = lipgloss.NewStyle().Foreground(dim).Padding(0, 1)
	ActiveTabStyle = TabStyle.Bold(true).Foreground(accent).Underline(true)

	// StatBoxStyle frames one headline number; the border takes the
	// number's colour.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)
	StatLabelStyle = lipgloss.NewStyle().Foreground(dim)
	StatValueStyle = lipgloss.NewStyle().Bold(true)
)

// ExitStyle colours a process exit: essential losses and crashes stand out,
// orderly exits do not.
func ExitStyle(code int, essential bool) lipgloss.Style {
	switch {
	case essential:
		return lipgloss.NewStyle().Foreground(alarm)
	case code != 0:
		return lipgloss.NewStyle().Foreground(accent)
	default:
		return lipgloss.NewStyle().Foreground(calm)
	}
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dim).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("#1C1917")).Background(accent)
	return s
}
