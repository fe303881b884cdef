package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/hearth/trace"
)

type tab int

const (
	tabTraffic tab = iota
	tabExits
)

var tabNames = []string{"Traffic", "Exits"}

type keyMap struct {
	Quit key.Binding
	Tab  key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Tab: key.NewBinding(
		key.WithKeys("tab", "shift+tab"),
		key.WithHelp("tab", "switch view"),
	),
}

// TraceModel shows a trace summary: totals, traffic per source and event
// type, and the process exits in trace order.
type TraceModel struct {
	summary  *trace.Summary
	tab      tab
	traffic  table.Model
	exits    table.Model
	width    int
	height   int
	quitting bool
}

// NewTraceModel builds the model for a *trace.Summary.
func NewTraceModel(data any) (TraceModel, error) {
	summary, ok := data.(*trace.Summary)
	if !ok {
		return TraceModel{}, fmt.Errorf("trace view needs *trace.Summary, got %T", data)
	}
	m := TraceModel{summary: summary}
	m.traffic = table.New(
		table.WithColumns([]table.Column{
			{Title: "Kind", Width: 8},
			{Title: "Name", Width: 32},
			{Title: "Events", Width: 10},
		}),
		table.WithRows(trafficRows(summary)),
		table.WithFocused(true),
		table.WithStyles(tableStyles()),
	)
	m.exits = table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 15},
			{Title: "Source", Width: 12},
			{Title: "Name", Width: 20},
			{Title: "PID", Width: 8},
			{Title: "Exit", Width: 6},
			{Title: "Essential", Width: 10},
		}),
		table.WithRows(exitRows(summary)),
		table.WithStyles(tableStyles()),
	)
	return m, nil
}

func trafficRows(s *trace.Summary) []table.Row {
	var rows []table.Row
	for _, c := range trace.Top(s.BySource, 0) {
		rows = append(rows, table.Row{"source", c.Name, strconv.Itoa(c.Count)})
	}
	for _, c := range trace.Top(s.ByType, 0) {
		rows = append(rows, table.Row{"type", c.Name, strconv.Itoa(c.Count)})
	}
	return rows
}

func exitRows(s *trace.Summary) []table.Row {
	rows := make([]table.Row, 0, len(s.Exits))
	for _, e := range s.Exits {
		essential := ""
		if e.Essential {
			essential = "yes"
		}
		rows = append(rows, table.Row{
			e.At.Format("15:04:05.000"),
			e.Source,
			e.Name,
			strconv.Itoa(e.Pid),
			strconv.Itoa(e.ExitCode),
			essential,
		})
	}
	return rows
}

// Init implements tea.Model.
func (m TraceModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m TraceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Title, stat boxes, tabs and help take roughly twelve lines.
		h := max(msg.Height-12, 3)
		m.traffic.SetHeight(h)
		m.exits.SetHeight(h)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Tab):
			if m.tab == tabTraffic {
				m.tab = tabExits
				m.traffic.Blur()
				m.exits.Focus()
			} else {
				m.tab = tabTraffic
				m.exits.Blur()
				m.traffic.Focus()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.tab == tabTraffic {
		m.traffic, cmd = m.traffic.Update(msg)
	} else {
		m.exits, cmd = m.exits.Update(msg)
	}
	return m, cmd
}

// View implements tea.Model.
func (m TraceModel) View() string {
	if m.quitting {
		return ""
	}
	s := m.summary

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Trace Summary"))
	b.WriteString("\n")
	if s.Records > 0 {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Span:"),
			fmt.Sprintf("%s → %s (%s)",
				s.Start.Format("2006-01-02 15:04:05"),
				s.End.Format("15:04:05"),
				s.Duration().Round(1e6))))
	}
	b.WriteString("\n")

	losses := s.EssentialLosses()
	lossColor := calm
	if losses > 0 {
		lossColor = alarm
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Events", s.Events, info),
		renderStatBox("Bytes", int(s.Bytes), info),
		renderStatBox("Exits", len(s.Exits), accent),
		renderStatBox("Essential Lost", losses, lossColor),
	))
	b.WriteString("\n\n")

	tabs := make([]string, len(tabNames))
	for i, name := range tabNames {
		if tab(i) == m.tab {
			tabs[i] = ActiveTabStyle.Render(name)
		} else {
			tabs[i] = TabStyle.Render(name)
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
	b.WriteString("\n")

	if m.tab == tabTraffic {
		b.WriteString(m.traffic.View())
	} else {
		b.WriteString(m.exits.View())
		if losses > 0 {
			b.WriteString("\n")
			b.WriteString(ExitStyle(1, true).Render(fmt.Sprintf("%d essential service(s) lost", losses)))
		}
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("tab: switch view • ↑/↓: scroll • q: quit"))
	return b.String()
}

func renderStatBox(label string, value int, color lipgloss.TerminalColor) string {
	boxStyle := StatBoxStyle.BorderForeground(color)
	valueStr := StatValueStyle.Foreground(color).Render(strconv.Itoa(value))
	labelStr := StatLabelStyle.Render(label)
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}
