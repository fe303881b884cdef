package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/hearth/trace"
)

func testSummary() *trace.Summary {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := trace.Summarize([]trace.Record{
		{Kind: trace.KindEvent, TS: t0.UnixNano(), Source: "platform/audio", Type: 1, Size: 4},
		{Kind: trace.KindExit, TS: t0.Add(time.Second).UnixNano(), Source: "platform", Name: "audio", Pid: 7, ExitCode: 1, Essential: true},
	})
	return &s
}

func TestIsTUISupported(t *testing.T) {
	tests := []struct {
		viewType string
		want     bool
	}{
		{ViewTraceSummary, true},
		{"status", false},
		{"version", false},
		{"run", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.viewType, func(t *testing.T) {
			if got := IsTUISupported(tt.viewType); got != tt.want {
				t.Errorf("IsTUISupported(%q) = %v, want %v", tt.viewType, got, tt.want)
			}
		})
	}
}

func TestRun_UnsupportedViewType(t *testing.T) {
	if err := Run("status", nil); err == nil {
		t.Error("expected error for unsupported view type")
	}
}

func TestNewTraceModel_WrongData(t *testing.T) {
	if _, err := NewTraceModel("not a summary"); err == nil {
		t.Error("expected error for wrong payload type")
	}
}

func TestRenderStatic(t *testing.T) {
	out, err := RenderStatic(ViewTraceSummary, testSummary())
	if err != nil {
		t.Fatalf("RenderStatic: %v", err)
	}
	for _, want := range []string{"Trace Summary", "platform/audio", "Essential Lost"} {
		if !strings.Contains(out, want) {
			t.Errorf("static view missing %q:\n%s", want, out)
		}
	}
}

func TestTraceModel_Keys(t *testing.T) {
	m, err := NewTraceModel(testSummary())
	if err != nil {
		t.Fatal(err)
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(TraceModel)
	if m.tab != tabExits {
		t.Fatalf("tab = %v, want exits", m.tab)
	}
	if !strings.Contains(m.View(), "audio") {
		t.Error("exits view should list the audio exit")
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = next.(TraceModel)
	if !m.quitting || cmd == nil {
		t.Error("q should quit")
	}
	if m.View() != "" {
		t.Error("view should be empty after quitting")
	}
}
