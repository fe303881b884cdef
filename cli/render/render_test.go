package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"table", FormatTable, false},
		{"Yaml", FormatYAML, false},
		{"", "", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
	if _, err := ParseFormat("csv"); err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error should list the valid formats, got %v", err)
	}
}

func render(t *testing.T, format Format, data any) string {
	t.Helper()
	var buf bytes.Buffer
	if err := NewRendererWithWriter(format, false, &buf).Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return buf.String()
}

// cells splits table output into whitespace-separated cells per line.
func cells(out string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		rows = append(rows, strings.Fields(line))
	}
	return rows
}

type Exit struct {
	Source string `json:"source"`
	Name   string `json:"name"`
	Code   int    `json:"exit_code"`
	Secret string `json:"-"`
}

type Archived struct {
	Session string `json:"session"`
	Exit
}

type hidden struct{ Note string }

type wrapped struct {
	Session string `json:"session"`
	hidden
	Record Exit
}

func TestRenderer_Table(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		name string
		data any
		want [][]string
	}{
		{
			"struct as key value lines",
			Exit{Source: "platform", Name: "audio", Code: 1, Secret: "x"},
			[][]string{{"source:", "platform"}, {"name:", "audio"}, {"exit_code:", "1"}},
		},
		{
			"slice of structs",
			[]Exit{{"platform", "audio", 1, ""}, {"user", "weather", 0, ""}},
			[][]string{{"source", "name", "exit_code"}, {"platform", "audio", "1"}, {"user", "weather", "0"}},
		},
		{
			"slice of pointers",
			[]*Exit{{"user", "weather", 0, ""}, nil},
			[][]string{{"source", "name", "exit_code"}, {"user", "weather", "0"}, {}},
		},
		{
			"embedded struct flattens",
			[]Archived{{Session: "s1", Exit: Exit{"platform", "audio", 1, ""}}},
			[][]string{{"session", "source", "name", "exit_code"}, {"s1", "platform", "audio", "1"}},
		},
		{
			"map sorted",
			map[string]int{"zeta": 1, "alpha": 2, "mid": 3},
			[][]string{{"alpha:", "2"}, {"mid:", "3"}, {"zeta:", "1"}},
		},
		{
			"slice of maps uses key union",
			[]map[string]string{{"b": "1"}, {"a": "2", "b": "3"}},
			[][]string{{"a", "b"}, {"1"}, {"2", "3"}},
		},
		{
			"scalars",
			[]string{"x", "y"},
			[][]string{{"value"}, {"x"}, {"y"}},
		},
		{
			"empty slice",
			[]string{},
			[][]string{{"(no results)"}},
		},
		{
			"values",
			struct {
				PIDs    []int         `json:"pids"`
				Updated time.Time     `json:"updated"`
				Never   time.Time     `json:"never"`
				Age     time.Duration `json:"age"`
				Missing *string       `json:"missing"`
				Tags    []string      `json:"tags"`
			}{PIDs: []int{10, 20}, Updated: at, Age: 1500 * time.Millisecond, Tags: []string{"a", "b"}},
			[][]string{{"pids:", "10,20"}, {"updated:", "2026-03-04T05:06:07Z"}, {"never:"}, {"age:", "1.5s"}, {"missing:"}, {"tags:", "[2", "items]"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cells(render(t, FormatTable, tt.data))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("table mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRenderer_UnexportedEmbedIgnored(t *testing.T) {
	got := cells(render(t, FormatTable, []wrapped{{Session: "s1", Record: Exit{Name: "audio"}}}))
	want := [][]string{{"session", "record"}, {"s1", "{...}"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderer_JSONAndYAML(t *testing.T) {
	data := Exit{Source: "user", Name: "weather", Secret: "hidden"}

	js := render(t, FormatJSON, data)
	if !strings.Contains(js, `"name": "weather"`) || strings.Contains(js, "hidden") {
		t.Errorf("unexpected json:\n%s", js)
	}
	y := render(t, FormatYAML, map[string]string{"key": "value"})
	if !strings.Contains(y, "key: value") {
		t.Errorf("unexpected yaml: %q", y)
	}
}

func TestRenderer_NoColorDoesNotAffectJSON(t *testing.T) {
	var color, plain bytes.Buffer
	data := map[string]string{"key": "value"}
	if err := NewRendererWithWriter(FormatJSON, false, &color).Render(data); err != nil {
		t.Fatal(err)
	}
	if err := NewRendererWithWriter(FormatJSON, true, &plain).Render(data); err != nil {
		t.Fatal(err)
	}
	if color.String() != plain.String() {
		t.Error("--no-color should not affect JSON output")
	}
}
