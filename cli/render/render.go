// Package render writes CLI output as json, yaml or an aligned table.
//
// Without --format, a terminal gets a table and anything else gets json.
// --no-color affects table output only; TUI mode keeps its own styling.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/hearth/cli/tui"
)

// Format represents an output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from the --format and --no-color flags.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	formatStr := c.String("format")
	format, err := ParseFormat(formatStr)
	if err != nil {
		return nil, err
	}

	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     os.Stdout,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// Format returns the selected format.
func (r *Renderer) Format() Format { return r.format }

// RenderTUI runs the interactive view for viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	return enc.Encode(data)
}

// column is one table column: its header and the field index path that
// reaches its value. Untagged embedded structs flatten into their parent.
type column struct {
	name  string
	index []int
}

func columnsOf(t reflect.Type) []column {
	var cols []column
	var walk func(t reflect.Type, prefix []int)
	walk = func(t reflect.Type, prefix []int) {
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			index := append(slices.Clone(prefix), i)
			if f.Anonymous && f.Type.Kind() == reflect.Struct && f.Tag.Get("json") == "" {
				walk(f.Type, index)
				continue
			}
			if name, ok := fieldName(f); ok {
				cols = append(cols, column{name: name, index: index})
			}
		}
	}
	walk(t, nil)
	return cols
}

// fieldName returns the json name of f, or false for fields tagged "-".
func fieldName(f reflect.StructField) (string, bool) {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return "", false
	case "":
		return strings.ToLower(f.Name), true
	}
	return name, true
}

// indirect follows pointers and interfaces. It returns the zero Value for nil.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func sortedKeys(m reflect.Value) []string {
	keys := make([]string, 0, m.Len())
	for _, k := range m.MapKeys() {
		keys = append(keys, fmt.Sprint(k.Interface()))
	}
	slices.Sort(keys)
	return keys
}

func mapValue(m reflect.Value, key string) reflect.Value {
	for _, k := range m.MapKeys() {
		if fmt.Sprint(k.Interface()) == key {
			return m.MapIndex(k)
		}
	}
	return reflect.Value{}
}

func (r *Renderer) renderTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	v := indirect(reflect.ValueOf(data))
	if !v.IsValid() {
		fmt.Fprintln(w, "(no results)")
		return nil
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		r.writeRows(w, v)
	case reflect.Struct:
		for _, c := range columnsOf(v.Type()) {
			fmt.Fprintf(w, "%s:\t%s\n", c.name, r.formatValue(v.FieldByIndex(c.index)))
		}
	case reflect.Map:
		for _, key := range sortedKeys(v) {
			fmt.Fprintf(w, "%s:\t%s\n", key, r.formatValue(mapValue(v, key)))
		}
	default:
		fmt.Fprintf(w, "%v\n", data)
	}
	return nil
}

// writeRows writes one header line and one line per element. Struct
// elements use their fields as columns; map elements use the sorted union
// of their keys.
func (r *Renderer) writeRows(w io.Writer, v reflect.Value) {
	if v.Len() == 0 {
		fmt.Fprintln(w, "(no results)")
		return
	}

	var (
		headers []string
		cell    func(row reflect.Value, col int) reflect.Value
	)
	switch first := indirect(v.Index(0)); first.Kind() {
	case reflect.Struct:
		cols := columnsOf(first.Type())
		for _, c := range cols {
			headers = append(headers, c.name)
		}
		cell = func(row reflect.Value, col int) reflect.Value {
			return row.FieldByIndex(cols[col].index)
		}
	case reflect.Map:
		seen := map[string]bool{}
		for i := range v.Len() {
			if row := indirect(v.Index(i)); row.IsValid() {
				for _, k := range sortedKeys(row) {
					if !seen[k] {
						seen[k] = true
						headers = append(headers, k)
					}
				}
			}
		}
		slices.Sort(headers)
		cell = func(row reflect.Value, col int) reflect.Value {
			return mapValue(row, headers[col])
		}
	default:
		headers = []string{"value"}
		cell = func(row reflect.Value, _ int) reflect.Value { return row }
	}

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for i := range v.Len() {
		row := indirect(v.Index(i))
		values := make([]string, len(headers))
		if row.IsValid() {
			for col := range headers {
				values[col] = r.formatValue(cell(row, col))
			}
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
}

func (r *Renderer) formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() || !v.CanInterface() {
		return ""
	}
	switch val := v.Interface().(type) {
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.Format(time.RFC3339)
	case time.Duration:
		return val.String()
	case []int:
		parts := make([]string, len(val))
		for i, n := range val {
			parts[i] = fmt.Sprint(n)
		}
		return strings.Join(parts, ",")
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

func isTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd())
}
