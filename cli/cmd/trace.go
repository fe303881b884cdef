package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/hearth/cli/render"
	"github.com/pithecene-io/hearth/cli/tui"
	"github.com/pithecene-io/hearth/trace"
)

// TraceRow is one line of the table rendering of a trace summary.
type TraceRow struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TraceCommand returns the trace command, which summarizes a trace file
// written by `hearth run --trace`.
func TraceCommand() *cli.Command {
	return &cli.Command{
		Name:      "trace",
		Usage:     "Summarize an event trace",
		ArgsUsage: "FILE",
		Flags:     ReadOnlyFlags(),
		Action:    traceAction,
	}
}

func traceAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: hearth trace FILE", 1)
	}
	summary, err := loadTrace(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewTraceSummary, summary)
	}
	if r.Format() == render.FormatTable {
		if err := r.Render(traceRows(summary)); err != nil {
			return err
		}
		if len(summary.Exits) == 0 {
			return nil
		}
		fmt.Fprintln(c.App.Writer)
		return r.Render(summary.Exits)
	}
	return r.Render(summary)
}

// loadTrace reads and summarizes a trace. A truncated trace, as left by a
// supervisor that was killed, is summarized up to the damage.
func loadTrace(path string) (*trace.Summary, error) {
	records, err := trace.Read(path)
	if err != nil {
		if len(records) == 0 {
			return nil, fmt.Errorf("read trace: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Warning: %v (showing %d records)\n", err, len(records))
	}
	summary := trace.Summarize(records)
	return &summary, nil
}

func traceRows(s *trace.Summary) []TraceRow {
	rows := []TraceRow{
		{Kind: "total", Name: "records", Count: s.Records},
		{Kind: "total", Name: "events", Count: s.Events},
		{Kind: "total", Name: "bytes", Count: int(s.Bytes)},
		{Kind: "total", Name: "essential_losses", Count: s.EssentialLosses()},
	}
	for _, c := range trace.Top(s.BySource, 0) {
		rows = append(rows, TraceRow{Kind: "source", Name: c.Name, Count: c.Count})
	}
	for _, c := range trace.Top(s.ByType, 0) {
		rows = append(rows, TraceRow{Kind: "type", Name: c.Name, Count: c.Count})
	}
	return rows
}
