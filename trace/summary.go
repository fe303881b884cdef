package trace

import (
	"sort"
	"time"
)

// Summary aggregates a trace.
type Summary struct {
	Records  int            `json:"records" yaml:"records"`
	Events   int            `json:"events" yaml:"events"`
	Bytes    int64          `json:"bytes" yaml:"bytes"`
	Start    time.Time      `json:"start" yaml:"start"`
	End      time.Time      `json:"end" yaml:"end"`
	BySource map[string]int `json:"by_source" yaml:"by_source"`
	ByType   map[string]int `json:"by_type" yaml:"by_type"`
	Exits    []Exit         `json:"exits" yaml:"exits"`
}

// Exit is one process exit seen in a trace.
type Exit struct {
	At        time.Time `json:"at" yaml:"at"`
	Source    string    `json:"source" yaml:"source"`
	Name      string    `json:"name" yaml:"name"`
	Pid       int       `json:"pid" yaml:"pid"`
	ExitCode  int       `json:"exit_code" yaml:"exit_code"`
	Essential bool      `json:"essential" yaml:"essential"`
}

// Duration is the span between the first and last record.
func (s Summary) Duration() time.Duration { return s.End.Sub(s.Start) }

// EssentialLosses counts exits of essential services.
func (s Summary) EssentialLosses() int {
	n := 0
	for _, e := range s.Exits {
		if e.Essential {
			n++
		}
	}
	return n
}

// Count is a name with its tally, as returned by Top.
type Count struct {
	Name  string
	Count int
}

// Top returns the n largest entries of counts, largest first, ties by name.
// n <= 0 returns all of them.
func Top(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for name, c := range counts {
		out = append(out, Count{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Summarize tallies records per source and event type and collects exits in
// trace order.
func Summarize(records []Record) Summary {
	s := Summary{
		BySource: make(map[string]int),
		ByType:   make(map[string]int),
	}
	for _, rec := range records {
		s.Records++
		at := rec.Time()
		if s.Start.IsZero() || at.Before(s.Start) {
			s.Start = at
		}
		if at.After(s.End) {
			s.End = at
		}
		switch rec.Kind {
		case KindEvent:
			s.Events++
			s.Bytes += int64(rec.Size)
			s.BySource[rec.Source]++
			s.ByType[rec.EventType().String()]++
		case KindExit:
			s.Exits = append(s.Exits, Exit{
				At:        at,
				Source:    rec.Source,
				Name:      rec.Name,
				Pid:       rec.Pid,
				ExitCode:  rec.ExitCode,
				Essential: rec.Essential,
			})
		}
	}
	return s
}
