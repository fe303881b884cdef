package archive

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/hearth/types"
)

// Entry is one archived exit.
type Entry struct {
	Session string `json:"session" yaml:"session"`
	types.ExitRecord
}

// Filter narrows a query. Empty fields match everything.
type Filter struct {
	Session string
	Source  string
	Name    string
	Day     string // YYYY-MM-DD
	// EssentialOnly keeps only essential losses.
	EssentialOnly bool
}

func (f Filter) match(e Entry) bool {
	switch {
	case f.Session != "" && e.Session != f.Session:
		return false
	case f.Source != "" && e.Source != f.Source:
		return false
	case f.Name != "" && e.Name != f.Name:
		return false
	case f.Day != "" && e.At.UTC().Format(time.DateOnly) != f.Day:
		return false
	case f.EssentialOnly && !e.Essential:
		return false
	}
	return true
}

// Query returns the archived exits matching f, oldest first.
func Query(ctx context.Context, ds lode.Dataset, f Filter) ([]Entry, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, wrap("read", DatasetID+"/snapshots", err)
	}

	var out []Entry
	for _, snap := range snapshots {
		if !snapshotMatches(snap, "session", f.Session) ||
			!snapshotMatches(snap, "source", f.Source) ||
			!snapshotMatches(snap, "day", f.Day) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("read", fmt.Sprintf("%s/%v", DatasetID, snap.ID), err)
		}
		// Partition paths are a coarse pre-filter; record fields decide.
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if e, ok := fromRecord(record); ok && f.match(e) {
				out = append(out, e)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b Entry) int { return a.At.Compare(b.At) })
	return out, nil
}

// snapshotMatches reports whether any file of snap lies in the key=value
// partition. An empty value matches every snapshot.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		if slices.Contains(strings.Split(f.Path, "/"), segment) {
			return true
		}
	}
	return false
}

func fromRecord(r map[string]any) (Entry, bool) {
	at, err := time.Parse(time.RFC3339Nano, str(r["at"]))
	if err != nil {
		return Entry{}, false
	}
	essential, _ := r["essential"].(bool)
	return Entry{
		Session: str(r["session"]),
		ExitRecord: types.ExitRecord{
			Source:    str(r["source"]),
			Name:      str(r["name"]),
			Pid:       num(r["pid"]),
			ExitCode:  num(r["exit_code"]),
			Essential: essential,
			At:        at,
		},
	}, true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// num accepts the numeric types a JSON decoder may produce.
func num(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
