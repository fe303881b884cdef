package config

import (
	"sort"

	"github.com/pithecene-io/hearth/types"
)

// WarnFunc receives non-fatal configuration problems. It matches the
// signature of the structured logger's Warn method.
type WarnFunc func(message string, fields map[string]any)

func orNop(warn WarnFunc) WarnFunc {
	if warn == nil {
		return func(string, map[string]any) {}
	}
	return warn
}

// RouteTable maps a route id to the event types platform services on that
// route receive. It is built once and read-only afterwards.
type RouteTable map[uint32]map[types.EventType]struct{}

// NewRouteTable resolves event-type names. Unknown names are skipped with a
// warning; a route whose names are all unknown is kept and receives nothing.
func NewRouteTable(raw map[uint32][]string, warn WarnFunc) RouteTable {
	warn = orNop(warn)
	table := make(RouteTable, len(raw))
	for route, names := range raw {
		allowed := make(map[types.EventType]struct{}, len(names))
		for _, name := range names {
			t, err := types.ParseEventType(name)
			if err != nil {
				warn("skipping unknown event type in route", map[string]any{
					"route": route,
					"error": err.Error(),
				})
				continue
			}
			allowed[t] = struct{}{}
		}
		table[route] = allowed
	}
	return table
}

// Allows reports whether route receives events of type t.
func (r RouteTable) Allows(route uint32, t types.EventType) bool {
	_, ok := r[route][t]
	return ok
}

// Types returns the event types on route, sorted.
func (r RouteTable) Types(route uint32) []types.EventType {
	out := make([]types.EventType, 0, len(r[route]))
	for t := range r[route] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ProtectedEvents resolves the password-gated event-type names. Unknown
// names are skipped with a warning.
func ProtectedEvents(names []string, warn WarnFunc) map[types.EventType]bool {
	warn = orNop(warn)
	protected := make(map[types.EventType]bool, len(names))
	for _, name := range names {
		t, err := types.ParseEventType(name)
		if err != nil {
			warn("skipping unknown protected event type", map[string]any{"error": err.Error()})
			continue
		}
		protected[t] = true
	}
	return protected
}
