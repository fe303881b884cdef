// Package policy implements the per-connection permission filter: session
// correlation, protocol version, capability and role checks, and the
// password gate, with optional synthesis of denial replies.
package policy

import (
	"fmt"
	"sync"

	"github.com/pithecene-io/hearth/types"
)

// Direction is the flow of an event relative to the filtered connection.
type Direction int

const (
	// Inbound events were sent by the connection's process.
	Inbound Direction = iota
	// Outbound events are about to be delivered to the connection's process.
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// DropReason explains why an event was filtered out.
type DropReason int

// Drop reasons in check order.
const (
	DropNone DropReason = iota
	DropCorrelation
	DropVersion
	DropRole
	DropCapability
	DropPassword
)

var dropReasonNames = map[DropReason]string{
	DropNone:        "none",
	DropCorrelation: "correlation",
	DropVersion:     "version",
	DropRole:        "role",
	DropCapability:  "capability",
	DropPassword:    "password",
}

func (r DropReason) String() string {
	if name, ok := dropReasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("drop_reason(%d)", int(r))
}

// DropReasons returns every reason except DropNone, in check order.
func DropReasons() []DropReason {
	return []DropReason{DropCorrelation, DropVersion, DropRole, DropCapability, DropPassword}
}

// Stats represents filter observability counters.
type Stats struct {
	// TotalEvents is the number of events inspected.
	TotalEvents int64
	// EventsPassed is the number of events let through.
	EventsPassed int64
	// EventsDropped is the number of events filtered out.
	EventsDropped int64
	// DroppedByReason maps drop reasons to counts.
	DroppedByReason map[DropReason]int64
	// DroppedByType maps event types to drop counts.
	DroppedByType map[types.EventType]int64
	// RepliesSynthesized counts PermissionDenied and PasswordRequired
	// replies generated.
	RepliesSynthesized int64
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.TotalEvents += other.TotalEvents
	s.EventsPassed += other.EventsPassed
	s.EventsDropped += other.EventsDropped
	s.RepliesSynthesized += other.RepliesSynthesized
	if s.DroppedByReason == nil {
		s.DroppedByReason = make(map[DropReason]int64)
	}
	if s.DroppedByType == nil {
		s.DroppedByType = make(map[types.EventType]int64)
	}
	for k, v := range other.DroppedByReason {
		s.DroppedByReason[k] += v
	}
	for k, v := range other.DroppedByType {
		s.DroppedByType[k] += v
	}
}

// statsRecorder is an internal helper for thread-safe stats management.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		stats: Stats{
			DroppedByReason: make(map[DropReason]int64),
			DroppedByType:   make(map[types.EventType]int64),
		},
	}
}

// record folds one batch into the counters under a single lock.
func (r *statsRecorder) record(total, passed int64, drops []drop, replies int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.TotalEvents += total
	r.stats.EventsPassed += passed
	r.stats.RepliesSynthesized += replies
	for _, d := range drops {
		r.stats.EventsDropped++
		r.stats.DroppedByReason[d.reason]++
		r.stats.DroppedByType[d.typ]++
	}
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.DroppedByReason = make(map[DropReason]int64, len(r.stats.DroppedByReason))
	for k, v := range r.stats.DroppedByReason {
		s.DroppedByReason[k] = v
	}
	s.DroppedByType = make(map[types.EventType]int64, len(r.stats.DroppedByType))
	for k, v := range r.stats.DroppedByType {
		s.DroppedByType[k] = v
	}
	return s
}

type drop struct {
	reason DropReason
	typ    types.EventType
}
