// Package metrics provides supervisor metrics collection.
//
// The Collector accumulates counters for the lifetime of one supervisor
// session. It is a leaf package with no internal dependencies. Filter
// counters are absorbed from policy.Stats snapshots rather than recorded
// live, so the filters stay the single source of truth.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Foreground lifecycle
	LaunchSuccess   int64
	LaunchFailure   int64
	ForegroundExits int64

	// Services
	ServiceExits    map[string]int64
	EssentialLosses int64
	PoolSize        map[string]int64

	// Traffic, keyed by source ("platform", "user", "foreground")
	EventsReceived map[string]int64
	EventsSent     map[string]int64

	// Filtering (absorbed from policy.Stats)
	EventsFiltered   int64
	FilteredByReason map[string]int64
	FilteredByType   map[string]int64
	Replies          int64

	// Dimensions (informational, set at construction)
	SessionID string
}

// Collector accumulates metrics during a supervisor session.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	launchSuccess   int64
	launchFailure   int64
	foregroundExits int64

	serviceExits    map[string]int64
	essentialLosses int64
	poolSize        map[string]int64

	eventsReceived map[string]int64
	eventsSent     map[string]int64

	eventsFiltered   int64
	filteredByReason map[string]int64
	filteredByType   map[string]int64
	replies          int64

	sessionID string
}

// NewCollector creates a Collector labelled with the supervisor session.
func NewCollector(sessionID string) *Collector {
	return &Collector{
		serviceExits:     make(map[string]int64),
		poolSize:         make(map[string]int64),
		eventsReceived:   make(map[string]int64),
		eventsSent:       make(map[string]int64),
		filteredByReason: make(map[string]int64),
		filteredByType:   make(map[string]int64),
		sessionID:        sessionID,
	}
}

// --- Foreground lifecycle ---

// IncLaunchSuccess records a foreground launch that spawned a process.
func (c *Collector) IncLaunchSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.launchSuccess++
	c.mu.Unlock()
}

// IncLaunchFailure records an abandoned foreground launch.
func (c *Collector) IncLaunchFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.launchFailure++
	c.mu.Unlock()
}

// IncForegroundExit records a foreground process exit.
func (c *Collector) IncForegroundExit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.foregroundExits++
	c.mu.Unlock()
}

// --- Services ---

// IncServiceExit records a pooled service exit. Essential exits are also
// counted as losses.
func (c *Collector) IncServiceExit(pool string, essential bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.serviceExits[pool]++
	if essential {
		c.essentialLosses++
	}
	c.mu.Unlock()
}

// SetPoolSize records the current member count of a pool.
func (c *Collector) SetPoolSize(pool string, size int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.poolSize[pool] = int64(size)
	c.mu.Unlock()
}

// --- Traffic ---

// AddEventsReceived records n events read from children of source.
func (c *Collector) AddEventsReceived(source string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.mu.Lock()
	c.eventsReceived[source] += int64(n)
	c.mu.Unlock()
}

// AddEventsSent records n events handed to children of source.
func (c *Collector) AddEventsSent(source string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.mu.Lock()
	c.eventsSent[source] += int64(n)
	c.mu.Unlock()
}

// --- Filtering (absorbed from policy.Stats) ---

// AbsorbFilterStats replaces the filter counters with a fresh aggregate.
// Map keys are string-typed reasons and event types to keep this package
// free of dependencies on policy and types.
func (c *Collector) AbsorbFilterStats(dropped, replies int64, byReason, byType map[string]int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsFiltered = dropped
	c.replies = replies
	c.filteredByReason = copyMap(byReason)
	c.filteredByType = copyMap(byType)
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		LaunchSuccess:   c.launchSuccess,
		LaunchFailure:   c.launchFailure,
		ForegroundExits: c.foregroundExits,

		ServiceExits:    copyMap(c.serviceExits),
		EssentialLosses: c.essentialLosses,
		PoolSize:        copyMap(c.poolSize),

		EventsReceived: copyMap(c.eventsReceived),
		EventsSent:     copyMap(c.eventsSent),

		EventsFiltered:   c.eventsFiltered,
		FilteredByReason: copyMap(c.filteredByReason),
		FilteredByType:   copyMap(c.filteredByType),
		Replies:          c.replies,

		SessionID: c.sessionID,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
