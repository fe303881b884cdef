package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("sess-1")

	c.IncLaunchSuccess()
	c.IncLaunchSuccess()
	c.IncLaunchFailure()
	c.IncForegroundExit()
	c.IncServiceExit("platform", true)
	c.IncServiceExit("user", false)
	c.IncServiceExit("user", false)
	c.SetPoolSize("platform", 3)
	c.SetPoolSize("platform", 2)
	c.AddEventsReceived("platform", 5)
	c.AddEventsReceived("foreground", 1)
	c.AddEventsSent("platform", 4)
	c.AddEventsSent("user", 0)

	s := c.Snapshot()

	if s.LaunchSuccess != 2 {
		t.Errorf("LaunchSuccess = %d, want 2", s.LaunchSuccess)
	}
	if s.LaunchFailure != 1 {
		t.Errorf("LaunchFailure = %d, want 1", s.LaunchFailure)
	}
	if s.ForegroundExits != 1 {
		t.Errorf("ForegroundExits = %d, want 1", s.ForegroundExits)
	}
	if s.ServiceExits["platform"] != 1 || s.ServiceExits["user"] != 2 {
		t.Errorf("ServiceExits = %v", s.ServiceExits)
	}
	if s.EssentialLosses != 1 {
		t.Errorf("EssentialLosses = %d, want 1", s.EssentialLosses)
	}
	if s.PoolSize["platform"] != 2 {
		t.Errorf("PoolSize[platform] = %d, want 2", s.PoolSize["platform"])
	}
	if s.EventsReceived["platform"] != 5 || s.EventsReceived["foreground"] != 1 {
		t.Errorf("EventsReceived = %v", s.EventsReceived)
	}
	if _, ok := s.EventsSent["user"]; ok {
		t.Error("zero adds should not create entries")
	}
	if s.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", s.SessionID)
	}
}

func TestCollector_AbsorbFilterStats(t *testing.T) {
	c := NewCollector("")

	byReason := map[string]int64{"capability": 3, "password": 1}
	byType := map[string]int64{"listen_string": 3, "system_shutdown": 1}
	c.AbsorbFilterStats(4, 4, byReason, byType)

	// Mutate originals; the collector must be isolated.
	byReason["capability"] = 999
	byType["injected"] = 1

	s := c.Snapshot()
	if s.EventsFiltered != 4 || s.Replies != 4 {
		t.Errorf("EventsFiltered/Replies = %d/%d, want 4/4", s.EventsFiltered, s.Replies)
	}
	if s.FilteredByReason["capability"] != 3 {
		t.Errorf("FilteredByReason[capability] = %d, want 3", s.FilteredByReason["capability"])
	}
	if _, ok := s.FilteredByType["injected"]; ok {
		t.Error("FilteredByType should not contain keys added after absorption")
	}

	// Absorption replaces rather than accumulates.
	c.AbsorbFilterStats(1, 0, map[string]int64{"version": 1}, nil)
	s = c.Snapshot()
	if s.EventsFiltered != 1 || len(s.FilteredByReason) != 1 || len(s.FilteredByType) != 0 {
		t.Errorf("after second absorb: %+v", s)
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("")
	c.IncLaunchSuccess()
	c.AddEventsReceived("platform", 1)

	s1 := c.Snapshot()
	c.IncLaunchSuccess()
	c.AddEventsReceived("platform", 1)
	s1.EventsReceived["platform"] = 999

	if s1.LaunchSuccess != 1 {
		t.Errorf("s1.LaunchSuccess = %d, want 1 (snapshot should be frozen)", s1.LaunchSuccess)
	}
	s2 := c.Snapshot()
	if s2.LaunchSuccess != 2 || s2.EventsReceived["platform"] != 2 {
		t.Errorf("s2 = %+v", s2)
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	c.IncLaunchSuccess()
	c.IncLaunchFailure()
	c.IncForegroundExit()
	c.IncServiceExit("platform", true)
	c.SetPoolSize("platform", 1)
	c.AddEventsReceived("platform", 1)
	c.AddEventsSent("platform", 1)
	c.AbsorbFilterStats(1, 1, map[string]int64{"role": 1}, nil)

	s := c.Snapshot()
	if s.LaunchSuccess != 0 || s.ServiceExits != nil {
		t.Errorf("nil collector snapshot = %+v, want zero", s)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncLaunchSuccess()
				c.AddEventsReceived("platform", 1)
				c.IncServiceExit("user", false)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)
	if s.LaunchSuccess != want {
		t.Errorf("LaunchSuccess = %d, want %d", s.LaunchSuccess, want)
	}
	if s.EventsReceived["platform"] != want {
		t.Errorf("EventsReceived[platform] = %d, want %d", s.EventsReceived["platform"], want)
	}
	if s.ServiceExits["user"] != want {
		t.Errorf("ServiceExits[user] = %d, want %d", s.ServiceExits["user"], want)
	}
}
