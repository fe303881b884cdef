package service

import (
	"github.com/pithecene-io/hearth/config"
	"github.com/pithecene-io/hearth/types"
)

// Strategy holds the pool-specific routing decisions.
type Strategy interface {
	// CollectInbound returns the events from one member that enter the
	// pool-level inbound queue.
	CollectInbound(w *Worker, events []types.Event) []types.Event
	// DistributeOutbound pushes pool-level outbound events to members.
	DistributeOutbound(events []types.Event, workers []*Worker)
}

// PlatformStrategy routes outbound events by route table. Reply-only types
// exist to reach the foreground process and are never redistributed to
// platform services.
type PlatformStrategy struct {
	Routes config.RouteTable
}

// CollectInbound implements Strategy. Platform services are trusted; their
// events pass unchanged.
func (PlatformStrategy) CollectInbound(_ *Worker, events []types.Event) []types.Event {
	return events
}

// DistributeOutbound implements Strategy.
func (s PlatformStrategy) DistributeOutbound(events []types.Event, workers []*Worker) {
	for _, w := range workers {
		route := w.Spec().Route
		var batch []types.Event
		for _, ev := range events {
			if ev.Type.IsReplyOnly() || ev.Type.IsControl() || !s.Routes.Allows(route, ev.Type) {
				continue
			}
			batch = append(batch, ev)
		}
		w.Push(batch...)
	}
}

// UserStrategy filters both directions through each member's permission
// filter. Members without a filter exchange nothing.
type UserStrategy struct{}

// CollectInbound implements Strategy.
func (UserStrategy) CollectInbound(w *Worker, events []types.Event) []types.Event {
	f := w.Spec().Filter
	if f == nil {
		return nil
	}
	passed, _ := f.FilterInbound(events)
	return passed
}

// DistributeOutbound implements Strategy.
func (UserStrategy) DistributeOutbound(events []types.Event, workers []*Worker) {
	for _, w := range workers {
		if f := w.Spec().Filter; f != nil {
			w.Push(f.FilterOutbound(events)...)
		}
	}
}
