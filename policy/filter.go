package policy

import (
	"sync/atomic"

	"github.com/pithecene-io/hearth/types"
)

// Config is the per-launch configuration of a Filter.
type Config struct {
	// Role is the role of the filtered connection: types.RoleApp for the
	// foreground application, types.RoleService for services.
	Role types.Role
	// Permissions holds one capability bitmask per category. A missing
	// category means no capability in it.
	Permissions map[types.Category]types.Bitmask
	// MaxVersion is the newest protocol version the connection speaks.
	// Zero is treated as version 1.
	MaxVersion uint32
	// Protected marks event types that additionally require password
	// verification. The map is shared and must not be mutated.
	Protected map[types.EventType]bool
	// Replies enables PermissionDenied/PasswordRequired synthesis for
	// inbound drops. Ignored for service roles.
	Replies bool
	// CheckGroup enables the correlation check against the filter's group.
	CheckGroup bool
	// PasswordVerified is the initial verification state.
	PasswordVerified bool
}

// Filter applies the permission checks for one connection. Configuration is
// written at construction or by Reconfigure between launches and is read
// without locking while filtering; the group and password flags are atomic
// and may change at any time.
type Filter struct {
	cfg      Config
	group    atomic.Uint32
	verified atomic.Bool
	stats    *statsRecorder
}

// NewFilter creates a filter.
func NewFilter(cfg Config) *Filter {
	f := &Filter{stats: newStatsRecorder()}
	f.Reconfigure(cfg)
	return f
}

// Reconfigure replaces the filter's configuration for a new launch. It must
// not run concurrently with FilterInbound or FilterOutbound. Counters are
// kept.
func (f *Filter) Reconfigure(cfg Config) {
	if cfg.MaxVersion == 0 {
		cfg.MaxVersion = 1
	}
	perms := make(map[types.Category]types.Bitmask, len(cfg.Permissions))
	for c, bits := range cfg.Permissions {
		perms[c] = bits
	}
	cfg.Permissions = perms
	f.cfg = cfg
	f.verified.Store(cfg.PasswordVerified)
}

// Role returns the configured role.
func (f *Filter) Role() types.Role { return f.cfg.Role }

// SetGroup sets the session group id used by the correlation check.
func (f *Filter) SetGroup(group uint32) { f.group.Store(group) }

// Group returns the current session group id.
func (f *Filter) Group() uint32 { return f.group.Load() }

// SetPasswordVerified updates the password gate.
func (f *Filter) SetPasswordVerified(verified bool) { f.verified.Store(verified) }

// PasswordVerified reports the password gate state.
func (f *Filter) PasswordVerified() bool { return f.verified.Load() }

// HasCapability reports whether the connection holds every bit in mask
// within category c.
func (f *Filter) HasCapability(c types.Category, mask types.Bitmask) bool {
	return f.cfg.Permissions[c]&mask == mask
}

// Check runs the checks for a single event in order and reports the first
// failing reason, or DropNone.
func (f *Filter) Check(ev types.Event, dir Direction) DropReason {
	spec, known := types.Lookup(ev.Type)

	if f.cfg.CheckGroup && !(known && spec.Broadcast) && ev.GroupID != f.group.Load() {
		return DropCorrelation
	}
	if !known || spec.Version > f.cfg.MaxVersion {
		return DropVersion
	}

	if dir == Inbound {
		if spec.Senders&f.cfg.Role == 0 {
			return DropRole
		}
	} else if ev.Type.IsControl() || (f.cfg.Role == types.RoleService && ev.Type.IsReplyOnly()) {
		return DropRole
	}

	if spec.Permission != 0 && !f.HasCapability(spec.Category, spec.Permission) {
		return DropCapability
	}
	if f.cfg.Protected[ev.Type] && !f.verified.Load() {
		return DropPassword
	}
	return DropNone
}

// FilterInbound filters events sent by the connection's process. It returns
// the events that passed, in order, and any replies to deliver to the
// process at the front of its next outbound batch.
func (f *Filter) FilterInbound(events []types.Event) (passed, replies []types.Event) {
	return f.filter(events, Inbound)
}

// FilterOutbound filters events about to be delivered to the connection's
// process. It never synthesizes replies.
func (f *Filter) FilterOutbound(events []types.Event) []types.Event {
	passed, _ := f.filter(events, Outbound)
	return passed
}

func (f *Filter) filter(events []types.Event, dir Direction) (passed, replies []types.Event) {
	if len(events) == 0 {
		return nil, nil
	}
	reply := dir == Inbound && f.cfg.Replies && f.cfg.Role != types.RoleService

	passed = make([]types.Event, 0, len(events))
	var drops []drop
	for _, ev := range events {
		reason := f.Check(ev, dir)
		if reason == DropNone {
			passed = append(passed, ev)
			continue
		}
		drops = append(drops, drop{reason: reason, typ: ev.Type})
		if !reply {
			continue
		}
		switch reason {
		case DropRole, DropCapability:
			replies = append(replies, types.NewTypeReply(f.group.Load(), types.EventTypePermissionDenied, ev.Type))
		case DropPassword:
			replies = append(replies, types.NewTypeReply(f.group.Load(), types.EventTypePasswordRequired, ev.Type))
		}
	}
	f.stats.record(int64(len(events)), int64(len(passed)), drops, int64(len(replies)))
	return passed, replies
}

// Stats returns an atomic snapshot of the filter counters.
func (f *Filter) Stats() Stats {
	return f.stats.snapshot()
}
