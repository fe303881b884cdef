package types

import (
	"fmt"
	"sort"
	"strings"
)

// MaxProtocolVersion is the newest event protocol version this core speaks.
const MaxProtocolVersion uint32 = 2

// Role classifies the sender of an event.
type Role uint8

// Roles. A catalogue entry's Senders is a bit set of these.
const (
	RoleApp Role = 1 << iota
	RoleService
	RoleCore
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleApp:
		return "app"
	case RoleService:
		return "service"
	case RoleCore:
		return "core"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Category groups capability bits. Each package declares one bitmask per
// category.
type Category uint8

// Permission categories.
const (
	CategoryListen Category = iota + 1
	CategorySpeak
	CategoryDisplay
	CategoryApp
	CategorySystem
)

var categoryNames = map[Category]string{
	CategoryListen:  "listen",
	CategorySpeak:   "speak",
	CategoryDisplay: "display",
	CategoryApp:     "app",
	CategorySystem:  "system",
}

// String implements fmt.Stringer.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// ParseCategory resolves a category by its lowercase name.
func ParseCategory(name string) (Category, error) {
	for c, n := range categoryNames {
		if n == strings.ToLower(name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown permission category %q", name)
}

// Bitmask is a set of capability bits within one category.
type Bitmask uint32

// Capability bits, scoped by category.
const (
	PermListenListen Bitmask = 1 << 0

	PermSpeakSpeak Bitmask = 1 << 0

	PermDisplayText Bitmask = 1 << 0

	PermAppLaunch Bitmask = 1 << 0

	PermSystemShutdown Bitmask = 1 << 0
	PermSystemVolume   Bitmask = 1 << 1
)

var permissionNames = map[Category]map[string]Bitmask{
	CategoryListen:  {"listen": PermListenListen},
	CategorySpeak:   {"speak": PermSpeakSpeak},
	CategoryDisplay: {"text": PermDisplayText},
	CategoryApp:     {"launch": PermAppLaunch},
	CategorySystem:  {"shutdown": PermSystemShutdown, "volume": PermSystemVolume},
}

// ParsePermission resolves a capability bit name within category c.
func ParsePermission(c Category, name string) (Bitmask, error) {
	bits, ok := permissionNames[c]
	if !ok {
		return 0, fmt.Errorf("unknown permission category %d", c)
	}
	bit, ok := bits[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown %s permission %q", c, name)
	}
	return bit, nil
}

// EventSpec describes one catalogue entry.
type EventSpec struct {
	Type EventType
	Name string
	// Version is the protocol version that introduced the type.
	Version uint32
	// Category and Permission name the capability needed to send or receive
	// the type. Permission zero means no capability is required.
	Category   Category
	Permission Bitmask
	// Senders is the set of roles allowed to originate the type.
	Senders Role
	// Broadcast types carry no session and skip the correlation check.
	Broadcast bool
}

var catalogue = map[EventType]EventSpec{
	EventTypeResetRequest:      {Name: "reset_request", Version: 1, Senders: RoleApp},
	EventTypeResetAcknowledged: {Name: "reset_acknowledged", Version: 1, Senders: RoleCore},
	EventTypePermissionDenied:  {Name: "permission_denied", Version: 1, Senders: RoleCore},
	EventTypePasswordRequired:  {Name: "password_required", Version: 1, Senders: RoleCore},
	EventTypeServiceReady:      {Name: "service_ready", Version: 1, Senders: RoleService, Broadcast: true},
	EventTypeNotification:      {Name: "notification", Version: 1, Senders: RoleService | RoleCore, Broadcast: true},
	EventTypeListenString: {Name: "listen_string", Version: 1, Senders: RoleService | RoleApp,
		Category: CategoryListen, Permission: PermListenListen},
	EventTypeListenStart: {Name: "listen_start", Version: 1, Senders: RoleApp | RoleService,
		Category: CategoryListen, Permission: PermListenListen},
	EventTypeListenStop: {Name: "listen_stop", Version: 1, Senders: RoleApp | RoleService,
		Category: CategoryListen, Permission: PermListenListen},
	EventTypeSpeakText: {Name: "speak_text", Version: 1, Senders: RoleApp | RoleService,
		Category: CategorySpeak, Permission: PermSpeakSpeak},
	EventTypeSpeakDone: {Name: "speak_done", Version: 1, Senders: RoleService,
		Category: CategorySpeak, Permission: PermSpeakSpeak},
	EventTypeDisplayText: {Name: "display_text", Version: 1, Senders: RoleApp | RoleService,
		Category: CategoryDisplay, Permission: PermDisplayText},
	EventTypeLaunchApp: {Name: "launch_app", Version: 1, Senders: RoleApp,
		Category: CategoryApp, Permission: PermAppLaunch},
	EventTypeLaunchRequest:    {Name: "launch_request", Version: 1, Senders: RoleService},
	EventTypeStopRequest:      {Name: "stop_request", Version: 1, Senders: RoleService},
	EventTypePasswordVerified: {Name: "password_verified", Version: 1, Senders: RoleService},
	EventTypeSystemShutdown: {Name: "system_shutdown", Version: 2, Senders: RoleApp,
		Category: CategorySystem, Permission: PermSystemShutdown},
	EventTypeVolumeSet: {Name: "volume_set", Version: 2, Senders: RoleApp | RoleService,
		Category: CategorySystem, Permission: PermSystemVolume},
}

func init() {
	for t, spec := range catalogue {
		spec.Type = t
		catalogue[t] = spec
	}
}

// Lookup returns the catalogue entry for t.
func Lookup(t EventType) (EventSpec, bool) {
	spec, ok := catalogue[t]
	return spec, ok
}

// ParseEventType resolves a catalogue entry by name.
func ParseEventType(name string) (EventType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, spec := range catalogue {
		if spec.Name == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", name)
}

// Catalogue returns every entry sorted by type.
func Catalogue() []EventSpec {
	specs := make([]EventSpec, 0, len(catalogue))
	for _, spec := range catalogue {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}
