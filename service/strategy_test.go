package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/hearth/config"
	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/policy"
	"github.com/pithecene-io/hearth/types"
)

func idleWorker(name string, spec ServiceSpec) *Worker {
	conn, _ := newFakeConn(name, 1)
	spec.Name = name
	return newWorker(conn, spec, 0, time.Millisecond, make(chan struct{}, 1), log.NewNop())
}

func TestPlatformStrategy_RoutesByTable(t *testing.T) {
	routes := config.NewRouteTable(map[uint32][]string{
		1: {"listen_string"},
		2: {"display_text"},
	}, nil)
	first := idleWorker("first", ServiceSpec{Route: 1, Essential: true})
	second := idleWorker("second", ServiceSpec{Route: 2})
	unrouted := idleWorker("unrouted", ServiceSpec{Route: 9})

	typeA := types.NewStringEvent(1, types.EventTypeListenString, "a")
	typeB := types.NewStringEvent(1, types.EventTypeDisplayText, "b")
	PlatformStrategy{Routes: routes}.DistributeOutbound(
		[]types.Event{typeA, typeB, typeA}, []*Worker{first, second, unrouted})

	assert.Equal(t, []types.Event{typeA, typeA}, first.Outbound())
	assert.Equal(t, []types.Event{typeB}, second.Outbound())
	assert.Empty(t, unrouted.Outbound())
}

func TestPlatformStrategy_NeverRedistributesReplies(t *testing.T) {
	routes := config.NewRouteTable(map[uint32][]string{
		1: {"reset_acknowledged", "permission_denied", "password_required", "notification"},
	}, nil)
	w := idleWorker("everything", ServiceSpec{Route: 1})

	note := types.NewStringEvent(types.NoGroup, types.EventTypeNotification, "hi")
	PlatformStrategy{Routes: routes}.DistributeOutbound([]types.Event{
		types.NewEvent(3, types.EventTypeResetAcknowledged, nil),
		types.NewTypeReply(3, types.EventTypePermissionDenied, types.EventTypeListenString),
		types.NewTypeReply(3, types.EventTypePasswordRequired, types.EventTypeLaunchApp),
		note,
	}, []*Worker{w})

	assert.Equal(t, []types.Event{note}, w.Outbound())
}

func TestPlatformStrategy_CollectPassesThrough(t *testing.T) {
	w := idleWorker("svc", ServiceSpec{})
	events := []types.Event{types.NewEvent(0, types.EventTypeSpeakDone, nil)}
	assert.Equal(t, events, PlatformStrategy{}.CollectInbound(w, events))
}

func TestUserStrategy_FiltersPerMember(t *testing.T) {
	listener := idleWorker("listener", ServiceSpec{Filter: policy.NewFilter(policy.Config{
		Role:        types.RoleService,
		Permissions: map[types.Category]types.Bitmask{types.CategoryListen: types.PermListenListen},
	})})
	mute := idleWorker("mute", ServiceSpec{Filter: policy.NewFilter(policy.Config{Role: types.RoleService})})
	unfiltered := idleWorker("unfiltered", ServiceSpec{})

	listen := types.NewStringEvent(2, types.EventTypeListenString, "weather")
	note := types.NewStringEvent(types.NoGroup, types.EventTypeNotification, "ping")
	denied := types.NewTypeReply(2, types.EventTypePermissionDenied, types.EventTypeListenString)

	UserStrategy{}.DistributeOutbound([]types.Event{listen, note, denied}, []*Worker{listener, mute, unfiltered})

	assert.Equal(t, []types.Event{listen, note}, listener.Outbound())
	assert.Equal(t, []types.Event{note}, mute.Outbound())
	assert.Empty(t, unfiltered.Outbound())

	// Inbound: a service may not originate app-only types and needs the
	// capability for gated ones.
	in := []types.Event{
		types.NewStringEvent(0, types.EventTypeListenString, "heard"),
		types.NewStringEvent(0, types.EventTypeSpeakText, "say"),
		types.NewStringEvent(0, types.EventTypeLaunchApp, "/pkg/x"),
	}
	got := UserStrategy{}.CollectInbound(listener, in)
	require.Len(t, got, 1)
	assert.Equal(t, types.EventTypeListenString, got[0].Type)
	assert.Nil(t, UserStrategy{}.CollectInbound(unfiltered, in))
}

func TestStrategies_WithholdControlEvents(t *testing.T) {
	routes := config.NewRouteTable(map[uint32][]string{
		1: {"launch_request", "stop_request", "password_verified", "notification"},
	}, nil)
	platform := idleWorker("platform", ServiceSpec{Route: 1})
	user := idleWorker("user", ServiceSpec{Filter: policy.NewFilter(policy.Config{Role: types.RoleService})})

	note := types.NewStringEvent(types.NoGroup, types.EventTypeNotification, "hi")
	events := []types.Event{
		types.NewStringEvent(types.NoGroup, types.EventTypeLaunchRequest, "/pkg/radio\x00play\x00my secret"),
		types.NewEvent(types.NoGroup, types.EventTypeStopRequest, nil),
		types.NewEvent(types.NoGroup, types.EventTypePasswordVerified, nil),
		note,
	}
	PlatformStrategy{Routes: routes}.DistributeOutbound(events, []*Worker{platform})
	UserStrategy{}.DistributeOutbound(events, []*Worker{user})

	assert.Equal(t, []types.Event{note}, platform.Outbound())
	assert.Equal(t, []types.Event{note}, user.Outbound())
}
