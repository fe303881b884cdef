package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/hearth/config"
	"github.com/pithecene-io/hearth/types"
)

func TestResolveSpecs(t *testing.T) {
	uid, gid := uint32(1000), uint32(1001)
	idx := config.NewIndex(
		&config.Package{
			Path:            "/pkg/weather",
			Name:            "weather",
			Type:            config.PackageService,
			ServiceBinary:   "/pkg/weather/weatherd",
			ProtocolVersion: 2,
			Permissions:     map[types.Category]types.Bitmask{types.CategorySpeak: types.PermSpeakSpeak},
			UID:             &uid,
			GID:             &gid,
		},
		&config.Package{
			Path:            "/pkg/future",
			Name:            "future",
			Binary:          "/pkg/future/run",
			ProtocolVersion: types.MaxProtocolVersion + 1,
		},
	)
	protected := map[types.EventType]bool{types.EventTypeSystemShutdown: true}

	var warnings []string
	warn := func(msg string, fields map[string]any) { warnings = append(warnings, fields["service"].(string)) }

	specs := ResolveSpecs([]config.ServiceConfig{
		{Name: "weather", Package: "/pkg/weather/"},
		{Name: "timer", Binary: "/opt/timer", Args: []string{"-q"}},
		{Name: "missing", Package: "/pkg/missing"},
		{Name: "future", Package: "/pkg/future"},
	}, idx, protected, true, warn)

	require.Len(t, specs, 2)
	assert.Equal(t, []string{"missing", "future"}, warnings)

	weather := specs[0]
	assert.Equal(t, "/pkg/weather/weatherd", weather.Binary)
	assert.Equal(t, "/pkg/weather", weather.Dir)
	require.NotNil(t, weather.Credential)
	assert.Equal(t, uint32(1000), weather.Credential.UID)
	assert.Equal(t, uint32(1001), weather.Credential.GID)
	require.NotNil(t, weather.Filter)
	assert.Equal(t, types.RoleService, weather.Filter.Role())
	assert.True(t, weather.Filter.HasCapability(types.CategorySpeak, types.PermSpeakSpeak))

	timer := specs[1]
	assert.Equal(t, []string{"-q"}, timer.Args)
	assert.Nil(t, timer.Credential)
	require.NotNil(t, timer.Filter)
	assert.False(t, timer.Filter.HasCapability(types.CategorySpeak, types.PermSpeakSpeak))
}

func TestResolveSpecs_PlatformHasNoFilter(t *testing.T) {
	specs := ResolveSpecs([]config.ServiceConfig{
		{Name: "audio", Binary: "/opt/audio", Route: 1, Essential: true},
	}, nil, nil, false, nil)
	require.Len(t, specs, 1)
	assert.Nil(t, specs[0].Filter)
	assert.Equal(t, uint32(1), specs[0].Route)
	assert.True(t, specs[0].Essential)
}

func TestServiceSpec_SameLaunch(t *testing.T) {
	base := ServiceSpec{Name: "a", Binary: "/bin/a", Args: []string{"x"}, Route: 1}
	assert.True(t, base.sameLaunch(ServiceSpec{Name: "a", Binary: "/bin/a", Args: []string{"x"}, Route: 1}))
	assert.False(t, base.sameLaunch(ServiceSpec{Name: "a", Binary: "/bin/a", Route: 1}))
	assert.False(t, base.sameLaunch(ServiceSpec{Name: "a", Binary: "/bin/a", Args: []string{"x"}, Route: 2}))
}
