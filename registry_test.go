package connect_test

import (
	"testing"

	"github.com/goliatone/go-connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryKeepsDeclarationOrder(t *testing.T) {
	reg, err := connect.NewRegistry(connect.DefaultPlatforms()...)
	require.NoError(t, err)

	ids := make([]string, 0)
	for _, d := range reg.List() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"search-analytics", "cms", "site-builder", "social"}, ids)
	assert.Equal(t, ids, reg.IDs())
}

func TestRegistryRejectsDuplicateIDs(t *testing.T) {
	_, err := connect.NewRegistry(
		connect.PlatformDescriptor{ID: "cms", Enabled: true},
		connect.PlatformDescriptor{ID: "cms", Enabled: true},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, connect.ErrDuplicatePlatform)

	_, err = connect.NewRegistry(connect.PlatformDescriptor{ID: "  "})
	assert.ErrorIs(t, err, connect.ErrInvalidConfig)
}

func TestRegistryGetAndEnabled(t *testing.T) {
	reg := connect.MustRegistry(connect.DefaultPlatforms()...)

	d, err := reg.Enabled("cms")
	require.NoError(t, err)
	assert.Equal(t, "WordPress", d.DisplayName)
	assert.True(t, d.HasCapability("posts.write"))

	_, err = reg.Get("unknown")
	assert.ErrorIs(t, err, connect.ErrPlatformNotFound)
	assert.True(t, connect.HasTextCode(err, connect.TextCodePlatformNotFound))

	_, err = reg.Enabled("social")
	assert.ErrorIs(t, err, connect.ErrPlatformDisabled)
}

func TestRegistryReturnsCopies(t *testing.T) {
	reg := connect.MustRegistry(connect.DefaultPlatforms()...)

	d, err := reg.Get("search-analytics")
	require.NoError(t, err)
	d.RequiredCapabilities[0] = "mutated"
	d.Enabled = false

	again, err := reg.Get("search-analytics")
	require.NoError(t, err)
	assert.Equal(t, "search.read", again.RequiredCapabilities[0])
	assert.True(t, again.Enabled)
}

func TestMarkerParam(t *testing.T) {
	assert.Equal(t, "searchAnalyticsConnected", connect.MarkerParam("search-analytics"))
	assert.Equal(t, "cmsConnected", connect.MarkerParam("cms"))
	assert.Equal(t, "siteBuilderConnected", connect.MarkerParam("site-builder"))

	reg := connect.MustRegistry(connect.DefaultPlatforms()...)
	d, ok := reg.ByMarker("siteBuilderConnected")
	require.True(t, ok)
	assert.Equal(t, "site-builder", d.ID)

	_, ok = reg.ByMarker("nopeConnected")
	assert.False(t, ok)
}

func TestWithOverridesTogglesEnabled(t *testing.T) {
	out := connect.WithOverrides(connect.DefaultPlatforms(), map[string]bool{
		"social": true,
		"cms":    false,
	})
	reg := connect.MustRegistry(out...)

	_, err := reg.Enabled("social")
	assert.NoError(t, err)
	_, err = reg.Enabled("cms")
	assert.ErrorIs(t, err, connect.ErrPlatformDisabled)
}
