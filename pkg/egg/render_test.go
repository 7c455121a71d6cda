package egg

import (
	"strings"
	"testing"

	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCloudInit_MergesPackagesAndSnaps(t *testing.T) {
	base := &types.Egg{
		ID: "base", Name: "base", EggType: types.EggTypeCloudInit, IsActive: true,
		Content: "packages:\n  - curl\n",
	}
	web := &types.Egg{
		ID: "web", Name: "web", EggType: types.EggTypeSnap, IsActive: true,
		SnapName: "nginx", Channel: "stable",
	}

	lookup := newFakeLookup(base, web)
	e := NewEngine(lookup)

	rendered, err := e.RenderCloudInit([]*types.Egg{base, web})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rendered, "#cloud-config\n"))
	assert.Contains(t, rendered, "packages:")
	assert.Contains(t, rendered, "curl")
	assert.Contains(t, rendered, "snaps:")
	assert.Contains(t, rendered, "nginx")
	assert.Contains(t, rendered, "stable")
}

func TestRenderCloudInit_Deterministic(t *testing.T) {
	a := &types.Egg{ID: "a", Name: "a", EggType: types.EggTypeCloudInit, Content: "write_files:\n  - path: /a\n"}
	b := &types.Egg{ID: "b", Name: "b", EggType: types.EggTypeCloudInit, Content: "write_files:\n  - path: /b\n"}

	e := NewEngine(newFakeLookup(a, b))

	out1, err := e.RenderCloudInit([]*types.Egg{a, b})
	require.NoError(t, err)
	out2, err := e.RenderCloudInit([]*types.Egg{a, b})
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
}

func TestRenderCloudInit_SequenceConcatenation(t *testing.T) {
	a := &types.Egg{ID: "a", Name: "a", EggType: types.EggTypeCloudInit, Content: "runcmd:\n  - echo a\n"}
	b := &types.Egg{ID: "b", Name: "b", EggType: types.EggTypeCloudInit, Content: "runcmd:\n  - echo b\n"}

	e := NewEngine(newFakeLookup(a, b))
	out, err := e.RenderCloudInit([]*types.Egg{a, b})
	require.NoError(t, err)

	assert.Contains(t, out, "echo a")
	assert.Contains(t, out, "echo b")
}

func TestRenderCloudInit_MappingShallowMergeLaterWins(t *testing.T) {
	a := &types.Egg{ID: "a", Name: "a", EggType: types.EggTypeCloudInit, Content: "apt:\n  proxy: http://old\n  sources_list: default\n"}
	b := &types.Egg{ID: "b", Name: "b", EggType: types.EggTypeCloudInit, Content: "apt:\n  proxy: http://new\n"}

	e := NewEngine(newFakeLookup(a, b))
	out, err := e.RenderCloudInit([]*types.Egg{a, b})
	require.NoError(t, err)

	assert.Contains(t, out, "http://new")
	assert.Contains(t, out, "sources_list")
	assert.NotContains(t, out, "http://old")
}

func TestRenderCloudInit_ScalarOverride(t *testing.T) {
	a := &types.Egg{ID: "a", Name: "a", EggType: types.EggTypeCloudInit, Content: "hostname: first\n"}
	b := &types.Egg{ID: "b", Name: "b", EggType: types.EggTypeCloudInit, Content: "hostname: second\n"}

	e := NewEngine(newFakeLookup(a, b))
	out, err := e.RenderCloudInit([]*types.Egg{a, b})
	require.NoError(t, err)

	assert.Contains(t, out, "second")
	assert.NotContains(t, out, "first")
}

func TestRenderCloudInit_RejectsNonMappingContent(t *testing.T) {
	a := &types.Egg{ID: "a", Name: "a", EggType: types.EggTypeCloudInit, Content: "- just\n- a\n- list\n"}
	e := NewEngine(newFakeLookup(a))

	_, err := e.RenderCloudInit([]*types.Egg{a})
	require.Error(t, err)
}

func TestRenderCloudInit_TooLarge(t *testing.T) {
	a := &types.Egg{ID: "a", Name: "a", EggType: types.EggTypeCloudInit, Content: "hostname: x\n"}
	e := NewEngine(newFakeLookup(a)).WithMaxRenderedSize(8)

	_, err := e.RenderCloudInit([]*types.Egg{a})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate("packages:\n  - curl\n"))
	require.Error(t, Validate("- not\n- a\n- mapping\n"))
	require.Error(t, Validate("not: valid: yaml: ["))
}
