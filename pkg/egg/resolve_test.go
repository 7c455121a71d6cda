package egg

import (
	"strconv"
	"testing"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	byID   map[string]*types.Egg
	byName map[string]*types.Egg
}

func newFakeLookup(eggs ...*types.Egg) *fakeLookup {
	l := &fakeLookup{byID: map[string]*types.Egg{}, byName: map[string]*types.Egg{}}
	for _, e := range eggs {
		l.byID[e.ID] = e
		l.byName[e.Name] = e
	}
	return l
}

func (l *fakeLookup) GetEgg(id string) (*types.Egg, error) {
	if e, ok := l.byID[id]; ok {
		return e, nil
	}
	return nil, ferrors.New(ferrors.NotFound, "not_found", "egg not found")
}

func (l *fakeLookup) GetEggByName(name string) (*types.Egg, error) {
	if e, ok := l.byName[name]; ok {
		return e, nil
	}
	return nil, ferrors.New(ferrors.NotFound, "not_found", "egg not found")
}

func readyMachine() *types.Machine {
	return &types.Machine{
		SystemID:     "m-1",
		Architecture: types.ArchAMD64,
		MemoryMB:     16384,
		StorageGB:    500,
	}
}

func TestResolve_TopologicalOrderHonorsInsertionOnTies(t *testing.T) {
	base := &types.Egg{ID: "base", Name: "base", EggType: types.EggTypeCloudInit, IsActive: true}
	web := &types.Egg{ID: "web", Name: "web", EggType: types.EggTypeSnap, Dependencies: []string{"base"}, IsActive: true}
	db := &types.Egg{ID: "db", Name: "db", EggType: types.EggTypeSnap, Dependencies: []string{"base"}, IsActive: true}

	lookup := newFakeLookup(base, web, db)
	e := NewEngine(lookup)

	order, err := e.Resolve([]string{"web", "db"}, readyMachine())
	require.NoError(t, err)
	require.Len(t, order, 3)

	// base must come before both web and db (its dependents); web/db keep
	// their declared relative order since neither depends on the other.
	ids := []string{order[0].ID, order[1].ID, order[2].ID}
	assert.Equal(t, "base", ids[0])
	assert.Equal(t, []string{"web", "db"}, ids[1:])
}

func TestResolve_CycleDetected(t *testing.T) {
	a := &types.Egg{ID: "a", Name: "a", EggType: types.EggTypeCloudInit, Dependencies: []string{"b"}, IsActive: true}
	b := &types.Egg{ID: "b", Name: "b", EggType: types.EggTypeCloudInit, Dependencies: []string{"a"}, IsActive: true}

	lookup := newFakeLookup(a, b)
	e := NewEngine(lookup)

	_, err := e.Resolve([]string{"a"}, readyMachine())
	require.Error(t, err)
	assert.Equal(t, ferrors.Invalid, ferrors.CodeOf(err))
}

func TestResolve_ArchMismatchRejectsBeforeDeploy(t *testing.T) {
	egArm := &types.Egg{ID: "arm-only", Name: "arm-only", EggType: types.EggTypeCloudInit, RequiredArchitecture: types.ArchARM64, IsActive: true}
	lookup := newFakeLookup(egArm)
	e := NewEngine(lookup)

	machine := readyMachine()
	machine.Architecture = types.ArchARM64 // positive control
	_, err := e.Resolve([]string{"arm-only"}, machine)
	require.NoError(t, err)

	machine.Architecture = types.ArchAMD64
	_, err = e.Resolve([]string{"arm-only"}, machine)
	require.Error(t, err)
}

func TestResolve_InsufficientResources(t *testing.T) {
	hungry := &types.Egg{ID: "hungry", Name: "hungry", EggType: types.EggTypeCloudInit, MinRAMMB: 1 << 20, IsActive: true}
	lookup := newFakeLookup(hungry)
	e := NewEngine(lookup)

	_, err := e.Resolve([]string{"hungry"}, readyMachine())
	require.Error(t, err)
}

func TestResolve_DepthLimit(t *testing.T) {
	lookup := newFakeLookup()
	prev := ""
	for i := 0; i < 5000; i++ {
		id := "e" + strconv.Itoa(i)
		eg := &types.Egg{ID: id, Name: id, EggType: types.EggTypeCloudInit, IsActive: true}
		if prev != "" {
			eg.Dependencies = []string{prev}
		}
		lookup.byID[eg.ID] = eg
		lookup.byName[eg.Name] = eg
		prev = id
	}

	e := NewEngine(lookup)
	_, err := e.Resolve([]string{prev}, readyMachine())
	require.Error(t, err)
	assert.Equal(t, ferrors.Invalid, ferrors.CodeOf(err))
}

func TestResolveGroup_ExpandsInDeclaredOrder(t *testing.T) {
	a := &types.Egg{ID: "a", Name: "a", EggType: types.EggTypeCloudInit, IsActive: true}
	b := &types.Egg{ID: "b", Name: "b", EggType: types.EggTypeCloudInit, IsActive: true}
	lookup := newFakeLookup(a, b)
	e := NewEngine(lookup)

	group := &types.EggGroup{
		ID:   "g-1",
		Name: "group",
		Members: []types.EggGroupMember{
			{EggID: "b", Order: 2},
			{EggID: "a", Order: 1},
		},
	}

	order, err := e.ResolveGroup(group, readyMachine())
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "a", order[0].ID)
	assert.Equal(t, "b", order[1].ID)
}
