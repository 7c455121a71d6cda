package egg

import (
	"github.com/cuemby/fleetboot/pkg/types"
)

// Resolve expands an ordered list of egg references (IDs or names) for
// target machine into a deterministic deploy order: groups are expanded
// first (by the caller, via ResolveGroup), dependencies are pulled in
// transitively, and the whole set is topologically sorted with ties
// broken by declared insertion order (Kahn's algorithm).
func (e *Engine) Resolve(eggRefs []string, machine *types.Machine) ([]*types.Egg, error) {
	included := map[string]*types.Egg{}
	order := []string{} // first-seen order, used for tie-breaking

	var collect func(ref string, depth int) error
	collect = func(ref string, depth int) error {
		if depth >= maxDependencyDepth {
			return depthLimit()
		}
		eg, err := e.lookup(ref)
		if err != nil {
			return err
		}
		if _, ok := included[eg.ID]; ok {
			return nil
		}
		included[eg.ID] = eg
		order = append(order, eg.ID)
		for _, dep := range eg.Dependencies {
			if err := collect(dep, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	for _, ref := range eggRefs {
		if err := collect(ref, 0); err != nil {
			return nil, err
		}
	}

	sorted, err := topoSort(included, order)
	if err != nil {
		return nil, err
	}

	for _, eg := range sorted {
		if err := checkConstraints(eg, machine); err != nil {
			return nil, err
		}
	}

	return sorted, nil
}

// ResolveGroup expands an EggGroup's members in declared order and
// resolves the result.
func (e *Engine) ResolveGroup(group *types.EggGroup, machine *types.Machine) ([]*types.Egg, error) {
	members := append([]types.EggGroupMember(nil), group.Members...)
	sortMembersByOrder(members)

	refs := make([]string, 0, len(members))
	for _, m := range members {
		refs = append(refs, m.EggID)
	}
	return e.Resolve(refs, machine)
}

func sortMembersByOrder(members []types.EggGroupMember) {
	// insertion sort: group sizes are small and this keeps ties on
	// matching Order stable, matching declared-order semantics.
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && members[j].Order < members[j-1].Order; j-- {
			members[j], members[j-1] = members[j-1], members[j]
		}
	}
}

func (e *Engine) lookup(ref string) (*types.Egg, error) {
	if eg, err := e.store.GetEgg(ref); err == nil {
		return eg, nil
	}
	return e.store.GetEggByName(ref)
}

// topoSort runs Kahn's algorithm over the included set, visiting ready
// nodes in the order they first appeared in firstSeen so ties break on
// declared insertion order.
func topoSort(included map[string]*types.Egg, firstSeen []string) ([]*types.Egg, error) {
	inDegree := make(map[string]int, len(included))
	dependents := make(map[string][]string, len(included))

	// Iterate firstSeen (not the map) so dependents lists are built in a
	// deterministic order regardless of Go's randomized map iteration.
	for _, id := range firstSeen {
		inDegree[id] = 0
	}
	for _, id := range firstSeen {
		eg := included[id]
		for _, dep := range eg.Dependencies {
			depID := dep
			if target, ok := included[dep]; ok {
				depID = target.ID
			}
			inDegree[id]++
			dependents[depID] = append(dependents[depID], id)
		}
	}

	ready := []string{}
	for _, id := range firstSeen {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var out []*types.Egg
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, included[id])

		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(out) != len(included) {
		return nil, configError("cycle")
	}
	return out, nil
}

func checkConstraints(eg *types.Egg, machine *types.Machine) error {
	if eg.RequiredArchitecture != "" && eg.RequiredArchitecture != types.ArchAny && eg.RequiredArchitecture != machine.Architecture {
		return archMismatch(eg, machine)
	}
	if eg.MinRAMMB > machine.MemoryMB {
		return insufficientResources(eg, machine)
	}
	if eg.MinDiskGB > machine.StorageGB {
		return insufficientResources(eg, machine)
	}
	return nil
}
