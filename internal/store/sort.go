package store

import (
	"sort"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// SortEdges orders edges by slot then orderIndex
func SortEdges(edges []*types.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Slot != edges[j].Slot {
			return edges[i].Slot < edges[j].Slot
		}
		return edges[i].OrderIndex < edges[j].OrderIndex
	})
}

// SortReferences orders references by slot then orderIndex
func SortReferences(refs []*types.StoredReference) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Slot != refs[j].Slot {
			return refs[i].Slot < refs[j].Slot
		}
		return refs[i].OrderIndex < refs[j].OrderIndex
	})
}

// GroupEdges splits ordered edges by slot, preserving order
func GroupEdges(edges []*types.Edge) map[string][]*types.Edge {
	out := make(map[string][]*types.Edge)
	for _, e := range edges {
		out[e.Slot] = append(out[e.Slot], e)
	}
	return out
}

// GroupReferences splits ordered references by slot, preserving order
func GroupReferences(refs []*types.StoredReference) map[string][]*types.StoredReference {
	out := make(map[string][]*types.StoredReference)
	for _, r := range refs {
		out[r.Slot] = append(out[r.Slot], r)
	}
	return out
}
