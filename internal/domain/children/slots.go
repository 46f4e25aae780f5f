package children

import (
	"context"
	"sort"
	"time"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/paths"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
)

type slotKey struct {
	parentID string
	slot     string
}

func slotKeysFor(parentID string, slots []string) []slotKey {
	keys := make([]slotKey, len(slots))
	for i, slot := range slots {
		keys[i] = slotKey{parentID, slot}
	}
	return keys
}

// lockSlots locks each distinct slot once, in a global order
func lockSlots(ctx context.Context, tx store.Tx, keys ...slotKey) error {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].parentID != keys[j].parentID {
			return keys[i].parentID < keys[j].parentID
		}
		return keys[i].slot < keys[j].slot
	})
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		if err := tx.LockSlot(ctx, k.parentID, k.slot); err != nil {
			return err
		}
	}
	return nil
}

// slotEdges returns the edges of one slot in order
func slotEdges(ctx context.Context, r store.Reader, parentID, slot string) ([]*types.Edge, error) {
	edges, err := r.EdgesByParent(ctx, parentID)
	if err != nil {
		return nil, err
	}
	out := edges[:0]
	for _, e := range edges {
		if e.Slot == slot {
			out = append(out, e)
		}
	}
	return out, nil
}

func groupBySlot(edges []*types.Edge) map[string][]*types.Edge {
	groups := store.GroupEdges(edges)
	for slot, list := range groups {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].OrderIndex != list[j].OrderIndex {
				return list[i].OrderIndex < list[j].OrderIndex
			}
			return list[i].Path < list[j].Path
		})
		groups[slot] = list
	}
	return groups
}

// contiguous reports whether list is ordered 0..n-1 with canonical paths
func contiguous(list []*types.Edge) bool {
	for i, e := range list {
		if e.OrderIndex != i || e.Path != paths.Item(e.Slot, i) {
			return false
		}
	}
	return true
}

// renumber writes 0..n-1 order indexes and paths, touching only edges that changed
func renumber(ctx context.Context, tx store.Tx, slot string, list []*types.Edge) error {
	for i, e := range list {
		path := paths.Item(slot, i)
		// edges built by the caller have no path yet and are always written
		if e.OrderIndex == i && e.Path == path && e.Slot == slot {
			continue
		}
		updated := *e
		updated.Slot = slot
		updated.OrderIndex = i
		updated.Path = path
		if updated.CreatedAt.IsZero() {
			updated.CreatedAt = now()
		}
		if err := tx.PutEdge(ctx, &updated); err != nil {
			return err
		}
		*e = updated
	}
	return nil
}

// insertAt inserts e at index, clamped to the list. A nil index appends.
func insertAt(list []*types.Edge, e *types.Edge, index *int) []*types.Edge {
	pos := len(list)
	if index != nil && *index >= 0 && *index < len(list) {
		pos = *index
	}
	out := make([]*types.Edge, 0, len(list)+1)
	out = append(out, list[:pos]...)
	out = append(out, e)
	return append(out, list[pos:]...)
}

func removeChild(list []*types.Edge, childID string) []*types.Edge {
	out := make([]*types.Edge, 0, len(list))
	for _, e := range list {
		if e.ChildID != childID {
			out = append(out, e)
		}
	}
	return out
}

func now() time.Time {
	return time.Now().UTC()
}
