package children

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/paths"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/utils"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
)

// ownershipSlot is the lock key serialising ancestor-changing writes per organisation
const ownershipSlot = "#ownership"

// TypeLookup resolves block types by id
type TypeLookup interface {
	Get(ctx context.Context, typeID string) (*types.BlockType, error)
}

// Service implements the ownership operations
type Service struct {
	store   store.Store
	types   TypeLookup
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics records operation outcomes and renumber repairs
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// New creates a children service
func New(st store.Store, lookup TypeLookup, opts ...Option) *Service {
	s := &Service{
		store:  st,
		types:  lookup,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SlotState is one slot of a parent with its version token
type SlotState struct {
	Slot    string        `json:"slot"`
	Version string        `json:"version"`
	Edges   []*types.Edge `json:"edges"`
}

// AddRequest adds one child to a parent slot
type AddRequest struct {
	ParentID string `json:"-"`
	ChildID  string `json:"child_id"`
	Slot     string `json:"slot"`
	Index    *int   `json:"index,omitempty"`
}

// BulkRequest appends children to a slot in submission order
type BulkRequest struct {
	ParentID string   `json:"-"`
	Slot     string   `json:"slot"`
	ChildIDs []string `json:"child_ids"`
}

// MoveRequest moves a child between slots, optionally to another parent
type MoveRequest struct {
	ParentID   string `json:"-"`
	ChildID    string `json:"-"`
	FromSlot   string `json:"from_slot"`
	ToSlot     string `json:"to_slot"`
	ToIndex    *int   `json:"to_index,omitempty"`
	ToParentID string `json:"to_parent_id,omitempty"`
	IfVersion  string `json:"if_version,omitempty"`
}

// ReplaceRequest reorders a slot to exactly the submitted ids
type ReplaceRequest struct {
	ParentID   string   `json:"-"`
	Slot       string   `json:"slot"`
	OrderedIDs []string `json:"ordered_ids"`
	IfVersion  string   `json:"if_version,omitempty"`
}

// FindOwnedBlocks returns the direct children of blockID grouped by slot.
// A slot found with broken ordering is renumbered before returning.
func (s *Service) FindOwnedBlocks(ctx context.Context, blockID string) (map[string][]*types.Edge, error) {
	if _, err := s.store.GetBlock(ctx, blockID); err != nil {
		return nil, err
	}

	edges, err := s.store.EdgesByParent(ctx, blockID)
	if err != nil {
		return nil, err
	}

	groups := groupBySlot(edges)
	var broken []string
	for slot, list := range groups {
		if !contiguous(list) {
			broken = append(broken, slot)
		}
	}
	if len(broken) == 0 {
		return groups, nil
	}

	sort.Strings(broken)
	s.logger.Warn("slot ordering inconsistent, renumbering",
		zap.String("parent_id", blockID),
		zap.Strings("slots", broken))

	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		if err := lockSlots(ctx, tx, slotKeysFor(blockID, broken)...); err != nil {
			return err
		}
		for _, slot := range broken {
			list, err := slotEdges(ctx, tx, blockID, slot)
			if err != nil {
				return err
			}
			if err := renumber(ctx, tx, slot, list); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to repair slot order: %w", err)
	}
	s.metrics.IncRenumberRepairs()

	edges, err = s.store.EdgesByParent(ctx, blockID)
	if err != nil {
		return nil, err
	}
	return groupBySlot(edges), nil
}

// Slots returns every slot of blockID with its version token, ordered by slot name
func (s *Service) Slots(ctx context.Context, blockID string) ([]SlotState, error) {
	groups, err := s.FindOwnedBlocks(ctx, blockID)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(groups))
	for slot := range groups {
		names = append(names, slot)
	}
	sort.Strings(names)

	out := make([]SlotState, 0, len(names))
	for _, slot := range names {
		out = append(out, SlotState{
			Slot:    slot,
			Version: slotVersion(blockID, slot, groups[slot]),
			Edges:   groups[slot],
		})
	}
	return out, nil
}

// AddChild attaches an un-parented block to parent at the requested index
func (s *Service) AddChild(ctx context.Context, req AddRequest) (edge *types.Edge, err error) {
	timer := monitoring.NewTimer(s.metrics, "add_child")
	defer func() { timer.Stop(err) }()

	slot, err := normaliseSlot(req.Slot)
	if err != nil {
		return nil, err
	}

	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		parent, nesting, err := s.parentWithNesting(ctx, tx, req.ParentID)
		if err != nil {
			return err
		}
		if err := tx.LockSlot(ctx, parent.OrganisationID, ownershipSlot); err != nil {
			return err
		}
		if err := tx.LockSlot(ctx, parent.ID, slot); err != nil {
			return err
		}

		siblings, err := slotEdges(ctx, tx, parent.ID, slot)
		if err != nil {
			return err
		}

		kinds, err := siblingTypes(ctx, tx, nesting, siblings)
		if err != nil {
			return err
		}
		child, err := s.checkAttach(ctx, tx, parent, nesting, req.ChildID, slot, kinds)
		if err != nil {
			return err
		}
		if err := checkCapacity(nesting, slot, len(siblings)+1); err != nil {
			return err
		}

		edge = &types.Edge{ParentID: parent.ID, ChildID: child.ID, Slot: slot, CreatedAt: now()}
		siblings = insertAt(siblings, edge, req.Index)
		return renumber(ctx, tx, slot, siblings)
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// AddChildrenBulk appends every child after the existing siblings, in
// submission order. Either all edges are created or none.
func (s *Service) AddChildrenBulk(ctx context.Context, req BulkRequest) (edges []*types.Edge, err error) {
	timer := monitoring.NewTimer(s.metrics, "add_children_bulk")
	defer func() { timer.Stop(err) }()

	slot, err := normaliseSlot(req.Slot)
	if err != nil {
		return nil, err
	}
	if len(req.ChildIDs) == 0 {
		return nil, errs.Validation("child_ids", "at least one child is required")
	}
	seen := make(map[string]bool, len(req.ChildIDs))
	for _, id := range req.ChildIDs {
		if seen[id] {
			return nil, errs.Validation("child_ids", "child %s submitted twice", id)
		}
		seen[id] = true
	}

	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		parent, nesting, err := s.parentWithNesting(ctx, tx, req.ParentID)
		if err != nil {
			return err
		}
		if err := tx.LockSlot(ctx, parent.OrganisationID, ownershipSlot); err != nil {
			return err
		}
		if err := tx.LockSlot(ctx, parent.ID, slot); err != nil {
			return err
		}

		siblings, err := slotEdges(ctx, tx, parent.ID, slot)
		if err != nil {
			return err
		}
		if err := checkCapacity(nesting, slot, len(siblings)+len(req.ChildIDs)); err != nil {
			return err
		}

		kinds, err := siblingTypes(ctx, tx, nesting, siblings)
		if err != nil {
			return err
		}
		for i, childID := range req.ChildIDs {
			child, err := s.checkAttach(ctx, tx, parent, nesting, childID, slot, kinds)
			if err != nil {
				return fmt.Errorf("child_ids[%d]: %w", i, err)
			}
			if kinds != nil {
				kinds[child.ID] = child.TypeKey
			}
			edge := &types.Edge{ParentID: parent.ID, ChildID: child.ID, Slot: slot, CreatedAt: now()}
			siblings = append(siblings, edge)
			edges = append(edges, edge)
		}
		return renumber(ctx, tx, slot, siblings)
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// MoveChildToSlot moves a child to ToSlot at ToIndex. With ToParentID set
// the child is reparented and re-validated against the new parent.
func (s *Service) MoveChildToSlot(ctx context.Context, req MoveRequest) (edge *types.Edge, err error) {
	timer := monitoring.NewTimer(s.metrics, "move_child")
	defer func() { timer.Stop(err) }()

	fromSlot, err := normaliseSlot(req.FromSlot)
	if err != nil {
		return nil, err
	}
	toSlot, err := normaliseSlot(req.ToSlot)
	if err != nil {
		return nil, err
	}
	toParentID := req.ToParentID
	if toParentID == "" {
		toParentID = req.ParentID
	}
	reparent := toParentID != req.ParentID

	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		parent, err := tx.GetBlock(ctx, req.ParentID)
		if err != nil {
			return err
		}
		if reparent {
			if err := tx.LockSlot(ctx, parent.OrganisationID, ownershipSlot); err != nil {
				return err
			}
		}
		if err := lockSlots(ctx, tx, slotKey{req.ParentID, fromSlot}, slotKey{toParentID, toSlot}); err != nil {
			return err
		}

		current, err := tx.ParentEdge(ctx, req.ChildID)
		if err != nil {
			return err
		}
		if current == nil || current.ParentID != req.ParentID || current.Slot != fromSlot {
			return errs.NotFound("edge", fmt.Sprintf("%s/%s/%s", req.ParentID, fromSlot, req.ChildID))
		}

		source, err := slotEdges(ctx, tx, req.ParentID, fromSlot)
		if err != nil {
			return err
		}
		if err := checkVersion(req.IfVersion, req.ParentID, fromSlot, source); err != nil {
			return err
		}
		source = removeChild(source, req.ChildID)

		target := source
		if reparent || fromSlot != toSlot {
			newParent, nesting, err := s.parentWithNesting(ctx, tx, toParentID)
			if err != nil {
				return err
			}
			if target, err = slotEdges(ctx, tx, toParentID, toSlot); err != nil {
				return err
			}
			child, err := tx.GetBlock(ctx, req.ChildID)
			if err != nil {
				return err
			}
			kinds, err := siblingTypes(ctx, tx, nesting, target)
			if err != nil {
				return err
			}
			if err := checkPlacement(newParent, nesting, child, toSlot, kinds); err != nil {
				return err
			}
			if reparent {
				if err := checkCycle(ctx, tx, newParent.ID, child.ID); err != nil {
					return err
				}
			}
			if err := checkCapacity(nesting, toSlot, len(target)+1); err != nil {
				return err
			}
		}

		edge = &types.Edge{ParentID: toParentID, ChildID: req.ChildID, Slot: toSlot, CreatedAt: current.CreatedAt}
		target = insertAt(target, edge, req.ToIndex)

		if reparent || fromSlot != toSlot {
			if err := renumber(ctx, tx, fromSlot, source); err != nil {
				return err
			}
		}
		return renumber(ctx, tx, toSlot, target)
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// ReplaceSlot reorders a slot. OrderedIDs must be exactly the current children.
func (s *Service) ReplaceSlot(ctx context.Context, req ReplaceRequest) (state *SlotState, err error) {
	timer := monitoring.NewTimer(s.metrics, "replace_slot")
	defer func() { timer.Stop(err) }()

	slot, err := normaliseSlot(req.Slot)
	if err != nil {
		return nil, err
	}

	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBlock(ctx, req.ParentID); err != nil {
			return err
		}
		if err := tx.LockSlot(ctx, req.ParentID, slot); err != nil {
			return err
		}

		current, err := slotEdges(ctx, tx, req.ParentID, slot)
		if err != nil {
			return err
		}
		if err := checkVersion(req.IfVersion, req.ParentID, slot, current); err != nil {
			return err
		}

		byID := make(map[string]*types.Edge, len(current))
		for _, e := range current {
			byID[e.ChildID] = e
		}

		var missing, extra []string
		submitted := make(map[string]bool, len(req.OrderedIDs))
		for _, id := range req.OrderedIDs {
			if submitted[id] {
				extra = append(extra, id)
				continue
			}
			submitted[id] = true
			if _, ok := byID[id]; !ok {
				extra = append(extra, id)
			}
		}
		for _, e := range current {
			if !submitted[e.ChildID] {
				missing = append(missing, e.ChildID)
			}
		}
		if len(missing) > 0 || len(extra) > 0 {
			return &errs.ValidationError{
				Field:   "ordered_ids",
				Message: "submitted ids must match the slot's children exactly",
				Missing: missing,
				Extra:   extra,
			}
		}

		ordered := make([]*types.Edge, len(req.OrderedIDs))
		for i, id := range req.OrderedIDs {
			ordered[i] = byID[id]
		}
		if err := renumber(ctx, tx, slot, ordered); err != nil {
			return err
		}
		state = &SlotState{Slot: slot, Version: slotVersion(req.ParentID, slot, ordered), Edges: ordered}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// RemoveChild detaches one child. The child becomes a top-level block.
func (s *Service) RemoveChild(ctx context.Context, parentID, slot, childID string) (err error) {
	timer := monitoring.NewTimer(s.metrics, "remove_child")
	defer func() { timer.Stop(err) }()

	slot, err = normaliseSlot(slot)
	if err != nil {
		return err
	}

	return s.store.Atomic(ctx, func(tx store.Tx) error {
		if err := tx.LockSlot(ctx, parentID, slot); err != nil {
			return err
		}
		siblings, err := slotEdges(ctx, tx, parentID, slot)
		if err != nil {
			return err
		}
		remaining := removeChild(siblings, childID)
		if len(remaining) == len(siblings) {
			return errs.NotFound("edge", fmt.Sprintf("%s/%s/%s", parentID, slot, childID))
		}
		if err := tx.DeleteEdge(ctx, childID); err != nil {
			return err
		}
		return renumber(ctx, tx, slot, remaining)
	})
}

// DetachChildrenBySlot detaches every child of a slot and returns their ids
func (s *Service) DetachChildrenBySlot(ctx context.Context, parentID, slot string) (detached []string, err error) {
	timer := monitoring.NewTimer(s.metrics, "detach_slot")
	defer func() { timer.Stop(err) }()

	slot, err = normaliseSlot(slot)
	if err != nil {
		return nil, err
	}

	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBlock(ctx, parentID); err != nil {
			return err
		}
		if err := tx.LockSlot(ctx, parentID, slot); err != nil {
			return err
		}
		siblings, err := slotEdges(ctx, tx, parentID, slot)
		if err != nil {
			return err
		}
		for _, e := range siblings {
			if err := tx.DeleteEdge(ctx, e.ChildID); err != nil {
				return err
			}
			detached = append(detached, e.ChildID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detached, nil
}

// DetachAll removes every edge touching blockID inside tx: its children
// become top-level and its own parent slot is renumbered. Used when the
// block itself is deleted.
func DetachAll(ctx context.Context, tx store.Tx, blockID string) error {
	owned, err := tx.EdgesByParent(ctx, blockID)
	if err != nil {
		return err
	}
	for _, e := range owned {
		if err := tx.DeleteEdge(ctx, e.ChildID); err != nil {
			return err
		}
	}

	up, err := tx.ParentEdge(ctx, blockID)
	if err != nil || up == nil {
		return err
	}
	if err := tx.LockSlot(ctx, up.ParentID, up.Slot); err != nil {
		return err
	}
	siblings, err := slotEdges(ctx, tx, up.ParentID, up.Slot)
	if err != nil {
		return err
	}
	if err := tx.DeleteEdge(ctx, blockID); err != nil {
		return err
	}
	return renumber(ctx, tx, up.Slot, removeChild(siblings, blockID))
}

// Ancestors returns the parent chain of blockID, nearest first
func (s *Service) Ancestors(ctx context.Context, blockID string) ([]*types.Edge, error) {
	var chain []*types.Edge
	seen := map[string]bool{blockID: true}
	current := blockID
	for {
		edge, err := s.store.ParentEdge(ctx, current)
		if err != nil {
			return nil, err
		}
		if edge == nil || seen[edge.ParentID] {
			return chain, nil
		}
		seen[edge.ParentID] = true
		chain = append(chain, edge)
		current = edge.ParentID
	}
}

// parentWithNesting loads a parent and its nesting policy. Leaf types are rejected.
func (s *Service) parentWithNesting(ctx context.Context, tx store.Tx, parentID string) (*types.Block, *types.Nesting, error) {
	parent, err := tx.GetBlock(ctx, parentID)
	if err != nil {
		return nil, nil, err
	}
	nesting, err := s.nestingOf(ctx, parent)
	if err != nil {
		return nil, nil, err
	}
	if nesting == nil {
		return nil, nil, errs.Validation("parent_id", "block type %q is a leaf and cannot own children", parent.TypeKey)
	}
	if parent.Archived {
		return nil, nil, errs.Validation("parent_id", "archived block %s cannot receive children", parent.ID)
	}
	return parent, nesting, nil
}

func (s *Service) nestingOf(ctx context.Context, b *types.Block) (*types.Nesting, error) {
	bt, err := s.types.Get(ctx, b.TypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load type of %s: %w", b.ID, err)
	}
	return bt.Nesting, nil
}

// checkAttach validates attaching childID under parent
func (s *Service) checkAttach(ctx context.Context, tx store.Tx, parent *types.Block, nesting *types.Nesting, childID, slot string, kinds map[string]string) (*types.Block, error) {
	if childID == parent.ID {
		return nil, &errs.CycleError{ParentID: parent.ID, ChildID: childID}
	}
	child, err := tx.GetBlock(ctx, childID)
	if err != nil {
		return nil, err
	}
	if err := checkPlacement(parent, nesting, child, slot, kinds); err != nil {
		return nil, err
	}

	existing, err := tx.ParentEdge(ctx, childID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errs.Conflict("edge", "block %s is already owned by %s in slot %q", childID, existing.ParentID, existing.Slot)
	}
	if err := checkCycle(ctx, tx, parent.ID, childID); err != nil {
		return nil, err
	}
	return child, nil
}

// checkPlacement validates organisation, type and duplicate rules for child in
// slot. kinds maps sibling ids to type keys and is nil when duplicates are allowed.
func checkPlacement(parent *types.Block, nesting *types.Nesting, child *types.Block, slot string, kinds map[string]string) error {
	if child.OrganisationID != parent.OrganisationID {
		return errs.Validation("organisation_id", "block %s belongs to another organisation", child.ID)
	}
	if !nesting.Allows(child.TypeKey) {
		return errs.Validation("type", "type %q is not allowed in %s (allowed: %s)",
			child.TypeKey, parent.TypeKey, strings.Join(nesting.AllowedTypes, ", "))
	}
	for id, typeKey := range kinds {
		if id != child.ID && typeKey == child.TypeKey {
			return errs.Validation("type", "slot %q already holds a %q block", slot, child.TypeKey)
		}
	}
	return nil
}

// siblingTypes loads the type keys of siblings when the nesting forbids duplicates
func siblingTypes(ctx context.Context, tx store.Tx, nesting *types.Nesting, siblings []*types.Edge) (map[string]string, error) {
	if nesting.AllowDuplicates {
		return nil, nil
	}
	kinds := make(map[string]string, len(siblings))
	for _, e := range siblings {
		b, err := tx.GetBlock(ctx, e.ChildID)
		if err != nil {
			return nil, err
		}
		kinds[b.ID] = b.TypeKey
	}
	return kinds, nil
}

// checkCycle fails when childID is parentID or one of its ancestors
func checkCycle(ctx context.Context, tx store.Tx, parentID, childID string) error {
	seen := map[string]bool{}
	current := parentID
	for current != "" && !seen[current] {
		if current == childID {
			return &errs.CycleError{ParentID: parentID, ChildID: childID}
		}
		seen[current] = true
		edge, err := tx.ParentEdge(ctx, current)
		if err != nil {
			return err
		}
		if edge == nil {
			return nil
		}
		current = edge.ParentID
	}
	return nil
}

func checkCapacity(nesting *types.Nesting, slot string, count int) error {
	if nesting.Max > 0 && count > nesting.Max {
		return errs.Validation("slot", "slot %q allows at most %d children", slot, nesting.Max)
	}
	return nil
}

func checkVersion(want, parentID, slot string, edges []*types.Edge) error {
	if want == "" {
		return nil
	}
	if have := slotVersion(parentID, slot, edges); have != want {
		return errs.Conflict("slot", "slot %q changed (version %s, expected %s)", slot, have, want)
	}
	return nil
}

func slotVersion(parentID, slot string, edges []*types.Edge) string {
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.ChildID
	}
	return utils.SlotVersion(parentID, slot, ids)
}

func normaliseSlot(slot string) (string, error) {
	if slot == "" {
		return paths.DefaultSlot, nil
	}
	slot = paths.SlotKey(slot)
	if err := utils.ValidateSlot(slot); err != nil {
		return "", errs.Validation("slot", "%v", err)
	}
	return slot, nil
}
