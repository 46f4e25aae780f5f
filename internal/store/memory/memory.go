// Package memory is an in-process Store backed by maps.
//
// Atomic runs the callback against a copy of the maps and swaps it in only
// when the callback succeeds, so a failed transaction leaves no trace.
// Writers are serialised; readers never block each other.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
)

type state struct {
	blocks     map[string]*types.Block
	blockTypes map[string]*types.BlockType
	edges      map[string]*types.Edge // keyed by child id
	refs       map[string]*types.StoredReference
}

func newState() *state {
	return &state{
		blocks:     make(map[string]*types.Block),
		blockTypes: make(map[string]*types.BlockType),
		edges:      make(map[string]*types.Edge),
		refs:       make(map[string]*types.StoredReference),
	}
}

// clone copies the maps; records are immutable once stored so pointers are shared
func (s *state) clone() *state {
	c := &state{
		blocks:     make(map[string]*types.Block, len(s.blocks)),
		blockTypes: make(map[string]*types.BlockType, len(s.blockTypes)),
		edges:      make(map[string]*types.Edge, len(s.edges)),
		refs:       make(map[string]*types.StoredReference, len(s.refs)),
	}
	for k, v := range s.blocks {
		c.blocks[k] = v
	}
	for k, v := range s.blockTypes {
		c.blockTypes[k] = v
	}
	for k, v := range s.edges {
		c.edges[k] = v
	}
	for k, v := range s.refs {
		c.refs[k] = v
	}
	return c
}

// Store implements store.Store in memory
type Store struct {
	mu    sync.RWMutex
	state *state
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{state: newState()}
}

// Atomic runs fn against a private copy and commits it on success
func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	draft := s.state.clone()
	if err := fn(&tx{st: draft}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = draft
	return nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) GetBlock(ctx context.Context, id string) (*types.Block, error) {
	return s.snapshot().getBlock(id)
}

func (s *Store) ListBlocks(ctx context.Context, orgID string) ([]*types.Block, error) {
	return s.snapshot().listBlocks(orgID), nil
}

func (s *Store) GetBlockType(ctx context.Context, id string) (*types.BlockType, error) {
	return s.snapshot().getBlockType(id)
}

func (s *Store) BlockTypeVersions(ctx context.Context, key, orgID string) ([]*types.BlockType, error) {
	return s.snapshot().blockTypeVersions(key, orgID), nil
}

func (s *Store) ListBlockTypes(ctx context.Context, orgID string) ([]*types.BlockType, error) {
	return s.snapshot().listBlockTypes(orgID), nil
}

func (s *Store) ParentEdge(ctx context.Context, childID string) (*types.Edge, error) {
	return s.snapshot().parentEdge(childID), nil
}

func (s *Store) EdgesByParent(ctx context.Context, parentID string) ([]*types.Edge, error) {
	return s.snapshot().edgesByParent(parentID), nil
}

func (s *Store) ReferencesByBlock(ctx context.Context, blockID string) ([]*types.StoredReference, error) {
	return s.snapshot().referencesByBlock(blockID), nil
}

func (s *Store) ReferencesByEntity(ctx context.Context, entityType types.EntityType, entityID string) ([]*types.StoredReference, error) {
	return s.snapshot().referencesByEntity(entityType, entityID), nil
}

// Read helpers. The snapshot pointer is swapped, never mutated, after commit.

func (s *state) getBlock(id string) (*types.Block, error) {
	b, ok := s.blocks[id]
	if !ok {
		return nil, errs.NotFound("block", id)
	}
	return b.Clone(), nil
}

func (s *state) listBlocks(orgID string) []*types.Block {
	var out []*types.Block
	for _, b := range s.blocks {
		if orgID == "" || b.OrganisationID == orgID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) getBlockType(id string) (*types.BlockType, error) {
	t, ok := s.blockTypes[id]
	if !ok {
		return nil, errs.NotFound("block type", id)
	}
	return cloneType(t), nil
}

func (s *state) blockTypeVersions(key, orgID string) []*types.BlockType {
	var out []*types.BlockType
	for _, t := range s.blockTypes {
		if t.Key == key && t.VisibleTo(orgID) {
			out = append(out, cloneType(t))
		}
	}
	sortTypes(out)
	return out
}

func (s *state) listBlockTypes(orgID string) []*types.BlockType {
	var out []*types.BlockType
	for _, t := range s.blockTypes {
		if t.VisibleTo(orgID) {
			out = append(out, cloneType(t))
		}
	}
	sortTypes(out)
	return out
}

func (s *state) parentEdge(childID string) *types.Edge {
	e, ok := s.edges[childID]
	if !ok {
		return nil
	}
	c := *e
	return &c
}

func (s *state) edgesByParent(parentID string) []*types.Edge {
	var out []*types.Edge
	for _, e := range s.edges {
		if e.ParentID == parentID {
			c := *e
			out = append(out, &c)
		}
	}
	store.SortEdges(out)
	return out
}

func (s *state) referencesByBlock(blockID string) []*types.StoredReference {
	var out []*types.StoredReference
	for _, r := range s.refs {
		if r.BlockID == blockID {
			c := *r
			out = append(out, &c)
		}
	}
	store.SortReferences(out)
	return out
}

func (s *state) referencesByEntity(entityType types.EntityType, entityID string) []*types.StoredReference {
	var out []*types.StoredReference
	for _, r := range s.refs {
		if r.EntityID == entityID && (entityType == "" || r.EntityType == entityType) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockID != out[j].BlockID {
			return out[i].BlockID < out[j].BlockID
		}
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out
}

func cloneType(t *types.BlockType) *types.BlockType {
	c := *t
	if t.Nesting != nil {
		n := *t.Nesting
		n.AllowedTypes = append([]string(nil), t.Nesting.AllowedTypes...)
		c.Nesting = &n
	}
	return &c
}

func sortTypes(ts []*types.BlockType) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Key != ts[j].Key {
			return ts[i].Key < ts[j].Key
		}
		if ts[i].Version != ts[j].Version {
			return ts[i].Version < ts[j].Version
		}
		return ts[i].ID < ts[j].ID
	})
}
