package memory

import (
	"context"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// tx writes into a draft state owned by a single Atomic call
type tx struct {
	st *state
}

func (t *tx) GetBlock(ctx context.Context, id string) (*types.Block, error) {
	return t.st.getBlock(id)
}

func (t *tx) ListBlocks(ctx context.Context, orgID string) ([]*types.Block, error) {
	return t.st.listBlocks(orgID), nil
}

func (t *tx) GetBlockType(ctx context.Context, id string) (*types.BlockType, error) {
	return t.st.getBlockType(id)
}

func (t *tx) BlockTypeVersions(ctx context.Context, key, orgID string) ([]*types.BlockType, error) {
	return t.st.blockTypeVersions(key, orgID), nil
}

func (t *tx) ListBlockTypes(ctx context.Context, orgID string) ([]*types.BlockType, error) {
	return t.st.listBlockTypes(orgID), nil
}

func (t *tx) ParentEdge(ctx context.Context, childID string) (*types.Edge, error) {
	return t.st.parentEdge(childID), nil
}

func (t *tx) EdgesByParent(ctx context.Context, parentID string) ([]*types.Edge, error) {
	return t.st.edgesByParent(parentID), nil
}

func (t *tx) ReferencesByBlock(ctx context.Context, blockID string) ([]*types.StoredReference, error) {
	return t.st.referencesByBlock(blockID), nil
}

func (t *tx) ReferencesByEntity(ctx context.Context, entityType types.EntityType, entityID string) ([]*types.StoredReference, error) {
	return t.st.referencesByEntity(entityType, entityID), nil
}

// LockSlot is a no-op: Atomic already holds the store-wide write lock
func (t *tx) LockSlot(ctx context.Context, parentID, slot string) error {
	return ctx.Err()
}

func (t *tx) PutBlock(ctx context.Context, b *types.Block) error {
	t.st.blocks[b.ID] = b.Clone()
	return nil
}

func (t *tx) DeleteBlock(ctx context.Context, id string) error {
	if _, ok := t.st.blocks[id]; !ok {
		return errs.NotFound("block", id)
	}
	delete(t.st.blocks, id)
	return nil
}

func (t *tx) PutBlockType(ctx context.Context, bt *types.BlockType) error {
	t.st.blockTypes[bt.ID] = cloneType(bt)
	return nil
}

func (t *tx) PutEdge(ctx context.Context, e *types.Edge) error {
	c := *e
	t.st.edges[e.ChildID] = &c
	return nil
}

func (t *tx) DeleteEdge(ctx context.Context, childID string) error {
	delete(t.st.edges, childID)
	return nil
}

func (t *tx) PutReference(ctx context.Context, r *types.StoredReference) error {
	c := *r
	t.st.refs[r.ID] = &c
	return nil
}

func (t *tx) DeleteReference(ctx context.Context, id string) error {
	delete(t.st.refs, id)
	return nil
}
