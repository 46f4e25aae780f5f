// Package store defines the persistence boundary for blocks, block types,
// ownership edges and stored references.
//
// Reads return copies; mutating a returned value never changes stored state.
// Lookups of a single missing record return an *errs.NotFoundError, except
// ParentEdge which returns (nil, nil) for a top-level block.
//
// All writes go through Atomic. A Tx either commits every write made by the
// callback or none of them.
package store

import (
	"context"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// Reader exposes the read side shared by Store and Tx
type Reader interface {
	GetBlock(ctx context.Context, id string) (*types.Block, error)
	ListBlocks(ctx context.Context, orgID string) ([]*types.Block, error)

	GetBlockType(ctx context.Context, id string) (*types.BlockType, error)
	// BlockTypeVersions returns every version of key visible to orgID, oldest first
	BlockTypeVersions(ctx context.Context, key, orgID string) ([]*types.BlockType, error)
	// ListBlockTypes returns system types plus the types owned by orgID
	ListBlockTypes(ctx context.Context, orgID string) ([]*types.BlockType, error)

	ParentEdge(ctx context.Context, childID string) (*types.Edge, error)
	// EdgesByParent returns owned edges ordered by (slot, orderIndex)
	EdgesByParent(ctx context.Context, parentID string) ([]*types.Edge, error)

	// ReferencesByBlock returns stored references ordered by (slot, orderIndex)
	ReferencesByBlock(ctx context.Context, blockID string) ([]*types.StoredReference, error)
	// ReferencesByEntity returns every stored reference pointing at the entity.
	// An empty entityType matches any type.
	ReferencesByEntity(ctx context.Context, entityType types.EntityType, entityID string) ([]*types.StoredReference, error)
}

// Tx is a write transaction
type Tx interface {
	Reader

	// LockSlot takes an exclusive lock on the parent/slot pair until the transaction ends
	LockSlot(ctx context.Context, parentID, slot string) error

	PutBlock(ctx context.Context, b *types.Block) error
	DeleteBlock(ctx context.Context, id string) error

	PutBlockType(ctx context.Context, t *types.BlockType) error

	// PutEdge inserts or replaces the edge of e.ChildID
	PutEdge(ctx context.Context, e *types.Edge) error
	DeleteEdge(ctx context.Context, childID string) error

	PutReference(ctx context.Context, r *types.StoredReference) error
	DeleteReference(ctx context.Context, id string) error
}

// Store is the persistence backend
type Store interface {
	Reader
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
