package reference

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
)

// Resolver fetches entities of one type. Fetch receives every id wanted in a
// single call and returns the entities it found keyed by id; absent ids are
// simply left out of the result.
type Resolver interface {
	EntityType() types.EntityType
	Fetch(ctx context.Context, ids []string) (map[string]types.Entity, error)
}

// Resolvers is a registry of resolvers keyed by entity type
type Resolvers struct {
	resolvers sync.Map
}

// NewResolvers creates a registry holding rs
func NewResolvers(rs ...Resolver) *Resolvers {
	r := &Resolvers{}
	for _, res := range rs {
		// Only an empty type can fail and callers pass concrete resolvers
		_ = r.Register(res)
	}
	return r
}

// Register adds or replaces the resolver for its entity type
func (r *Resolvers) Register(res Resolver) error {
	t := res.EntityType()
	if t == "" {
		return fmt.Errorf("resolver entity type cannot be empty")
	}
	r.resolvers.Store(t, res)
	return nil
}

// Unregister removes the resolver for entityType
func (r *Resolvers) Unregister(entityType types.EntityType) {
	r.resolvers.Delete(entityType)
}

// Get returns the resolver for entityType
func (r *Resolvers) Get(entityType types.EntityType) (Resolver, bool) {
	if r == nil {
		return nil, false
	}
	val, ok := r.resolvers.Load(entityType)
	if !ok {
		return nil, false
	}
	return val.(Resolver), true
}

// Types returns the registered entity types in sorted order
func (r *Resolvers) Types() []types.EntityType {
	var out []types.EntityType
	r.resolvers.Range(func(key, _ any) bool {
		out = append(out, key.(types.EntityType))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BlockResolver resolves BLOCK references to a summary of the target block
type BlockResolver struct {
	store store.Reader
}

// NewBlockResolver creates a resolver over the block store
func NewBlockResolver(reader store.Reader) *BlockResolver {
	return &BlockResolver{store: reader}
}

// EntityType returns BLOCK
func (b *BlockResolver) EntityType() types.EntityType {
	return types.EntityBlock
}

// Fetch loads each block. Missing blocks are left out of the result.
func (b *BlockResolver) Fetch(ctx context.Context, ids []string) (map[string]types.Entity, error) {
	out := make(map[string]types.Entity, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block, err := b.store.GetBlock(ctx, id)
		if errs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = BlockEntity(block)
	}
	return out, nil
}

// BlockEntity summarises a block as a resolved entity
func BlockEntity(b *types.Block) types.Entity {
	e := types.Entity{
		"id":              b.ID,
		"organisation_id": b.OrganisationID,
		"name":            b.Name,
		"type_key":        b.TypeKey,
		"type_version":    b.TypeVersion,
		"archived":        b.Archived,
	}
	if data := b.Data(); data != nil {
		e["data"] = types.CloneMap(data)
	}
	return e
}
