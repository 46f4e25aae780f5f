package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/blocktree/backend/internal/domain/registry"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/id"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
	"github.com/GriffinCanCode/blocktree/backend/internal/store/memory"
)

// DefaultOrg is the organisation used by fixtures unless stated otherwise.
const DefaultOrg = "org_test"

// Fixture bundles a memory store and a registry over it.
type Fixture struct {
	Store    *memory.Store
	Registry *registry.Registry
}

// NewFixture creates an empty fixture.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	st := memory.New()
	return &Fixture{Store: st, Registry: registry.New(st)}
}

// ContainerType publishes a content type that accepts children per nesting.
func (f *Fixture) ContainerType(t *testing.T, key string, nesting *types.Nesting) *types.BlockType {
	t.Helper()
	bt, err := f.Registry.Publish(context.Background(), DefaultOrg, &types.BlockType{
		Key:     key,
		Name:    key,
		Nesting: nesting,
	})
	require.NoError(t, err)
	return bt
}

// LeafType publishes a content type without nesting.
func (f *Fixture) LeafType(t *testing.T, key string) *types.BlockType {
	t.Helper()
	return f.ContainerType(t, key, nil)
}

// PublishType publishes bt for DefaultOrg.
func (f *Fixture) PublishType(t *testing.T, bt *types.BlockType) *types.BlockType {
	t.Helper()
	out, err := f.Registry.Publish(context.Background(), DefaultOrg, bt)
	require.NoError(t, err)
	return out
}

// Block stores a block of type bt in DefaultOrg.
func (f *Fixture) Block(t *testing.T, bt *types.BlockType, payload types.Payload) *types.Block {
	t.Helper()
	return f.BlockIn(t, DefaultOrg, bt, payload)
}

// BlockIn stores a block of type bt in orgID. A nil payload becomes empty content.
func (f *Fixture) BlockIn(t *testing.T, orgID string, bt *types.BlockType, payload types.Payload) *types.Block {
	t.Helper()
	if payload == nil {
		payload = types.ContentPayload{Data: map[string]any{}}
	}
	now := time.Now().UTC()
	b := &types.Block{
		ID:             id.NewBlockID().String(),
		OrganisationID: orgID,
		Name:           bt.Key,
		TypeID:         bt.ID,
		TypeKey:        bt.Key,
		TypeVersion:    bt.Version,
		Payload:        payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := f.Store.Atomic(context.Background(), func(tx store.Tx) error {
		return tx.PutBlock(context.Background(), b)
	})
	require.NoError(t, err)
	return b
}

// Edges returns the stored edges of parent grouped by slot.
func (f *Fixture) Edges(t *testing.T, parentID string) map[string][]*types.Edge {
	t.Helper()
	edges, err := f.Store.EdgesByParent(context.Background(), parentID)
	require.NoError(t, err)
	return store.GroupEdges(edges)
}

// RequireContiguous fails unless every slot of parent is ordered 0..n-1.
func (f *Fixture) RequireContiguous(t *testing.T, parentID string) {
	t.Helper()
	for slot, list := range f.Edges(t, parentID) {
		for i, e := range list {
			require.Equal(t, i, e.OrderIndex, "slot %s position %d", slot, i)
		}
	}
}

// ChildIDs returns the child ids of one slot in order.
func (f *Fixture) ChildIDs(t *testing.T, parentID, slot string) []string {
	t.Helper()
	var ids []string
	for _, e := range f.Edges(t, parentID)[slot] {
		ids = append(ids, e.ChildID)
	}
	return ids
}
