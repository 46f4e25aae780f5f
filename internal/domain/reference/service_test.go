package reference

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
	"github.com/GriffinCanCode/blocktree/backend/internal/store/memory"
	"github.com/GriffinCanCode/blocktree/backend/internal/testutil"
)

const (
	client  types.EntityType = "CLIENT"
	project types.EntityType = "PROJECT"
)

func storedRef(id string, t types.EntityType, entityID string, i int) *types.Reference {
	idx := i
	r := &types.Reference{ID: id, EntityType: t, EntityID: entityID, Path: fmt.Sprintf("items[%d]", i), OrderIndex: &idx}
	return r.WithWarning(types.WarningRequiresLoading)
}

func TestResolveReferencesBatchesPerType(t *testing.T) {
	f := testutil.NewFixture(t)

	clients := testutil.NewMockResolver(t, client, map[string]types.Entity{
		"c1": {"id": "c1", "name": "Acme"},
		"c2": {"id": "c2", "name": "Globex"},
		"c3": {"id": "c3", "name": "Initech"},
	})
	projects := testutil.NewMockResolver(t, project, map[string]types.Entity{
		"p1": {"id": "p1"},
		"p2": {"id": "p2"},
	})
	svc := New(f.Store, NewResolvers(clients, projects))

	var refs []*types.Reference
	ids := []struct {
		t  types.EntityType
		id string
	}{
		{client, "c1"}, {project, "p1"}, {client, "c2"}, {client, "c3"}, {project, "p2"},
		{client, "c1"}, {project, "p3"}, {client, "c4"}, {project, "p1"}, {client, "c2"},
	}
	for i, e := range ids {
		refs = append(refs, storedRef(fmt.Sprintf("r%d", i), e.t, e.id, i))
	}

	out, err := svc.ResolveReferences(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, out, 10)

	clients.AssertNumberOfCalls(t, "Fetch", 1)
	projects.AssertNumberOfCalls(t, "Fetch", 1)
	clients.AssertCalled(t, "Fetch", mock.Anything, []string{"c1", "c2", "c3", "c4"})
	projects.AssertCalled(t, "Fetch", mock.Anything, []string{"p1", "p2", "p3"})

	for i, ref := range out {
		assert.Equal(t, fmt.Sprintf("r%d", i), ref.ID, "input order kept")
	}
	assert.Nil(t, out[0].Warning)
	assert.Equal(t, "Acme", out[0].Entity["name"])
	require.NotNil(t, out[6].Warning)
	assert.Equal(t, types.WarningMissing, *out[6].Warning)
	assert.Equal(t, types.WarningMissing, *out[7].Warning)
	assert.Nil(t, out[7].Entity)

	// inputs are not mutated
	require.NotNil(t, refs[0].Warning)
	assert.Equal(t, types.WarningRequiresLoading, *refs[0].Warning)
}

func TestResolveReferencesWarnings(t *testing.T) {
	f := testutil.NewFixture(t)
	failing := &testutil.StubResolver{Type: project, Err: errors.New("upstream down")}
	svc := New(f.Store, NewResolvers(failing))

	out, err := svc.ResolveReferences(context.Background(), []*types.Reference{
		storedRef("a", "INVOICE", "i1", 0),
		storedRef("b", project, "p1", 1),
	})
	require.NoError(t, err)
	assert.Equal(t, types.WarningUnsupported, *out[0].Warning)
	assert.Equal(t, types.WarningRequiresLoading, *out[1].Warning)
	assert.Len(t, failing.Calls(), 1)
}

func TestResolveReferencesCancelled(t *testing.T) {
	f := testutil.NewFixture(t)
	svc := New(f.Store, NewResolvers(&testutil.StubResolver{Type: client}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ResolveReferences(ctx, []*types.Reference{storedRef("a", client, "c1", 0)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindBlockReferences(t *testing.T) {
	f := testutil.NewFixture(t)
	list := f.LeafType(t, "client.list")
	clients := &testutil.StubResolver{Type: client, Entities: map[string]types.Entity{"c1": {"id": "c1"}, "c2": {"id": "c2"}}}
	svc := New(f.Store, NewResolvers(clients))

	meta := types.EntityReferenceMetadata{Items: []types.ReferenceItem{
		{EntityType: client, EntityID: "c1"},
		{EntityType: client, EntityID: "c2"},
	}}
	b := f.Block(t, list, types.EntityReferencePayload{Meta: meta})
	_, err := svc.UpsertLinksFor(context.Background(), b.ID, meta)
	require.NoError(t, err)

	// declare an item that has no stored row yet
	meta.Items = append(meta.Items, types.ReferenceItem{EntityType: client, EntityID: "c3"})

	refs, err := svc.FindBlockReferences(context.Background(), b.ID, &meta)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Empty(t, clients.Calls(), "lazy lists are not resolved")
	assert.Equal(t, types.WarningRequiresLoading, *refs[0].Warning)
	assert.Equal(t, 1, *refs[1].OrderIndex)
	assert.Equal(t, types.WarningMissing, *refs[2].Warning)
	assert.Empty(t, refs[2].ID)
	assert.Equal(t, "items[2]", refs[2].Path)

	meta.FetchPolicy = types.FetchEager
	refs, err = svc.FindBlockReferences(context.Background(), b.ID, &meta)
	require.NoError(t, err)
	require.Len(t, clients.Calls(), 1)
	assert.Equal(t, []string{"c1", "c2"}, clients.Calls()[0])
	assert.Nil(t, refs[0].Warning)
	assert.Equal(t, "c2", refs[1].Entity["id"])
	assert.Equal(t, types.WarningMissing, *refs[2].Warning)
}

type treeCall struct {
	blockID string
	opts    types.TreeOptions
	budget  int
}

type fakeTrees struct {
	calls []treeCall
}

func (f *fakeTrees) BuildTree(_ context.Context, blockID string, opts types.TreeOptions, budget int) (*types.BlockTree, error) {
	f.calls = append(f.calls, treeCall{blockID, opts, budget})
	return &types.BlockTree{MaxDepth: opts.MaxDepth, Root: &types.BlockNode{Block: &types.Block{ID: blockID}}}, nil
}

func TestResolveBlockReferencesExpandWithinBudget(t *testing.T) {
	f := testutil.NewFixture(t)
	leaf := f.LeafType(t, "note")
	target := f.Block(t, leaf, nil)

	trees := &fakeTrees{}
	svc := New(f.Store, NewResolvers(NewBlockResolver(f.Store)))
	svc.SetTreeBuilder(trees)

	ref := storedRef("r", types.EntityBlock, target.ID, 0)
	ref.Expand = &types.TreeOptions{MaxDepth: 5, ExpandRefs: true}

	out, err := svc.ResolveWithin(context.Background(), []*types.Reference{ref}, 2)
	require.NoError(t, err)
	require.NotNil(t, out[0].Tree)
	assert.Nil(t, out[0].Entity)
	require.Len(t, trees.calls, 1)
	assert.Equal(t, treeCall{target.ID, types.TreeOptions{MaxDepth: 1, ExpandRefs: true}, 1}, trees.calls[0])

	// no budget left: the entity is attached without a tree
	out, err = svc.ResolveWithin(context.Background(), []*types.Reference{ref}, 0)
	require.NoError(t, err)
	assert.Nil(t, out[0].Tree)
	assert.Equal(t, target.ID, out[0].Entity["id"])
	assert.Len(t, trees.calls, 1)

	missing := storedRef("m", types.EntityBlock, "blk_gone", 0)
	out, err = svc.ResolveWithin(context.Background(), []*types.Reference{missing}, 2)
	require.NoError(t, err)
	assert.Equal(t, types.WarningMissing, *out[0].Warning)
}

func TestUpsertLinksForIsIdempotent(t *testing.T) {
	f := testutil.NewFixture(t)
	list := f.LeafType(t, "client.list")
	svc := New(f.Store, nil)

	meta := types.EntityReferenceMetadata{Items: []types.ReferenceItem{
		{EntityType: client, EntityID: "c1"},
		{EntityType: project, EntityID: "p1", Ownership: types.OwnershipOwned},
	}}
	b := f.Block(t, list, types.EntityReferencePayload{})

	first, err := svc.UpsertLinksFor(context.Background(), b.ID, meta)
	require.NoError(t, err)
	second, err := svc.UpsertLinksFor(context.Background(), b.ID, meta)
	require.NoError(t, err)

	stored, err := f.Store.ReferencesByBlock(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].ID, stored[i].ID)
	}
	assert.Equal(t, types.OwnershipLinked, stored[0].Ownership)
	assert.Equal(t, types.OwnershipOwned, stored[1].Ownership)

	saved, err := f.Store.GetBlock(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, meta.Items, saved.Payload.(types.EntityReferencePayload).Meta.Items)
}

func TestUpsertLinksForDelta(t *testing.T) {
	f := testutil.NewFixture(t)
	list := f.LeafType(t, "client.list")
	svc := New(f.Store, nil)
	b := f.Block(t, list, types.EntityReferencePayload{})

	rows, err := svc.UpsertLinksFor(context.Background(), b.ID, types.EntityReferenceMetadata{Items: []types.ReferenceItem{
		{EntityType: client, EntityID: "c1"},
		{EntityType: client, EntityID: "c2"},
		{EntityType: client, EntityID: "c3"},
	}})
	require.NoError(t, err)
	c3 := rows[2].ID

	rows, err = svc.UpsertLinksFor(context.Background(), b.ID, types.EntityReferenceMetadata{Items: []types.ReferenceItem{
		{EntityType: client, EntityID: "c3"},
		{EntityType: client, EntityID: "c4"},
	}})
	require.NoError(t, err)
	assert.Equal(t, c3, rows[0].ID, "kept rows are updated in place")
	assert.Equal(t, "items[0]", rows[0].Path)

	stored, err := f.Store.ReferencesByBlock(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "c3", stored[0].EntityID)
	assert.Equal(t, "c4", stored[1].EntityID)
	assert.Equal(t, 1, stored[1].OrderIndex)
}

func TestUpsertLinksForDuplicates(t *testing.T) {
	f := testutil.NewFixture(t)
	list := f.LeafType(t, "client.list")
	svc := New(f.Store, nil)
	b := f.Block(t, list, types.EntityReferencePayload{})

	items := []types.ReferenceItem{{EntityType: client, EntityID: "c1"}, {EntityType: client, EntityID: "c1"}}

	_, err := svc.UpsertLinksFor(context.Background(), b.ID, types.EntityReferenceMetadata{Items: items})
	assert.True(t, errs.IsConflict(err))
	stored, err := f.Store.ReferencesByBlock(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)

	rows, err := svc.UpsertLinksFor(context.Background(), b.ID, types.EntityReferenceMetadata{Items: items, AllowDuplicates: true})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.NotEqual(t, rows[0].ID, rows[1].ID)
}

func TestUpsertLinksForValidation(t *testing.T) {
	f := testutil.NewFixture(t)
	list := f.LeafType(t, "client.list")
	svc := New(f.Store, nil)

	content := f.Block(t, list, nil)
	_, err := svc.UpsertLinksFor(context.Background(), content.ID, types.EntityReferenceMetadata{})
	assert.True(t, errs.IsValidation(err))

	b := f.Block(t, list, types.EntityReferencePayload{})
	_, err = svc.UpsertLinksFor(context.Background(), b.ID, types.EntityReferenceMetadata{Items: []types.ReferenceItem{{EntityType: client}}})
	assert.True(t, errs.IsValidation(err))

	_, err = svc.UpsertLinksFor(context.Background(), "blk_missing", types.EntityReferenceMetadata{})
	assert.True(t, errs.IsNotFound(err))
}

func TestUpsertBlockLinkForKeepsOneRow(t *testing.T) {
	f := testutil.NewFixture(t)
	linkType := f.LeafType(t, "link")
	note := f.LeafType(t, "note")
	svc := New(f.Store, nil)

	link := f.Block(t, linkType, types.BlockReferencePayload{})
	a := f.Block(t, note, nil)
	b := f.Block(t, note, nil)

	first, err := svc.UpsertBlockLinkFor(context.Background(), link.ID, types.BlockReferenceMetadata{Item: &types.ReferenceItem{EntityID: a.ID}})
	require.NoError(t, err)
	assert.Equal(t, types.EntityBlock, first.EntityType)
	assert.Equal(t, "block[0]", first.Path)

	second, err := svc.UpsertBlockLinkFor(context.Background(), link.ID, types.BlockReferenceMetadata{Item: &types.ReferenceItem{EntityID: b.ID}})
	require.NoError(t, err)
	assert.Equal(t, b.ID, second.EntityID)

	stored, err := f.Store.ReferencesByBlock(context.Background(), link.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, b.ID, stored[0].EntityID)

	_, err = svc.UpsertBlockLinkFor(context.Background(), link.ID, types.BlockReferenceMetadata{Item: &types.ReferenceItem{EntityType: client, EntityID: "c1"}})
	assert.True(t, errs.IsValidation(err))

	row, err := svc.UpsertBlockLinkFor(context.Background(), link.ID, types.BlockReferenceMetadata{})
	require.NoError(t, err)
	assert.Nil(t, row)
	stored, err = f.Store.ReferencesByBlock(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRemoveReferenceAmbiguous(t *testing.T) {
	f := testutil.NewFixture(t)
	list := f.LeafType(t, "client.list")
	svc := New(f.Store, nil)
	b := f.Block(t, list, types.EntityReferencePayload{})

	_, err := svc.UpsertLinksFor(context.Background(), b.ID, types.EntityReferenceMetadata{
		AllowDuplicates: true,
		Items: []types.ReferenceItem{
			{EntityType: client, EntityID: "E"},
			{EntityType: project, EntityID: "p1"},
			{EntityType: client, EntityID: "E"},
		},
	})
	require.NoError(t, err)

	err = svc.RemoveReference(context.Background(), b.ID, client, "E", "")
	var ambiguous *errs.AmbiguousDeletionError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, []string{"items[0]", "items[2]"}, ambiguous.Paths)

	require.NoError(t, svc.RemoveReference(context.Background(), b.ID, client, "E", "items[0]"))

	stored, err := f.Store.ReferencesByBlock(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "p1", stored[0].EntityID)
	assert.Equal(t, "items[0]", stored[0].Path)
	assert.Equal(t, "E", stored[1].EntityID)
	assert.Equal(t, "items[1]", stored[1].Path)
	assert.Equal(t, 1, stored[1].OrderIndex)

	saved, err := f.Store.GetBlock(context.Background(), b.ID)
	require.NoError(t, err)
	items := saved.Payload.(types.EntityReferencePayload).Meta.Items
	require.Len(t, items, 2)
	assert.Equal(t, "p1", items[0].EntityID)

	// now unambiguous
	require.NoError(t, svc.RemoveReference(context.Background(), b.ID, client, "E", ""))
	err = svc.RemoveReference(context.Background(), b.ID, client, "E", "")
	assert.True(t, errs.IsNotFound(err))
}

// orderStore records slot locks and reference reads made inside Atomic
type orderStore struct {
	*memory.Store
	events []string
}

func (o *orderStore) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	return o.Store.Atomic(ctx, func(tx store.Tx) error {
		return fn(&orderTx{Tx: tx, events: &o.events})
	})
}

type orderTx struct {
	store.Tx
	events *[]string
}

func (o *orderTx) LockSlot(ctx context.Context, parentID, slot string) error {
	*o.events = append(*o.events, "lock "+slot)
	return o.Tx.LockSlot(ctx, parentID, slot)
}

func (o *orderTx) ReferencesByBlock(ctx context.Context, blockID string) ([]*types.StoredReference, error) {
	*o.events = append(*o.events, "read")
	return o.Tx.ReferencesByBlock(ctx, blockID)
}

func TestRemoveReferenceLocksBeforeReading(t *testing.T) {
	f := testutil.NewFixture(t)
	list := f.LeafType(t, "client.list")
	st := &orderStore{Store: f.Store}
	svc := New(st, nil)
	b := f.Block(t, list, types.EntityReferencePayload{})

	_, err := svc.UpsertLinksFor(context.Background(), b.ID, types.EntityReferenceMetadata{Items: []types.ReferenceItem{
		{EntityType: client, EntityID: "c1"},
		{EntityType: client, EntityID: "c2"},
	}})
	require.NoError(t, err)

	st.events = nil
	require.NoError(t, svc.RemoveReference(context.Background(), b.ID, client, "c1", ""))
	require.NotEmpty(t, st.events)
	assert.Equal(t, "lock #refs/items", st.events[0])
	assert.NotContains(t, st.events[1:], "lock #refs/items", "the slot is locked once")
}

func TestRemoveStaleReferences(t *testing.T) {
	f := testutil.NewFixture(t)
	list := f.LeafType(t, "client.list")
	svc := New(f.Store, nil)

	a := f.Block(t, list, types.EntityReferencePayload{})
	b := f.Block(t, list, types.EntityReferencePayload{})
	for _, blk := range []*types.Block{a, b} {
		_, err := svc.UpsertLinksFor(context.Background(), blk.ID, types.EntityReferenceMetadata{Items: []types.ReferenceItem{
			{EntityType: client, EntityID: "gone"},
			{EntityType: client, EntityID: "kept"},
		}})
		require.NoError(t, err)
	}

	removed, err := svc.RemoveStaleReferences(context.Background(), testutil.DefaultOrg, client, "gone")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := f.Store.ReferencesByEntity(context.Background(), client, "gone")
	require.NoError(t, err)
	assert.Empty(t, left)

	for _, blk := range []*types.Block{a, b} {
		stored, err := f.Store.ReferencesByBlock(context.Background(), blk.ID)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "items[0]", stored[0].Path)

		saved, err := f.Store.GetBlock(context.Background(), blk.ID)
		require.NoError(t, err)
		assert.Equal(t, []types.ReferenceItem{{EntityType: client, EntityID: "kept"}}, saved.Payload.(types.EntityReferencePayload).Meta.Items)
	}
}

func TestRemoveReferencesForBlock(t *testing.T) {
	f := testutil.NewFixture(t)
	list := f.LeafType(t, "client.list")
	svc := New(f.Store, nil)
	b := f.Block(t, list, types.EntityReferencePayload{})

	_, err := svc.UpsertLinksFor(context.Background(), b.ID, types.EntityReferenceMetadata{Items: []types.ReferenceItem{{EntityType: client, EntityID: "c1"}}})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveReferencesForBlock(context.Background(), b.ID))
	stored, err := f.Store.ReferencesByBlock(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)

	saved, err := f.Store.GetBlock(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Empty(t, saved.Payload.(types.EntityReferencePayload).Meta.Items)
}

func TestRemoveStaleReferencesKeepsOtherOrganisations(t *testing.T) {
	f := testutil.NewFixture(t)
	list := f.LeafType(t, "client.list")
	svc := New(f.Store, nil)

	own := f.Block(t, list, types.EntityReferencePayload{})
	foreign := f.BlockIn(t, "org_other", list, types.EntityReferencePayload{})
	for _, blk := range []*types.Block{own, foreign} {
		_, err := svc.UpsertLinksFor(context.Background(), blk.ID, types.EntityReferenceMetadata{Items: []types.ReferenceItem{
			{EntityType: client, EntityID: "gone"},
		}})
		require.NoError(t, err)
	}

	removed, err := svc.RemoveStaleReferences(context.Background(), testutil.DefaultOrg, client, "gone")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	left, err := f.Store.ReferencesByEntity(context.Background(), client, "gone")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, foreign.ID, left[0].BlockID)

	saved, err := f.Store.GetBlock(context.Background(), foreign.ID)
	require.NoError(t, err)
	assert.Len(t, saved.Payload.(types.EntityReferencePayload).Meta.Items, 1)
}
