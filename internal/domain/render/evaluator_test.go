package render

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/sandbox"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

func newPool(t *testing.T) *sandbox.Pool {
	t.Helper()
	pool, err := sandbox.NewPool(sandbox.DefaultConfig(), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func warning(w types.Warning) *types.Warning { return &w }

func sampleTree() *types.BlockTree {
	return &types.BlockTree{
		MaxDepth: 1,
		Root: &types.BlockNode{
			Block: &types.Block{
				ID: "blk_1",
				Payload: types.ContentPayload{Data: map[string]any{
					"title":  "Invoice 42",
					"status": "paid",
					"totals": map[string]any{"net": 100.0},
				}},
			},
			References: map[string][]*types.Reference{
				"clients": {
					{EntityType: "CLIENT", EntityID: "c1", Path: "clients[0]", Entity: types.Entity{"id": "c1", "name": "Acme", "vat": "X1"}},
					{EntityType: "CLIENT", EntityID: "c2", Path: "clients[1]", Warning: warning(types.WarningMissing)},
				},
			},
		},
	}
}

func structure() *types.BlockRenderStructure {
	return &types.BlockRenderStructure{
		Version: 2,
		Layout: types.LayoutGrid{
			Cols:      map[string]int{"lg": 12},
			RowHeight: 30,
			Items: []types.LayoutItem{
				{ID: "header", Breakpoints: map[string]types.Rect{"lg": {W: 12, H: 2}}},
				{ID: "ghost", Breakpoints: map[string]types.Rect{"lg": {Y: 2, W: 12, H: 1}}},
			},
		},
		Components: map[string]*types.BlockComponentNode{
			"header": {
				ID:    "header",
				Type:  "Header",
				Props: map[string]any{"variant": "large"},
				Bindings: []types.Binding{
					{Prop: "title.text", Source: types.DataPathSource{Path: "$.data/title"}},
					{Prop: "net", Source: types.DataPathSource{Path: "$.data/totals/net"}},
					{Prop: "absent", Source: types.DataPathSource{Path: "$.data/nope"}},
					{Prop: "clients", Source: types.RefSlotSource{Slot: "clients", Presentation: types.PresentationSummary, Projection: &types.Projection{Fields: []string{"name"}}}},
					{Prop: "total", Source: types.ComputedSource{Expression: "net * 1.2"}},
				},
				Slots: map[string][]string{"actions": {"pay", "void"}},
				SlotLayout: map[string]*types.LayoutGrid{
					"actions": {Items: []types.LayoutItem{{ID: "pay", Breakpoints: map[string]types.Rect{"lg": {W: 2, H: 1}}}}},
				},
			},
			"pay": {
				ID:      "pay",
				Type:    "Button",
				Visible: `payload.status !== "paid"`,
			},
			"void": {
				ID:      "void",
				Type:    "Button",
				Visible: `payload.status === "paid" && references.clients.length == 2`,
			},
		},
	}
}

func TestRenderBindingsAndPlaceholders(t *testing.T) {
	ev := New(newPool(t))

	out, err := ev.Render(context.Background(), sampleTree(), structure())
	require.NoError(t, err)
	assert.Equal(t, "blk_1", out.BlockID)
	assert.Equal(t, 2, out.Version)
	assert.Equal(t, 12, out.Cols["lg"])
	require.Len(t, out.Nodes, 2)

	header := out.Nodes[0]
	assert.True(t, header.Visible)
	assert.Equal(t, "large", header.Props["variant"])
	assert.Equal(t, map[string]any{"text": "Invoice 42"}, header.Props["title"])
	assert.Equal(t, 100.0, header.Props["net"])
	assert.Nil(t, header.Props["absent"])
	assert.Equal(t, 12, header.Layout["lg"].W)

	clients := header.Props["clients"].([]any)
	require.Len(t, clients, 2)
	assert.Equal(t, map[string]any{"name": "Acme"}, clients[0])
	assert.Equal(t, "MISSING", clients[1].(map[string]any)["warning"])

	require.Len(t, header.Errors, 1)
	assert.Contains(t, header.Errors[0], "computed binding is not supported")
	assert.NotContains(t, header.Props, "total")

	actions := header.Slots["actions"]
	require.Len(t, actions, 2)
	assert.False(t, actions[0].Visible)
	assert.Equal(t, 2, actions[0].Layout["lg"].W)
	assert.True(t, actions[1].Visible)

	ghost := out.Nodes[1]
	assert.True(t, ghost.Placeholder)
	assert.Equal(t, PlaceholderType, ghost.Type)
	assert.Equal(t, 1, ghost.Layout["lg"].H)
}

func TestRenderVisibleFailureKeepsNode(t *testing.T) {
	s := structure()
	s.Components["header"].Visible = "payload.missing.deeper"

	out, err := New(newPool(t)).Render(context.Background(), sampleTree(), s)
	require.NoError(t, err)
	header := out.Nodes[0]
	assert.True(t, header.Visible)
	require.NotEmpty(t, header.Errors)
	assert.Contains(t, header.Errors[0], "visible")
}

func TestRenderWithoutPoolTreatsExpressionsAsVisible(t *testing.T) {
	out, err := New(nil).Render(context.Background(), sampleTree(), structure())
	require.NoError(t, err)
	for _, n := range out.Nodes[0].Slots["actions"] {
		assert.True(t, n.Visible)
	}
}

func TestRenderInlineRespectsExpandDepth(t *testing.T) {
	tree := sampleTree()
	nested := &types.BlockTree{MaxDepth: 2, Root: &types.BlockNode{
		Block: &types.Block{ID: "blk_ref"},
		Children: map[string][]*types.BlockNode{
			"body": {{Block: &types.Block{ID: "blk_child"}}},
		},
	}}
	tree.Root.References["linked"] = []*types.Reference{{EntityType: types.EntityBlock, EntityID: "blk_ref", Tree: nested}}

	s := &types.BlockRenderStructure{
		Layout: types.LayoutGrid{Items: []types.LayoutItem{{ID: "list"}}},
		Components: map[string]*types.BlockComponentNode{
			"list": {ID: "list", Type: "List", Bindings: []types.Binding{
				{Prop: "rows", Source: types.RefSlotSource{Slot: "linked", Presentation: types.PresentationInline}},
			}},
		},
	}

	out, err := New(nil).Render(context.Background(), tree, s)
	require.NoError(t, err)
	rows := out.Nodes[0].Props["rows"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	pruned := row["tree"].(*types.BlockTree)
	assert.Equal(t, 0, pruned.MaxDepth)
	assert.True(t, pruned.Root.Truncated)
	assert.Empty(t, pruned.Root.Children)
	assert.Len(t, nested.Root.Children["body"], 1, "source tree untouched")
}

type stubResolver struct {
	calls int
}

func (s *stubResolver) ResolveReferences(_ context.Context, refs []*types.Reference) ([]*types.Reference, error) {
	s.calls++
	out := make([]*types.Reference, len(refs))
	for i, r := range refs {
		c := *r
		c.Warning = nil
		c.Entity = types.Entity{"id": r.EntityID, "name": "loaded " + r.EntityID}
		out[i] = &c
	}
	return out, nil
}

func TestRenderEagerComponentLoadsLazyReferences(t *testing.T) {
	tree := sampleTree()
	tree.Root.References["clients"] = []*types.Reference{
		{EntityType: "CLIENT", EntityID: "c9", Warning: warning(types.WarningRequiresLoading)},
	}
	s := &types.BlockRenderStructure{
		Layout: types.LayoutGrid{Items: []types.LayoutItem{{ID: "a"}, {ID: "b"}}},
		Components: map[string]*types.BlockComponentNode{
			"a": {ID: "a", Type: "List", FetchPolicy: types.FetchEager, Bindings: []types.Binding{
				{Prop: "rows", Source: types.RefSlotSource{Slot: "clients"}},
			}},
			"b": {ID: "b", Type: "List", FetchPolicy: types.FetchEager, Bindings: []types.Binding{
				{Prop: "rows", Source: types.RefSlotSource{Slot: "clients"}},
			}},
		},
	}

	resolver := &stubResolver{}
	out, err := New(nil, WithResolver(resolver)).Render(context.Background(), tree, s)
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls, "a slot is loaded once per render")
	for _, n := range out.Nodes {
		rows := n.Props["rows"].([]any)
		assert.Equal(t, "loaded c9", rows[0].(map[string]any)["name"])
	}
}

func TestRenderSlotCycleBecomesPlaceholder(t *testing.T) {
	s := &types.BlockRenderStructure{
		Layout: types.LayoutGrid{Items: []types.LayoutItem{{ID: "a"}}},
		Components: map[string]*types.BlockComponentNode{
			"a": {ID: "a", Type: "Box", Slots: map[string][]string{"inner": {"b"}}},
			"b": {ID: "b", Type: "Box", Slots: map[string][]string{"inner": {"a"}}},
		},
	}
	out, err := New(nil).Render(context.Background(), sampleTree(), s)
	require.NoError(t, err)
	loop := out.Nodes[0].Slots["inner"][0].Slots["inner"][0]
	assert.True(t, loop.Placeholder)
}

func TestRenderRequiresRoot(t *testing.T) {
	_, err := New(nil).Render(context.Background(), &types.BlockTree{}, structure())
	assert.True(t, errs.IsValidation(err))

	out, err := New(nil).Render(context.Background(), sampleTree(), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Nodes)
}
