package render

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/sandbox"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/paths"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// PlaceholderType is the component type of nodes standing in for missing components
const PlaceholderType = "placeholder"

// RefResolver resolves references left unloaded by a lazy tree
type RefResolver interface {
	ResolveReferences(ctx context.Context, refs []*types.Reference) ([]*types.Reference, error)
}

// Evaluator renders block trees
type Evaluator struct {
	pool     *sandbox.Pool
	resolver RefResolver
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithResolver lets EAGER components load references the tree left lazy
func WithResolver(resolver RefResolver) Option {
	return func(e *Evaluator) {
		e.resolver = resolver
	}
}

// WithLogger sets the evaluator logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithMetrics records expression outcomes and render sizes
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(e *Evaluator) {
		e.metrics = metrics
	}
}

// New creates an evaluator. A nil pool treats every visible expression as true.
func New(pool *sandbox.Pool, opts ...Option) *Evaluator {
	e := &Evaluator{
		pool:   pool,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// renderContext is the state of one render call
type renderContext struct {
	structure *types.BlockRenderStructure
	payload   map[string]any
	refs      map[string][]*types.Reference
	loaded    map[string]bool
	scope     sandbox.Scope
	nodes     int
}

// Render evaluates structure against the root of tree
func (e *Evaluator) Render(ctx context.Context, tree *types.BlockTree, structure *types.BlockRenderStructure) (*types.RenderTree, error) {
	if tree == nil || tree.Root == nil || tree.Root.Block == nil {
		return nil, errs.Validation("tree", "tree has no root block")
	}
	root := tree.Root
	out := &types.RenderTree{BlockID: root.Block.ID, Nodes: []*types.RenderNode{}}
	if structure == nil {
		return out, nil
	}
	out.Version = structure.Version
	out.Cols = structure.Layout.Cols
	out.RowHeight = structure.Layout.RowHeight

	rc := &renderContext{
		structure: structure,
		payload:   root.Block.Data(),
		refs:      make(map[string][]*types.Reference, len(root.References)),
		loaded:    make(map[string]bool),
	}
	if rc.payload == nil {
		rc.payload = map[string]any{}
	}
	for slot, list := range root.References {
		rc.refs[slot] = list
	}
	rc.scope = sandbox.Scope{
		"payload":    rc.payload,
		"data":       rc.payload,
		"references": scopeReferences(rc.refs),
	}

	for _, item := range structure.Layout.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := e.component(ctx, rc, item.ID, map[string]bool{})
		node.Layout = item.Breakpoints
		out.Nodes = append(out.Nodes, node)
	}

	e.metrics.ObserveRenderNodes(rc.nodes)
	return out, nil
}

// component renders one component and its slots. active holds the component
// ids on the current path to cut slot cycles.
func (e *Evaluator) component(ctx context.Context, rc *renderContext, id string, active map[string]bool) *types.RenderNode {
	rc.nodes++
	comp, ok := rc.structure.Components[id]
	if !ok || comp == nil {
		return placeholder(id, fmt.Sprintf("component %q is not defined", id))
	}
	if active[id] {
		return placeholder(id, fmt.Sprintf("component %q contains itself", id))
	}

	node := &types.RenderNode{
		ID:      id,
		Type:    comp.Type,
		Props:   types.CloneMap(comp.Props),
		Visible: true,
	}
	if node.Props == nil {
		node.Props = map[string]any{}
	}

	if comp.Visible != "" {
		visible, err := e.visible(ctx, comp.Visible, rc.scope)
		if err != nil {
			node.Errors = append(node.Errors, fmt.Sprintf("visible: %v", err))
		} else if !visible {
			node.Visible = false
			return node
		}
	}

	for _, b := range comp.Bindings {
		value, err := e.bind(ctx, rc, comp, b)
		if err != nil {
			node.Errors = append(node.Errors, fmt.Sprintf("binding %s: %v", b.Prop, err))
			continue
		}
		paths.Assign(node.Props, b.Prop, value)
	}

	if len(comp.Slots) == 0 {
		return node
	}
	active[id] = true
	defer delete(active, id)

	node.Slots = make(map[string][]*types.RenderNode, len(comp.Slots))
	for _, slot := range sortedSlots(comp.Slots) {
		layout := slotLayout(comp.SlotLayout[slot])
		children := make([]*types.RenderNode, 0, len(comp.Slots[slot]))
		for _, childID := range comp.Slots[slot] {
			child := e.component(ctx, rc, childID, active)
			if grid, ok := layout[childID]; ok {
				child.Layout = grid
			}
			children = append(children, child)
		}
		node.Slots[slot] = children
	}
	return node
}

func (e *Evaluator) visible(ctx context.Context, expr string, scope sandbox.Scope) (bool, error) {
	if e.pool == nil {
		return true, nil
	}
	visible, err := e.pool.EvalBool(ctx, expr, scope)
	switch {
	case err != nil:
		e.metrics.RecordExpression("error")
		e.logger.Debug("visible expression failed", zap.String("expression", expr), zap.Error(err))
	case visible:
		e.metrics.RecordExpression("true")
	default:
		e.metrics.RecordExpression("false")
	}
	return visible, err
}

// bind evaluates one binding. Sources are matched exhaustively.
func (e *Evaluator) bind(ctx context.Context, rc *renderContext, comp *types.BlockComponentNode, b types.Binding) (any, error) {
	switch src := b.Source.(type) {
	case types.DataPathSource:
		value, ok := paths.Lookup(rc.payload, src.Path)
		if !ok {
			return nil, nil
		}
		return value, nil
	case types.RefSlotSource:
		refs := e.slotReferences(ctx, rc, comp, src.Slot)
		return present(refs, src), nil
	case types.ComputedSource:
		return nil, &errs.UnsupportedError{Feature: "computed binding"}
	case nil:
		return nil, fmt.Errorf("binding has no source")
	default:
		return nil, fmt.Errorf("unknown binding source %T", b.Source)
	}
}

// slotReferences returns the references of slot, resolving them first when
// the component asks for EAGER data and the tree left them unloaded.
func (e *Evaluator) slotReferences(ctx context.Context, rc *renderContext, comp *types.BlockComponentNode, slot string) []*types.Reference {
	refs := rc.refs[slot]
	if comp.FetchPolicy != types.FetchEager || e.resolver == nil || rc.loaded[slot] || !needsLoading(refs) {
		return refs
	}
	rc.loaded[slot] = true

	resolved, err := e.resolver.ResolveReferences(ctx, refs)
	if err != nil {
		e.logger.Warn("failed to load slot references", zap.String("slot", slot), zap.Error(err))
		return refs
	}
	rc.refs[slot] = resolved
	return resolved
}

func needsLoading(refs []*types.Reference) bool {
	for _, r := range refs {
		if r.Warning != nil && *r.Warning == types.WarningRequiresLoading {
			return true
		}
	}
	return false
}

// present shapes references for a RefSlot binding
func present(refs []*types.Reference, src types.RefSlotSource) []any {
	out := make([]any, 0, len(refs))
	for _, r := range refs {
		if src.Presentation == types.PresentationInline {
			out = append(out, inline(r, src.ExpandDepth))
			continue
		}
		out = append(out, summary(r, src.Projection))
	}
	return out
}

func summary(r *types.Reference, projection *types.Projection) map[string]any {
	if r.Entity != nil {
		return map[string]any(projection.Apply(r.Entity))
	}
	item := map[string]any{
		"id":          r.EntityID,
		"entity_type": string(r.EntityType),
	}
	if r.Tree != nil && r.Tree.Root != nil && r.Tree.Root.Block != nil {
		item["name"] = r.Tree.Root.Block.Name
		item["type_key"] = r.Tree.Root.Block.TypeKey
	}
	if r.Warning != nil {
		item["warning"] = string(*r.Warning)
	}
	return item
}

func inline(r *types.Reference, expandDepth int) map[string]any {
	item := map[string]any{
		"id":          r.EntityID,
		"entity_type": string(r.EntityType),
		"path":        r.Path,
	}
	if r.Entity != nil {
		item["entity"] = map[string]any(r.Entity)
	}
	if r.Tree != nil {
		item["tree"] = pruneTree(r.Tree, expandDepth)
	}
	if r.Warning != nil {
		item["warning"] = string(*r.Warning)
	}
	return item
}

// pruneTree copies tree keeping depth levels of children below the root
func pruneTree(tree *types.BlockTree, depth int) *types.BlockTree {
	if depth < 0 {
		depth = 0
	}
	out := *tree
	if out.MaxDepth > depth {
		out.MaxDepth = depth
	}
	out.Root = pruneNode(tree.Root, depth)
	return &out
}

func pruneNode(n *types.BlockNode, depth int) *types.BlockNode {
	if n == nil {
		return nil
	}
	out := *n
	if depth == 0 {
		if len(n.Children) > 0 {
			out.Truncated = true
		}
		out.Children = nil
		return &out
	}
	out.Children = make(map[string][]*types.BlockNode, len(n.Children))
	for slot, list := range n.Children {
		pruned := make([]*types.BlockNode, len(list))
		for i, child := range list {
			pruned[i] = pruneNode(child, depth-1)
		}
		out.Children[slot] = pruned
	}
	return &out
}

// scopeReferences exposes references to expressions as plain maps
func scopeReferences(refs map[string][]*types.Reference) map[string]any {
	out := make(map[string]any, len(refs))
	for slot, list := range refs {
		out[slot] = present(list, types.RefSlotSource{Slot: slot})
	}
	return out
}

func placeholder(id, reason string) *types.RenderNode {
	return &types.RenderNode{
		ID:          id,
		Type:        PlaceholderType,
		Props:       map[string]any{},
		Visible:     true,
		Placeholder: true,
		Errors:      []string{reason},
	}
}

func slotLayout(grid *types.LayoutGrid) map[string]map[string]types.Rect {
	if grid == nil {
		return nil
	}
	out := make(map[string]map[string]types.Rect, len(grid.Items))
	for _, item := range grid.Items {
		out[item.ID] = item.Breakpoints
	}
	return out
}

func sortedSlots(slots map[string][]string) []string {
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
