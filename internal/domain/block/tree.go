package block

import (
	"context"
	"fmt"
	"sort"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// GetTree returns the block with its owned sub-trees down to opts.MaxDepth.
// With ExpandRefs unset references are listed without being resolved;
// otherwise each list follows its own fetch policy.
func (s *Service) GetTree(ctx context.Context, orgID, blockID string, opts types.TreeOptions) (*types.BlockTree, error) {
	if opts.MaxDepth < 0 || opts.MaxDepth > s.depthLimit {
		return nil, errs.Validation("max_depth", "must be between 0 and %d", s.depthLimit)
	}
	b, err := s.load(ctx, s.store, orgID, blockID)
	if err != nil {
		return nil, err
	}
	return s.tree(ctx, b, opts, opts.MaxDepth)
}

// BuildTree builds the tree of a referenced block with budget reference
// expansions left
func (s *Service) BuildTree(ctx context.Context, blockID string, opts types.TreeOptions, budget int) (*types.BlockTree, error) {
	b, err := s.store.GetBlock(ctx, blockID)
	if err != nil {
		return nil, err
	}
	return s.tree(ctx, b, opts, budget)
}

// Render evaluates the block's display against its tree
func (s *Service) Render(ctx context.Context, orgID, blockID string, maxDepth int) (*types.RenderTree, error) {
	tree, err := s.GetTree(ctx, orgID, blockID, types.TreeOptions{MaxDepth: maxDepth, ExpandRefs: true})
	if err != nil {
		return nil, err
	}
	bt, err := s.types.Get(ctx, tree.Root.Block.TypeID)
	if err != nil {
		return nil, err
	}
	return s.renderer.Render(ctx, tree, bt.Display.Render)
}

func (s *Service) tree(ctx context.Context, b *types.Block, opts types.TreeOptions, budget int) (*types.BlockTree, error) {
	root, err := s.node(ctx, b, 0, opts, budget)
	if err != nil {
		return nil, err
	}
	return &types.BlockTree{MaxDepth: opts.MaxDepth, ExpandRefs: opts.ExpandRefs, Root: root}, nil
}

// node assembles one level. depth counts owned levels from the tree root.
func (s *Service) node(ctx context.Context, b *types.Block, depth int, opts types.TreeOptions, budget int) (*types.BlockNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := &types.BlockNode{Block: b}

	groups, err := s.children.FindOwnedBlocks(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if depth >= opts.MaxDepth {
		n.Truncated = len(groups) > 0
	} else if len(groups) > 0 {
		n.Children = make(map[string][]*types.BlockNode, len(groups))
		for _, slot := range sortedSlots(groups) {
			for _, edge := range groups[slot] {
				child, err := s.store.GetBlock(ctx, edge.ChildID)
				if errs.IsNotFound(err) {
					n.Warnings = append(n.Warnings, fmt.Sprintf("child %s in %s is missing", edge.ChildID, edge.Path))
					continue
				}
				if err != nil {
					return nil, err
				}
				childNode, err := s.node(ctx, child, depth+1, opts, budget)
				if err != nil {
					return nil, err
				}
				n.Children[slot] = append(n.Children[slot], childNode)
			}
		}
	}

	refs, err := s.references(ctx, b, opts, budget)
	if err != nil {
		return nil, err
	}
	n.References = refs
	return n, nil
}

func (s *Service) references(ctx context.Context, b *types.Block, opts types.TreeOptions, budget int) (map[string][]*types.Reference, error) {
	var meta *types.EntityReferenceMetadata
	switch p := b.Payload.(type) {
	case types.EntityReferencePayload:
		m := p.Meta
		meta = &m
	case types.BlockReferencePayload:
		meta = p.Meta.AsList()
	case types.ContentPayload, nil:
		return nil, nil
	}
	if meta == nil || len(meta.Items) == 0 {
		return nil, nil
	}

	policy := types.FetchLazy
	if opts.ExpandRefs {
		policy = meta.Policy()
	}
	refs, err := s.refs.FindWithPolicy(ctx, b.ID, meta, policy, budget)
	if err != nil {
		return nil, err
	}
	return map[string][]*types.Reference{meta.SlotKey(): refs}, nil
}

func sortedSlots(groups map[string][]*types.Edge) []string {
	names := make([]string, 0, len(groups))
	for slot := range groups {
		names = append(names, slot)
	}
	sort.Strings(names)
	return names
}
