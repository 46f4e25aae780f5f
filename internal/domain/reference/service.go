package reference

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/paths"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
)

// DefaultExpandDepth bounds BLOCK reference expansion when no budget is given
const DefaultExpandDepth = 3

// TreeBuilder builds the tree of a referenced block. budget is the number of
// further reference expansions allowed below that tree.
type TreeBuilder interface {
	BuildTree(ctx context.Context, blockID string, opts types.TreeOptions, budget int) (*types.BlockTree, error)
}

// Service finds, resolves and maintains stored references
type Service struct {
	store     store.Store
	resolvers *Resolvers
	trees     TreeBuilder
	depth     int
	tracer    *tracing.Tracer
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics records resolver calls, warnings and stale sweeps
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithTracer wraps each resolver call in a span
func WithTracer(tracer *tracing.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithExpandDepth sets the default BLOCK expansion budget
func WithExpandDepth(depth int) Option {
	return func(s *Service) {
		s.depth = depth
	}
}

// New creates a reference service
func New(st store.Store, resolvers *Resolvers, opts ...Option) *Service {
	if resolvers == nil {
		resolvers = NewResolvers()
	}
	s := &Service{
		store:     st,
		resolvers: resolvers,
		depth:     DefaultExpandDepth,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTreeBuilder enables nested trees on resolved BLOCK references
func (s *Service) SetTreeBuilder(trees TreeBuilder) {
	s.trees = trees
}

// Resolvers returns the resolver registry
func (s *Service) Resolvers() *Resolvers {
	return s.resolvers
}

// FindBlockReferences lists the references declared by meta, in declared
// order, and resolves them when the fetch policy is EAGER.
func (s *Service) FindBlockReferences(ctx context.Context, blockID string, meta *types.EntityReferenceMetadata) ([]*types.Reference, error) {
	return s.FindWithPolicy(ctx, blockID, meta, meta.Policy(), s.depth)
}

// FindWithPolicy is FindBlockReferences with an explicit policy and BLOCK expansion budget
func (s *Service) FindWithPolicy(ctx context.Context, blockID string, meta *types.EntityReferenceMetadata, policy types.FetchPolicy, budget int) ([]*types.Reference, error) {
	if meta == nil {
		return nil, nil
	}
	stored, err := s.store.ReferencesByBlock(ctx, blockID)
	if err != nil {
		return nil, err
	}

	slot := meta.SlotKey()
	byEntity := make(map[entityKey][]*types.StoredReference)
	for _, row := range stored {
		if row.Slot != slot {
			continue
		}
		k := entityKey{row.EntityType, row.EntityID}
		byEntity[k] = append(byEntity[k], row)
	}

	refs := make([]*types.Reference, len(meta.Items))
	for i, item := range meta.Items {
		k := entityKey{item.EntityType, item.EntityID}
		var ref *types.Reference
		if rows := byEntity[k]; len(rows) > 0 {
			byEntity[k] = rows[1:]
			ref = types.ReferenceFromStored(rows[0])
			ref.WithWarning(types.WarningRequiresLoading)
		} else {
			ref = &types.Reference{
				EntityType: item.EntityType,
				EntityID:   item.EntityID,
				Path:       paths.Item(slot, i),
				Ownership:  ownershipOf(item),
			}
			ref.WithWarning(types.WarningMissing)
		}
		idx := i
		ref.OrderIndex = &idx
		ref.Expand = item.Expand
		refs[i] = ref
	}

	if policy != types.FetchEager {
		return refs, nil
	}
	return s.ResolveWithin(ctx, refs, budget)
}

// ResolveReferences resolves refs with the default expansion budget
func (s *Service) ResolveReferences(ctx context.Context, refs []*types.Reference) ([]*types.Reference, error) {
	return s.ResolveWithin(ctx, refs, s.depth)
}

type entityKey struct {
	entityType types.EntityType
	entityID   string
}

type fetchGroup struct {
	entityType types.EntityType
	ids        []string
	resolver   Resolver
	found      map[string]types.Entity
	err        error
}

// ResolveWithin resolves refs with one Fetch per entity type. Types are
// fetched concurrently and merged back in input order. References without a
// stored row stay MISSING. budget bounds BLOCK tree expansion; at zero a
// BLOCK reference resolves to its entity without a tree.
func (s *Service) ResolveWithin(ctx context.Context, refs []*types.Reference, budget int) ([]*types.Reference, error) {
	out := make([]*types.Reference, len(refs))
	var groups []*fetchGroup
	index := make(map[types.EntityType]*fetchGroup)
	queued := make(map[entityKey]bool)

	for i, ref := range refs {
		c := *ref
		out[i] = &c
		if c.ID == "" && c.Warning != nil && *c.Warning == types.WarningMissing {
			continue
		}
		g, ok := index[c.EntityType]
		if !ok {
			g = &fetchGroup{entityType: c.EntityType}
			g.resolver, _ = s.resolvers.Get(c.EntityType)
			index[c.EntityType] = g
			groups = append(groups, g)
		}
		k := entityKey{c.EntityType, c.EntityID}
		if !queued[k] {
			queued[k] = true
			g.ids = append(g.ids, c.EntityID)
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	for _, g := range groups {
		if g.resolver == nil {
			continue
		}
		g := g
		eg.Go(func() error {
			g.found, g.err = s.fetch(gctx, g)
			if g.err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, ref := range out {
		g, ok := index[ref.EntityType]
		if !ok {
			continue
		}
		switch {
		case g.resolver == nil:
			ref.WithWarning(types.WarningUnsupported)
		case g.err != nil:
			ref.WithWarning(types.WarningRequiresLoading)
		default:
			entity, found := g.found[ref.EntityID]
			if !found {
				ref.WithWarning(types.WarningMissing)
				break
			}
			ref.Warning = nil
			ref.Entity = entity
			if ref.EntityType == types.EntityBlock {
				s.expand(ctx, ref, budget)
			}
		}
	}

	for _, ref := range out {
		if ref.Warning != nil {
			s.metrics.RecordReferenceWarning(string(*ref.Warning))
		}
	}
	return out, nil
}

func (s *Service) fetch(ctx context.Context, g *fetchGroup) (found map[string]types.Entity, err error) {
	start := time.Now()
	err = s.tracer.Trace(ctx, "resolve "+string(g.entityType), func(ctx context.Context, span *tracing.Span) error {
		span.SetTag("entity_type", string(g.entityType))
		found, err = g.resolver.Fetch(ctx, g.ids)
		return err
	})

	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = "canceled"
		}
		fields := append([]zap.Field{
			zap.String("entity_type", string(g.entityType)),
			zap.Int("ids", len(g.ids)),
			zap.Error(err),
		}, tracing.Fields(ctx)...)
		s.logger.Warn("resolver fetch failed", fields...)
	}
	s.metrics.RecordResolverCall(string(g.entityType), status, time.Since(start))
	return found, err
}

// expand attaches the tree of a resolved BLOCK reference, spending one unit of budget
func (s *Service) expand(ctx context.Context, ref *types.Reference, budget int) {
	if s.trees == nil || budget <= 0 {
		return
	}
	opts := types.TreeOptions{}
	if ref.Expand != nil {
		opts = *ref.Expand
	}
	remaining := budget - 1
	if opts.MaxDepth > remaining {
		opts.MaxDepth = remaining
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}
	if remaining == 0 {
		opts.ExpandRefs = false
	}

	tree, err := s.trees.BuildTree(ctx, ref.EntityID, opts, remaining)
	if err != nil {
		s.logger.Warn("failed to expand block reference",
			zap.String("block_id", ref.EntityID),
			zap.Error(err))
		return
	}
	ref.Entity = nil
	ref.Tree = tree
}

func ownershipOf(item types.ReferenceItem) types.Ownership {
	if item.Ownership == "" {
		return types.OwnershipLinked
	}
	return item.Ownership
}
