package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/blocktree/backend/internal/domain/display"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/id"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/utils"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
)

// Registry handles block type persistence and lookup
type Registry struct {
	store     store.Store
	cache     sync.Map // id -> *types.BlockType
	cacheSize int64
	lintOpts  []display.Option
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	now       func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics records lint issues and cache size
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// WithLintOptions configures the publish-time linter
func WithLintOptions(opts ...display.Option) Option {
	return func(r *Registry) {
		r.lintOpts = append(r.lintOpts, opts...)
	}
}

// New creates a registry over st
func New(st store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  st,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lint runs the display linter with the registry's options
func (r *Registry) Lint(render *types.BlockRenderStructure) types.LintReport {
	report := display.NewLinter(r.lintOpts...).Report(render)
	for _, issue := range report.Issues {
		r.metrics.RecordLintIssue(string(issue.Level))
	}
	return report
}

// Publish stores draft as version 1 of a new key for orgID.
// An empty orgID publishes a system type.
func (r *Registry) Publish(ctx context.Context, orgID string, draft *types.BlockType) (*types.BlockType, error) {
	bt, err := r.prepare(draft, true)
	if err != nil {
		return nil, err
	}
	return r.publish(ctx, orgID, bt)
}

func (r *Registry) publish(ctx context.Context, orgID string, bt *types.BlockType) (*types.BlockType, error) {
	bt.OrganisationID = orgID
	bt.System = orgID == ""
	bt.Version = 1

	err := r.store.Atomic(ctx, func(tx store.Tx) error {
		versions, err := tx.BlockTypeVersions(ctx, bt.Key, orgID)
		if err != nil {
			return err
		}
		for _, v := range versions {
			if v.OrganisationID == orgID && v.System == bt.System {
				return errs.Conflict("block type", "key %q is already published, use update", bt.Key)
			}
		}
		return tx.PutBlockType(ctx, bt)
	})
	if err != nil {
		return nil, err
	}

	r.remember(bt)
	r.logger.Info("block type published",
		zap.String("key", bt.Key),
		zap.String("id", bt.ID),
		zap.String("organisation_id", orgID),
		zap.String("forked_from", bt.ForkedFrom))
	return bt, nil
}

// Update publishes draft as the next version of the type identified by typeID.
// typeID must be the newest version owned by orgID, archived or not.
func (r *Registry) Update(ctx context.Context, orgID, typeID string, draft *types.BlockType) (*types.BlockType, error) {
	bt, err := r.prepare(draft, false)
	if err != nil {
		return nil, err
	}

	err = r.store.Atomic(ctx, func(tx store.Tx) error {
		current, err := tx.GetBlockType(ctx, typeID)
		if err != nil {
			return err
		}
		if current.OrganisationID != orgID {
			if current.System {
				return errs.Validation("id", "system type %q cannot be updated, fork it instead", current.Key)
			}
			return errs.NotFound("block type", typeID)
		}
		if draft.Key != "" && draft.Key != current.Key {
			return errs.Validation("key", "key cannot change on update (have %q)", current.Key)
		}

		versions, err := tx.BlockTypeVersions(ctx, current.Key, orgID)
		if err != nil {
			return err
		}
		// archived versions still own their number
		newest := current.Version
		for _, v := range versions {
			if v.OrganisationID == current.OrganisationID && v.Version > newest {
				newest = v.Version
			}
		}
		if newest != current.Version {
			return errs.Conflict("block type", "%s is version %d, newest is %d", typeID, current.Version, newest)
		}

		bt.Key = current.Key
		bt.OrganisationID = current.OrganisationID
		bt.System = current.System
		bt.ForkedFrom = current.ForkedFrom
		bt.Version = newest + 1
		return tx.PutBlockType(ctx, bt)
	})
	if err != nil {
		return nil, err
	}

	r.remember(bt)
	r.logger.Info("block type updated",
		zap.String("key", bt.Key),
		zap.Int("version", bt.Version))
	return bt, nil
}

// Archive sets the archived flag of one version
func (r *Registry) Archive(ctx context.Context, orgID, typeID string, archived bool) (*types.BlockType, error) {
	var out *types.BlockType
	err := r.store.Atomic(ctx, func(tx store.Tx) error {
		bt, err := tx.GetBlockType(ctx, typeID)
		if err != nil {
			return err
		}
		if bt.OrganisationID != orgID {
			if bt.System && orgID != "" {
				return errs.Validation("id", "system type %q cannot be archived by an organisation", bt.Key)
			}
			return errs.NotFound("block type", typeID)
		}
		bt.Archived = archived
		out = bt
		return tx.PutBlockType(ctx, bt)
	})
	if err != nil {
		return nil, err
	}
	r.remember(out)
	return out, nil
}

// Get returns one version by id
func (r *Registry) Get(ctx context.Context, typeID string) (*types.BlockType, error) {
	if cached, ok := r.cache.Load(typeID); ok {
		return cached.(*types.BlockType), nil
	}
	bt, err := r.store.GetBlockType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	r.remember(bt)
	return bt, nil
}

// Latest returns the newest non-archived version of key visible to orgID.
// Organisation types shadow system types.
func (r *Registry) Latest(ctx context.Context, orgID, key string) (*types.BlockType, error) {
	versions, err := r.store.BlockTypeVersions(ctx, key, orgID)
	if err != nil {
		return nil, err
	}
	bt := latestOf(versions, orgID)
	if bt == nil {
		return nil, errs.NotFound("block type", key)
	}
	r.remember(bt)
	return bt, nil
}

// List returns the latest version of each key visible to orgID
func (r *Registry) List(ctx context.Context, orgID string, includeArchived bool) ([]*types.BlockType, error) {
	all, err := r.store.ListBlockTypes(ctx, orgID)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]*types.BlockType)
	var keys []string
	for _, bt := range all {
		if _, seen := byKey[bt.Key]; !seen {
			keys = append(keys, bt.Key)
		}
		byKey[bt.Key] = append(byKey[bt.Key], bt)
	}

	out := make([]*types.BlockType, 0, len(keys))
	for _, key := range keys {
		var pick *types.BlockType
		if includeArchived {
			pick = newestOf(byKey[key], orgID)
		} else {
			pick = latestOf(byKey[key], orgID)
		}
		if pick != nil {
			out = append(out, pick)
		}
	}
	return out, nil
}

// Fork copies a visible type into orgID as version 1 of newKey.
// An empty newKey keeps the source key, shadowing it for the organisation.
func (r *Registry) Fork(ctx context.Context, orgID, sourceID, newKey string) (*types.BlockType, error) {
	if orgID == "" {
		return nil, errs.Validation("organisation_id", "fork requires an organisation")
	}

	src, err := r.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !src.VisibleTo(orgID) {
		return nil, errs.NotFound("block type", sourceID)
	}

	draft := *src
	if newKey != "" {
		draft.Key = newKey
	}

	bt, err := r.prepare(&draft, true)
	if err != nil {
		return nil, err
	}
	bt.ForkedFrom = src.ID
	return r.publish(ctx, orgID, bt)
}

// prepare validates draft and returns a fresh copy with id and timestamps set
func (r *Registry) prepare(draft *types.BlockType, requireKey bool) (*types.BlockType, error) {
	if draft == nil {
		return nil, errs.Validation("", "block type is required")
	}

	bt := *draft
	if bt.Kind == "" {
		bt.Kind = types.PayloadContent
	}
	if bt.Strictness == "" {
		bt.Strictness = types.StrictnessStrict
	}

	if err := r.validate(&bt, requireKey); err != nil {
		return nil, err
	}

	if bt.Display.Render != nil {
		report := r.Lint(bt.Display.Render)
		if !report.Valid {
			verr := errs.Validation("display.render", "render structure has lint errors")
			for _, issue := range report.Issues {
				if issue.Level == types.LintError {
					verr.Issues = append(verr.Issues, errs.Issue{Path: issue.Path, Message: issue.Message})
				}
			}
			return nil, verr
		}
	}

	bt.ID = id.NewBlockTypeID().String()
	bt.CreatedAt = r.now()
	bt.Archived = false
	bt.ForkedFrom = ""
	return &bt, nil
}

func (r *Registry) validate(bt *types.BlockType, requireKey bool) error {
	if requireKey || bt.Key != "" {
		if err := utils.ValidateKey(bt.Key); err != nil {
			return errs.Validation("key", "%v", err)
		}
	}
	if err := utils.ValidateName(bt.Name, "name"); err != nil {
		return errs.Validation("name", "%v", err)
	}
	if err := utils.ValidateDescription(bt.Description, "description", false); err != nil {
		return errs.Validation("description", "%v", err)
	}
	if !bt.Kind.Valid() {
		return errs.Validation("kind", "unknown payload kind %q", bt.Kind)
	}
	switch bt.Strictness {
	case types.StrictnessStrict, types.StrictnessSoft:
	default:
		return errs.Validation("strictness", "unknown strictness %q", bt.Strictness)
	}
	if bt.Schema != nil && bt.Schema.Type != "" && bt.Schema.Type != "object" {
		return errs.Validation("schema.type", "root schema must be an object, got %q", bt.Schema.Type)
	}
	if bt.Kind != types.PayloadContent && bt.Schema != nil && len(bt.Schema.Properties) > 0 {
		return errs.Validation("schema", "%s types carry no inline data schema", bt.Kind)
	}
	if n := bt.Nesting; n != nil {
		if n.Max < 0 {
			return errs.Validation("nesting.max", "must not be negative")
		}
		for i, key := range n.AllowedTypes {
			if err := utils.ValidateKey(key); err != nil {
				return errs.Validation(fmt.Sprintf("nesting.allowed_types[%d]", i), "%v", err)
			}
		}
	}
	return nil
}

// remember caches bt, replacing any previous copy of the same id
func (r *Registry) remember(bt *types.BlockType) {
	if _, loaded := r.cache.Swap(bt.ID, bt); !loaded {
		r.metrics.SetBlockTypesCached(int(atomic.AddInt64(&r.cacheSize, 1)))
	}
}

// latestOf picks the newest non-archived version, preferring orgID's own rows
func latestOf(versions []*types.BlockType, orgID string) *types.BlockType {
	var own, system *types.BlockType
	for _, v := range versions {
		if v.Archived {
			continue
		}
		if orgID != "" && v.OrganisationID == orgID {
			if own == nil || v.Version > own.Version {
				own = v
			}
		} else if system == nil || v.Version > system.Version {
			system = v
		}
	}
	if own != nil {
		return own
	}
	return system
}

// newestOf is latestOf including archived versions
func newestOf(versions []*types.BlockType, orgID string) *types.BlockType {
	var own, system *types.BlockType
	for _, v := range versions {
		if orgID != "" && v.OrganisationID == orgID {
			if own == nil || v.Version > own.Version {
				own = v
			}
		} else if system == nil || v.Version > system.Version {
			system = v
		}
	}
	if own != nil {
		return own
	}
	return system
}
