package block

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/blocktree/backend/internal/domain/children"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/reference"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/render"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/id"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/utils"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
)

// DefaultDepthLimit caps the maxDepth a caller may request
const DefaultDepthLimit = 10

// TypeSource resolves block types by id or by key
type TypeSource interface {
	Get(ctx context.Context, typeID string) (*types.BlockType, error)
	Latest(ctx context.Context, orgID, key string) (*types.BlockType, error)
}

// Service manages blocks
type Service struct {
	store      store.Store
	types      TypeSource
	children   *children.Service
	refs       *reference.Service
	renderer   *render.Evaluator
	validator  *Validator
	depthLimit int
	logger     *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRenderer sets the evaluator used by Render
func WithRenderer(renderer *render.Evaluator) Option {
	return func(s *Service) {
		s.renderer = renderer
	}
}

// WithDepthLimit caps requested tree depths
func WithDepthLimit(limit int) Option {
	return func(s *Service) {
		s.depthLimit = limit
	}
}

// New creates a block service and registers it as the tree builder of refs
func New(st store.Store, typeSource TypeSource, kids *children.Service, refs *reference.Service, opts ...Option) *Service {
	s := &Service{
		store:      st,
		types:      typeSource,
		children:   kids,
		refs:       refs,
		validator:  NewValidator(),
		depthLimit: DefaultDepthLimit,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.renderer == nil {
		s.renderer = render.New(nil, render.WithResolver(refs))
	}
	refs.SetTreeBuilder(s)
	return s
}

// CreateRequest creates a block of a type given by id or key. Data is merged
// over the schema defaults of content types; References and Link seed the
// metadata of reference types.
type CreateRequest struct {
	TypeID     string                         `json:"type_id,omitempty"`
	TypeKey    string                         `json:"type_key,omitempty"`
	Name       string                         `json:"name,omitempty"`
	Data       map[string]any                 `json:"data,omitempty"`
	References *types.EntityReferenceMetadata `json:"references,omitempty"`
	Link       *types.BlockReferenceMetadata  `json:"link,omitempty"`
}

// UpdateRequest changes a block. Data is a merge patch over the current data.
type UpdateRequest struct {
	Name       *string                        `json:"name,omitempty"`
	Data       map[string]any                 `json:"data,omitempty"`
	References *types.EntityReferenceMetadata `json:"references,omitempty"`
	Link       *types.BlockReferenceMetadata  `json:"link,omitempty"`
}

// Create validates and stores a new top-level block
func (s *Service) Create(ctx context.Context, orgID string, req CreateRequest) (*types.Block, error) {
	if orgID == "" {
		return nil, errs.Validation("organisation_id", "organisation is required")
	}
	bt, err := s.resolveType(ctx, orgID, req)
	if err != nil {
		return nil, err
	}
	if bt.Archived {
		return nil, errs.Validation("type", "block type %s is archived", bt.ID)
	}

	name := req.Name
	if name == "" {
		name = bt.Name
	}
	if err := utils.ValidateName(name, "name"); err != nil {
		return nil, errs.Validation("name", "%v", err)
	}

	payload, err := s.payloadFor(bt, nil, req.Data, req.References, req.Link)
	if err != nil {
		return nil, err
	}

	ts := now()
	b := &types.Block{
		ID:             id.NewBlockID().String(),
		OrganisationID: orgID,
		Name:           name,
		TypeID:         bt.ID,
		TypeKey:        bt.Key,
		TypeVersion:    bt.Version,
		Payload:        payload,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}

	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := reference.SyncBlock(ctx, tx, b); err != nil {
			return err
		}
		return tx.PutBlock(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("block created",
		zap.String("block_id", b.ID),
		zap.String("organisation_id", orgID),
		zap.String("type", fmt.Sprintf("%s@%d", bt.Key, bt.Version)))
	return b, nil
}

// Update applies req to a block. The block is validated against the type
// version it was created with.
func (s *Service) Update(ctx context.Context, orgID, blockID string, req UpdateRequest) (*types.Block, error) {
	var out *types.Block
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		b, err := s.load(ctx, tx, orgID, blockID)
		if err != nil {
			return err
		}
		if b.Archived {
			return errs.Validation("archived", "archived block %s cannot be updated", blockID)
		}
		bt, err := s.types.Get(ctx, b.TypeID)
		if err != nil {
			return err
		}

		if req.Name != nil {
			if err := utils.ValidateName(*req.Name, "name"); err != nil {
				return errs.Validation("name", "%v", err)
			}
			b.Name = *req.Name
		}

		payload, err := s.payloadFor(bt, b.Payload, req.Data, req.References, req.Link)
		if err != nil {
			return err
		}
		b.Payload = payload
		b.UpdatedAt = now()

		if _, err := reference.SyncBlock(ctx, tx, b); err != nil {
			return err
		}
		if err := tx.PutBlock(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// payloadFor builds the next payload of a block of type bt from its current
// payload and the requested changes
func (s *Service) payloadFor(bt *types.BlockType, current types.Payload, data map[string]any, refs *types.EntityReferenceMetadata, link *types.BlockReferenceMetadata) (types.Payload, error) {
	kind := bt.Kind
	if kind == "" {
		kind = types.PayloadContent
	}

	switch kind {
	case types.PayloadContent:
		if refs != nil || link != nil {
			return nil, errs.Validation("payload", "content blocks hold no references")
		}
		base := bt.Schema.Defaults()
		if p, ok := current.(types.ContentPayload); ok {
			base = p.Data
		}
		return s.content(bt, base, data)
	case types.PayloadEntityReference:
		if data != nil || link != nil {
			return nil, errs.Validation("payload", "entity reference blocks take a references list")
		}
		p, _ := current.(types.EntityReferencePayload)
		if refs != nil {
			p.Meta = refs.Clone()
		}
		return p, nil
	case types.PayloadBlockReference:
		if data != nil || refs != nil {
			return nil, errs.Validation("payload", "block reference blocks take a single link")
		}
		p, _ := current.(types.BlockReferencePayload)
		if link != nil {
			p.Meta = *link
			if link.Item != nil {
				item := *link.Item
				p.Meta.Item = &item
			}
		}
		return p, nil
	default:
		return nil, errs.Validation("type", "block type %s has unknown kind %q", bt.ID, bt.Kind)
	}
}

// content runs the validated merge of patch over base
func (s *Service) content(bt *types.BlockType, base, patch map[string]any) (types.ContentPayload, error) {
	data := Merge(base, patch)
	s.validator.Sanitize(bt.Schema, data)
	if err := utils.ValidatePayload(data); err != nil {
		return types.ContentPayload{}, errs.Validation("data", "%v", err)
	}

	issues := s.validator.Validate(bt.Schema, data)
	if len(issues) > 0 && bt.Strictness != types.StrictnessSoft {
		return types.ContentPayload{}, &errs.ValidationError{
			Field:   "data",
			Message: fmt.Sprintf("payload does not match %s@%d", bt.Key, bt.Version),
			Issues:  issues,
		}
	}

	return types.ContentPayload{
		Data: data,
		Meta: types.ValidationMeta{
			TypeVersion: bt.Version,
			Valid:       len(issues) == 0,
			Issues:      issues,
			ValidatedAt: now(),
		},
	}, nil
}

// Archive sets the archived flag of a block
func (s *Service) Archive(ctx context.Context, orgID, blockID string, archived bool) (*types.Block, error) {
	var out *types.Block
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		b, err := s.load(ctx, tx, orgID, blockID)
		if err != nil {
			return err
		}
		if b.Archived == archived {
			out = b
			return nil
		}
		b.Archived = archived
		b.UpdatedAt = now()
		if err := tx.PutBlock(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a block. Children become top-level, the parent slot is
// renumbered and every reference from or to the block is removed.
func (s *Service) Delete(ctx context.Context, orgID, blockID string) error {
	var swept int
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := s.load(ctx, tx, orgID, blockID); err != nil {
			return err
		}
		if err := children.DetachAll(ctx, tx, blockID); err != nil {
			return err
		}
		if err := reference.DeleteAllFor(ctx, tx, blockID); err != nil {
			return err
		}
		var err error
		if swept, err = reference.RemoveStaleIn(ctx, tx, "", types.EntityBlock, blockID); err != nil {
			return err
		}
		return tx.DeleteBlock(ctx, blockID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("block deleted",
		zap.String("block_id", blockID),
		zap.Int("stale_references", swept))
	return nil
}

// Get returns a block of orgID
func (s *Service) Get(ctx context.Context, orgID, blockID string) (*types.Block, error) {
	return s.load(ctx, s.store, orgID, blockID)
}

// List returns the blocks of orgID
func (s *Service) List(ctx context.Context, orgID string) ([]*types.Block, error) {
	return s.store.ListBlocks(ctx, orgID)
}

func (s *Service) resolveType(ctx context.Context, orgID string, req CreateRequest) (*types.BlockType, error) {
	switch {
	case req.TypeID != "":
		bt, err := s.types.Get(ctx, req.TypeID)
		if err != nil {
			return nil, err
		}
		if !bt.VisibleTo(orgID) {
			return nil, errs.NotFound("block type", req.TypeID)
		}
		return bt, nil
	case req.TypeKey != "":
		return s.types.Latest(ctx, orgID, req.TypeKey)
	default:
		return nil, errs.Validation("type_id", "type_id or type_key is required")
	}
}

// load reads a block, hiding blocks of other organisations. An empty orgID
// skips the check.
func (s *Service) load(ctx context.Context, r store.Reader, orgID, blockID string) (*types.Block, error) {
	b, err := r.GetBlock(ctx, blockID)
	if err != nil {
		return nil, err
	}
	if orgID != "" && b.OrganisationID != orgID {
		return nil, errs.NotFound("block", blockID)
	}
	return b, nil
}

func now() time.Time {
	return time.Now().UTC()
}
