package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// ownedBlock loads the :id block of the acting organisation
func (h *Handlers) ownedBlock(c *gin.Context) (*types.Block, bool) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	b, err := h.blocks.Get(c.Request.Context(), org(c), id)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return b, true
}

// UpsertLinks replaces the entity reference list of a block
func (h *Handlers) UpsertLinks(c *gin.Context) {
	b, ok := h.ownedBlock(c)
	if !ok {
		return
	}
	var meta types.EntityReferenceMetadata
	if err := c.ShouldBindJSON(&meta); err != nil {
		h.badRequest(c, "body", err)
		return
	}

	rows, err := h.refs.UpsertLinksFor(c.Request.Context(), b.ID, meta)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"block_id": b.ID, "references": rows})
}

// UpsertBlockLink replaces the single block link of a block
func (h *Handlers) UpsertBlockLink(c *gin.Context) {
	b, ok := h.ownedBlock(c)
	if !ok {
		return
	}
	var meta types.BlockReferenceMetadata
	if err := c.ShouldBindJSON(&meta); err != nil {
		h.badRequest(c, "body", err)
		return
	}
	if meta.Item != nil && meta.Item.EntityID != "" {
		if _, err := h.blocks.Get(c.Request.Context(), org(c), meta.Item.EntityID); err != nil {
			h.respondError(c, err)
			return
		}
	}

	row, err := h.refs.UpsertBlockLinkFor(c.Request.Context(), b.ID, meta)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"block_id": b.ID, "reference": row})
}

// ListReferences lists the references of a block. Query: policy=LAZY|EAGER,
// defaulting to the list's own policy.
func (h *Handlers) ListReferences(c *gin.Context) {
	b, ok := h.ownedBlock(c)
	if !ok {
		return
	}

	var meta *types.EntityReferenceMetadata
	switch p := b.Payload.(type) {
	case types.EntityReferencePayload:
		m := p.Meta
		meta = &m
	case types.BlockReferencePayload:
		meta = p.Meta.AsList()
	default:
		c.JSON(http.StatusOK, gin.H{"block_id": b.ID, "references": []*types.Reference{}})
		return
	}

	policy := meta.Policy()
	switch raw := types.FetchPolicy(c.Query("policy")); raw {
	case "":
	case types.FetchLazy, types.FetchEager:
		policy = raw
	default:
		h.respondError(c, errs.Validation("policy", "must be %s or %s", types.FetchLazy, types.FetchEager))
		return
	}

	refs, err := h.refs.FindWithPolicy(c.Request.Context(), b.ID, meta, policy, h.depth)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"block_id":   b.ID,
		"slot":       meta.SlotKey(),
		"policy":     policy,
		"references": refs,
	})
}

// RemoveReferences drops every reference of a block
func (h *Handlers) RemoveReferences(c *gin.Context) {
	b, ok := h.ownedBlock(c)
	if !ok {
		return
	}
	if err := h.refs.RemoveReferencesForBlock(c.Request.Context(), b.ID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveReference drops one reference. Query: path, required when several
// stored references point at the same entity.
func (h *Handlers) RemoveReference(c *gin.Context) {
	b, ok := h.ownedBlock(c)
	if !ok {
		return
	}
	entityID, err := idParam(c, "entityId")
	if err != nil {
		h.respondError(c, err)
		return
	}
	entityType := types.EntityType(c.Param("entityType"))

	if err := h.refs.RemoveReference(c.Request.Context(), b.ID, entityType, entityID, c.Query("path")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveStaleReferences drops the caller's references to an entity that no
// longer exists. A block that still exists in any organisation is a conflict.
func (h *Handlers) RemoveStaleReferences(c *gin.Context) {
	entityID, err := idParam(c, "entityId")
	if err != nil {
		h.respondError(c, err)
		return
	}
	entityType := types.EntityType(c.Param("entityType"))
	if entityType == types.EntityBlock {
		_, err := h.store.GetBlock(c.Request.Context(), entityID)
		switch {
		case err == nil:
			h.respondError(c, errs.Conflict("block", "block %s still exists", entityID))
			return
		case !errs.IsNotFound(err):
			h.respondError(c, err)
			return
		}
	}

	removed, err := h.refs.RemoveStaleReferences(c.Request.Context(), org(c), entityType, entityID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity_type": entityType, "entity_id": entityID, "removed": removed})
}
