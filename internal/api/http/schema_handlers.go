package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/utils"
)

// ForkRequest copies a visible type into the acting organisation
type ForkRequest struct {
	SourceID string `json:"source_id" binding:"required"`
	Key      string `json:"key"`
}

// PublishType publishes version 1 of a new type
func (h *Handlers) PublishType(c *gin.Context) {
	var draft types.BlockType
	if err := c.ShouldBindJSON(&draft); err != nil {
		h.badRequest(c, "body", err)
		return
	}

	bt, err := h.registry.Publish(c.Request.Context(), org(c), &draft)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bt)
}

// UpdateType publishes the next version of a type
func (h *Handlers) UpdateType(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var draft types.BlockType
	if err := c.ShouldBindJSON(&draft); err != nil {
		h.badRequest(c, "body", err)
		return
	}

	bt, err := h.registry.Update(c.Request.Context(), org(c), id, &draft)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bt)
}

// ArchiveType sets or clears the archived flag of a type version
func (h *Handlers) ArchiveType(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	archived, err := boolParam(c, "archived")
	if err != nil {
		h.respondError(c, err)
		return
	}

	bt, err := h.registry.Archive(c.Request.Context(), org(c), id, archived)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bt)
}

// GetType returns one type version
func (h *Handlers) GetType(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	bt, err := h.visibleType(c, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bt)
}

// GetTypeByKey returns the latest version visible to the organisation
func (h *Handlers) GetTypeByKey(c *gin.Context) {
	key := c.Param("key")
	if err := utils.ValidateKey(key); err != nil {
		h.badRequest(c, "key", err)
		return
	}

	bt, err := h.registry.Latest(c.Request.Context(), org(c), key)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bt)
}

// ListTypes lists the types of an organisation. Query: archived.
func (h *Handlers) ListTypes(c *gin.Context) {
	orgID, err := idParam(c, "orgId")
	if err != nil {
		h.respondError(c, err)
		return
	}
	archived, err := boolQuery(c, "archived", false)
	if err != nil {
		h.respondError(c, err)
		return
	}

	list, err := h.registry.List(c.Request.Context(), orgID, archived)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"types": list, "count": len(list)})
}

// ForkType copies a type into the acting organisation
func (h *Handlers) ForkType(c *gin.Context) {
	var req ForkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "body", err)
		return
	}

	bt, err := h.registry.Fork(c.Request.Context(), org(c), req.SourceID, req.Key)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bt)
}

// LintDraft lints a render structure without publishing it
func (h *Handlers) LintDraft(c *gin.Context) {
	var render types.BlockRenderStructure
	if err := c.ShouldBindJSON(&render); err != nil {
		h.badRequest(c, "body", err)
		return
	}
	c.JSON(http.StatusOK, h.registry.Lint(&render))
}

// LintType lints the render structure of a stored type
func (h *Handlers) LintType(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	bt, err := h.visibleType(c, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.registry.Lint(bt.Display.Render))
}

func (h *Handlers) visibleType(c *gin.Context, id string) (*types.BlockType, error) {
	bt, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if !bt.VisibleTo(org(c)) {
		return nil, errs.NotFound("block type", id)
	}
	return bt, nil
}
