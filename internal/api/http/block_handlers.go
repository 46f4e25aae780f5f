package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/blocktree/backend/internal/domain/block"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// CreateBlock creates a top-level block from a type's defaults
func (h *Handlers) CreateBlock(c *gin.Context) {
	var req block.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "body", err)
		return
	}

	b, err := h.blocks.Create(c.Request.Context(), org(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// ListBlocks lists the blocks of the acting organisation
func (h *Handlers) ListBlocks(c *gin.Context) {
	blocks, err := h.blocks.List(c.Request.Context(), org(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks, "count": len(blocks)})
}

// GetBlock returns the block tree. Query: maxDepth, expandRefs.
func (h *Handlers) GetBlock(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	depth, err := intQuery(c, "maxDepth", h.depth)
	if err != nil {
		h.respondError(c, err)
		return
	}
	expand, err := boolQuery(c, "expandRefs", false)
	if err != nil {
		h.respondError(c, err)
		return
	}

	tree, err := h.blocks.GetTree(c.Request.Context(), org(c), id, types.TreeOptions{MaxDepth: depth, ExpandRefs: expand})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

// UpdateBlock applies a validated merge
func (h *Handlers) UpdateBlock(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var req block.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "body", err)
		return
	}

	b, err := h.blocks.Update(c.Request.Context(), org(c), id, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// ArchiveBlock sets or clears the archived flag
func (h *Handlers) ArchiveBlock(c *gin.Context) {
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

	b, err := h.blocks.Archive(c.Request.Context(), org(c), id, archived)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// DeleteBlock hard-deletes a block with its edges and references
func (h *Handlers) DeleteBlock(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.blocks.Delete(c.Request.Context(), org(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RenderBlock evaluates the block's display into a prop tree
func (h *Handlers) RenderBlock(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	depth, err := intQuery(c, "maxDepth", h.depth)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out, err := h.blocks.Render(c.Request.Context(), org(c), id, depth)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
