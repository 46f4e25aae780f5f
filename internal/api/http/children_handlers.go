package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/blocktree/backend/internal/domain/children"
)

// ownedParent checks that the :parentId block belongs to the acting organisation
func (h *Handlers) ownedParent(c *gin.Context) (string, bool) {
	parentID, err := idParam(c, "parentId")
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	if _, err := h.blocks.Get(c.Request.Context(), org(c), parentID); err != nil {
		h.respondError(c, err)
		return "", false
	}
	return parentID, true
}

// ListChildren returns every slot of a parent with its version token
func (h *Handlers) ListChildren(c *gin.Context) {
	parentID, ok := h.ownedParent(c)
	if !ok {
		return
	}
	slots, err := h.children.Slots(c.Request.Context(), parentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"parent_id": parentID, "slots": slots})
}

// AddChild adds one child
func (h *Handlers) AddChild(c *gin.Context) {
	parentID, ok := h.ownedParent(c)
	if !ok {
		return
	}
	var req children.AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "body", err)
		return
	}
	req.ParentID = parentID

	edge, err := h.children.AddChild(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, edge)
}

// AddChildrenBulk appends several children atomically
func (h *Handlers) AddChildrenBulk(c *gin.Context) {
	parentID, ok := h.ownedParent(c)
	if !ok {
		return
	}
	var req children.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "body", err)
		return
	}
	req.ParentID = parentID

	edges, err := h.children.AddChildrenBulk(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"edges": edges})
}

// MoveChild moves a child between slots or parents
func (h *Handlers) MoveChild(c *gin.Context) {
	parentID, ok := h.ownedParent(c)
	if !ok {
		return
	}
	childID, err := idParam(c, "childId")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var req children.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "body", err)
		return
	}
	req.ParentID = parentID
	req.ChildID = childID

	edge, err := h.children.MoveChildToSlot(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, edge)
}

// ReorderChildren replaces the full order of a slot
func (h *Handlers) ReorderChildren(c *gin.Context) {
	parentID, ok := h.ownedParent(c)
	if !ok {
		return
	}
	var req children.ReplaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "body", err)
		return
	}
	req.ParentID = parentID

	state, err := h.children.ReplaceSlot(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// RemoveChild detaches one child. Query: slot.
func (h *Handlers) RemoveChild(c *gin.Context) {
	parentID, ok := h.ownedParent(c)
	if !ok {
		return
	}
	childID, err := idParam(c, "childId")
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.children.RemoveChild(c.Request.Context(), parentID, c.Query("slot"), childID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearSlot detaches every child of a slot. Query: slot.
func (h *Handlers) ClearSlot(c *gin.Context) {
	parentID, ok := h.ownedParent(c)
	if !ok {
		return
	}

	detached, err := h.children.DetachChildrenBySlot(c.Request.Context(), parentID, c.Query("slot"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detached": detached})
}
