package http

import (
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/blocktree/backend/internal/api/middleware"
)

// Register mounts every route on router
func (h *Handlers) Register(router gin.IRouter) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	router.GET("/metrics/json", h.MetricsJSON)

	blocks := router.Group("/block", middleware.RequireOrganisation())

	// Block types
	blocks.POST("/schema", h.PublishType)
	blocks.POST("/schema/fork", h.ForkType)
	blocks.POST("/schema/lint", h.LintDraft)
	blocks.GET("/schema/key/:key", h.GetTypeByKey)
	blocks.GET("/schema/organisation/:orgId", h.ListTypes)
	blocks.GET("/schema/:id", h.GetType)
	blocks.GET("/schema/:id/lint", h.LintType)
	blocks.PUT("/schema/:id", h.UpdateType)
	blocks.PUT("/schema/:id/archive/:archived", h.ArchiveType)

	// Children
	blocks.GET("/child/:parentId/children", h.ListChildren)
	blocks.POST("/child/:parentId/children", h.AddChild)
	blocks.POST("/child/:parentId/children/bulk", h.AddChildrenBulk)
	blocks.PATCH("/child/:parentId/children/reorder", h.ReorderChildren)
	blocks.PATCH("/child/:parentId/children/:childId/move", h.MoveChild)
	blocks.DELETE("/child/:parentId/children/:childId", h.RemoveChild)
	blocks.DELETE("/child/:parentId/children", h.ClearSlot)

	// References
	blocks.DELETE("/reference/entity/:entityType/:entityId", h.RemoveStaleReferences)
	blocks.PUT("/reference/:id/refs/links", h.UpsertLinks)
	blocks.PUT("/reference/:id/refs/block", h.UpsertBlockLink)
	blocks.GET("/reference/:id/refs", h.ListReferences)
	blocks.DELETE("/reference/:id/refs", h.RemoveReferences)
	blocks.DELETE("/reference/:id/refs/:entityType/:entityId", h.RemoveReference)

	// Blocks
	blocks.POST("", h.CreateBlock)
	blocks.GET("", h.ListBlocks)
	blocks.GET("/:id", h.GetBlock)
	blocks.GET("/:id/render", h.RenderBlock)
	blocks.PUT("/:id", h.UpdateBlock)
	blocks.PUT("/:id/archive/:archived", h.ArchiveBlock)
	blocks.DELETE("/:id", h.DeleteBlock)
}
