package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/blocktree/backend/internal/domain/block"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/children"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/reference"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/registry"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
)

// Version is reported by the root endpoint
const Version = "0.3.0"

// Deps are the services the handlers call
type Deps struct {
	Store     store.Store
	Registry  *registry.Registry
	Blocks    *block.Service
	Children  *children.Service
	Refs      *reference.Service
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
	TreeDepth int
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store    store.Store
	registry *registry.Registry
	blocks   *block.Service
	children *children.Service
	refs     *reference.Service
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	depth    int
}

// NewHandlers creates a new handler set
func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := d.TreeDepth
	if depth <= 0 {
		depth = reference.DefaultExpandDepth
	}
	return &Handlers{
		store:    d.Store,
		registry: d.Registry,
		blocks:   d.Blocks,
		children: d.Children,
		refs:     d.Refs,
		metrics:  d.Metrics,
		logger:   logger,
		depth:    depth,
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "blocktree",
		"version": Version,
	})
}

// Health pings the store and lists the registered resolvers
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	storeStatus := gin.H{"connected": true}
	if err := h.store.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		storeStatus = gin.H{"connected": false, "error": err.Error()}
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"store":     storeStatus,
		"resolvers": h.refs.Resolvers().Types(),
	})
}

// MetricsJSON returns the request summary collected by the metrics middleware
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().UTC(),
		"summary":   h.metrics.Snapshot(),
	})
}
