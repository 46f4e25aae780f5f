package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/blocktree/backend/internal/api/http"
	"github.com/GriffinCanCode/blocktree/backend/internal/api/middleware"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/block"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/children"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/display"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/reference"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/registry"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/render"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/sandbox"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
	"github.com/GriffinCanCode/blocktree/backend/internal/store/memory"
	"github.com/GriffinCanCode/blocktree/backend/internal/store/postgres"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	store    store.Store
	registry *registry.Registry
	blocks   *block.Service
	pool     *sandbox.Pool
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)

	logger.Info("Initializing blocktree server",
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
	)

	// Metrics first, other components report into it
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("blocktree", logger.Component("tracing"))

	st, err := openStore(cfg.Store, logger)
	if err != nil {
		tracer.Close()
		return nil, err
	}

	sandboxCfg := sandbox.DefaultConfig()
	if cfg.Sandbox.Timeout > 0 {
		sandboxCfg.Timeout = cfg.Sandbox.Timeout
	}
	pool, err := sandbox.NewPool(sandboxCfg, cfg.Sandbox.PoolSize)
	if err != nil {
		_ = st.Close()
		tracer.Close()
		return nil, fmt.Errorf("failed to create expression sandbox: %w", err)
	}

	reg := registry.New(st,
		registry.WithLogger(logger.Component("registry")),
		registry.WithMetrics(metrics),
		registry.WithLintOptions(display.WithExpressionChecker(func(expr string) error {
			_, err := pool.Compile(expr)
			return err
		})),
	)

	if cfg.Seed.Dir != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		result, err := registry.NewSeeder(reg, cfg.Seed.Dir, cfg.Seed.Pattern).Seed(ctx)
		cancel()
		if err != nil {
			logger.Warn("Failed to seed block types", zap.Error(err))
		} else {
			logger.Info("Seeded block types",
				zap.Int("published", len(result.Published)),
				zap.Int("updated", len(result.Updated)),
				zap.Int("failed", len(result.Failed)),
			)
		}
	}

	resolvers, err := buildResolvers(cfg.Resolver, st, metrics, logger)
	if err != nil {
		pool.Close()
		_ = st.Close()
		tracer.Close()
		return nil, err
	}

	refs := reference.New(st, resolvers,
		reference.WithLogger(logger.Component("reference")),
		reference.WithMetrics(metrics),
		reference.WithTracer(tracer),
		reference.WithExpandDepth(cfg.Tree.DefaultMaxDepth),
	)
	kids := children.New(st, reg,
		children.WithLogger(logger.Component("children")),
		children.WithMetrics(metrics),
	)
	renderer := render.New(pool,
		render.WithResolver(refs),
		render.WithLogger(logger.Component("render")),
		render.WithMetrics(metrics),
	)
	blocks := block.New(st, reg, kids, refs,
		block.WithLogger(logger.Component("block")),
		block.WithRenderer(renderer),
		block.WithDepthLimit(cfg.Tree.MaxDepthLimit),
	)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.Identity())
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := api.NewHandlers(api.Deps{
		Store:     st,
		Registry:  reg,
		Blocks:    blocks,
		Children:  kids,
		Refs:      refs,
		Metrics:   metrics,
		Logger:    logger.Component("http"),
		TreeDepth: cfg.Tree.DefaultMaxDepth,
	})
	handlers.Register(router)

	logger.Info("Server initialized successfully",
		zap.Strings("resolvers", entityTypeNames(resolvers.Types())),
	)

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:    st,
		registry: reg,
		blocks:   blocks,
		pool:     pool,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Router exposes the gin engine, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves HTTP until Shutdown is called
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, drains in-flight ones and releases resources
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errList []error
	if err := s.http.Shutdown(ctx); err != nil {
		errList = append(errList, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.pool.Close(); err != nil {
		errList = append(errList, fmt.Errorf("sandbox close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errList = append(errList, fmt.Errorf("store close: %w", err))
	}
	s.tracer.Close()

	if err := errors.Join(errList...); err != nil {
		s.logger.Error("Shutdown finished with errors", zap.Error(err))
		_ = s.logger.Sync()
		return err
	}
	s.logger.Info("Shutdown complete")
	_ = s.logger.Sync()
	return nil
}

func openStore(cfg config.StoreConfig, logger *logging.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		st, err := postgres.Open(postgres.Config{
			DSN:          cfg.DSN,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxOpenConns / 2,
		}, logger.Component("postgres"))
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		logger.Info("Connected to PostgreSQL")
		return st, nil
	default:
		logger.Info("Using in-memory store")
		return memory.New(), nil
	}
}

// buildResolvers registers the local BLOCK resolver and one HTTP resolver per
// configured endpoint
func buildResolvers(cfg config.ResolverConfig, st store.Reader, metrics *monitoring.Metrics, logger *logging.Logger) (*reference.Resolvers, error) {
	resolvers := reference.NewResolvers(reference.NewBlockResolver(st))

	for entityType, baseURL := range cfg.Endpoints {
		if types.EntityType(entityType) == types.EntityBlock {
			return nil, fmt.Errorf("resolver endpoint for %s is not allowed, blocks resolve locally", entityType)
		}
		httpCfg := reference.DefaultHTTPConfig(baseURL)
		if cfg.Timeout > 0 {
			httpCfg.Timeout = cfg.Timeout
		}
		httpCfg.Retries = cfg.Retries
		if cfg.RequestsPerSecond > 0 {
			httpCfg.RequestsPerSecond = cfg.RequestsPerSecond
		}

		res := reference.NewHTTPResolver(types.EntityType(entityType), httpCfg, reference.WithBreakerMetrics(metrics))
		if err := resolvers.Register(res); err != nil {
			return nil, fmt.Errorf("failed to register resolver %s: %w", entityType, err)
		}
		logger.Info("Registered entity resolver",
			zap.String("entity_type", entityType),
			zap.String("url", baseURL),
		)
	}
	return resolvers, nil
}

func entityTypeNames(list []types.EntityType) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = string(t)
	}
	return out
}
