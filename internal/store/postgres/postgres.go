// Package postgres implements store.Store on PostgreSQL through GORM.
//
// Tables: blocks, block_types, block_edges (primary key child_id, which makes
// single ownership a database constraint) and block_references. Payloads and
// block type definitions are stored as jsonb.
//
// Slot writes serialise on a transaction-scoped advisory lock keyed by
// parent id and slot, so concurrent reorders of the same slot queue up while
// writes to other slots proceed.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
)

// Config holds connection settings
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements store.Store on PostgreSQL
type Store struct {
	queries
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to the database and configures the pool
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Store{queries: queries{db: db}, logger: logger}, nil
}

// Migrate creates or extends the schema
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&blockModel{},
		&blockTypeModel{},
		&edgeModel{},
		&referenceModel{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	s.logger.Info("Database schema migrated")
	return nil
}

// Atomic runs fn inside a database transaction
func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&tx{queries: queries{db: gtx}})
	})
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// queries implements store.Reader over either the pool or a transaction
type queries struct {
	db *gorm.DB
}

func (q queries) GetBlock(ctx context.Context, id string) (*types.Block, error) {
	var m blockModel
	if err := q.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("block", id)
		}
		return nil, fmt.Errorf("failed to load block: %w", err)
	}
	return m.toBlock()
}

func (q queries) ListBlocks(ctx context.Context, orgID string) ([]*types.Block, error) {
	var rows []blockModel
	db := q.db.WithContext(ctx).Order("id")
	if orgID != "" {
		db = db.Where("organisation_id = ?", orgID)
	}
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}

	out := make([]*types.Block, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toBlock()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (q queries) GetBlockType(ctx context.Context, id string) (*types.BlockType, error) {
	var m blockTypeModel
	if err := q.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("block type", id)
		}
		return nil, fmt.Errorf("failed to load block type: %w", err)
	}
	return m.toBlockType()
}

func (q queries) BlockTypeVersions(ctx context.Context, key, orgID string) ([]*types.BlockType, error) {
	var rows []blockTypeModel
	err := q.db.WithContext(ctx).
		Where("type_key = ?", key).
		Where("system = ? OR organisation_id = '' OR organisation_id = ?", true, orgID).
		Order("version, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load block type versions: %w", err)
	}
	return toBlockTypes(rows)
}

func (q queries) ListBlockTypes(ctx context.Context, orgID string) ([]*types.BlockType, error) {
	var rows []blockTypeModel
	err := q.db.WithContext(ctx).
		Where("system = ? OR organisation_id = '' OR organisation_id = ?", true, orgID).
		Order("type_key, version, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list block types: %w", err)
	}
	return toBlockTypes(rows)
}

func (q queries) ParentEdge(ctx context.Context, childID string) (*types.Edge, error) {
	var m edgeModel
	if err := q.db.WithContext(ctx).First(&m, "child_id = ?", childID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load parent edge: %w", err)
	}
	return m.toEdge(), nil
}

func (q queries) EdgesByParent(ctx context.Context, parentID string) ([]*types.Edge, error) {
	var rows []edgeModel
	err := q.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("slot, order_index").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}

	out := make([]*types.Edge, len(rows))
	for i := range rows {
		out[i] = rows[i].toEdge()
	}
	return out, nil
}

func (q queries) ReferencesByBlock(ctx context.Context, blockID string) ([]*types.StoredReference, error) {
	var rows []referenceModel
	err := q.db.WithContext(ctx).
		Where("block_id = ?", blockID).
		Order("slot, order_index").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load references: %w", err)
	}
	return toReferences(rows), nil
}

func (q queries) ReferencesByEntity(ctx context.Context, entityType types.EntityType, entityID string) ([]*types.StoredReference, error) {
	var rows []referenceModel
	db := q.db.WithContext(ctx).Where("entity_id = ?", entityID)
	if entityType != "" {
		db = db.Where("entity_type = ?", string(entityType))
	}
	if err := db.Order("block_id, order_index").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load references by entity: %w", err)
	}
	return toReferences(rows), nil
}

func toBlockTypes(rows []blockTypeModel) ([]*types.BlockType, error) {
	out := make([]*types.BlockType, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toBlockType()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func toReferences(rows []referenceModel) []*types.StoredReference {
	out := make([]*types.StoredReference, len(rows))
	for i := range rows {
		out[i] = rows[i].toReference()
	}
	return out
}
