package postgres

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

type tx struct {
	queries
}

// LockSlot takes a transaction-scoped advisory lock on parent/slot
func (t *tx) LockSlot(ctx context.Context, parentID, slot string) error {
	key := parentID + "/" + slot
	if err := t.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		return fmt.Errorf("failed to lock slot %s: %w", key, err)
	}
	return nil
}

func (t *tx) PutBlock(ctx context.Context, b *types.Block) error {
	m, err := blockToModel(b)
	if err != nil {
		return err
	}
	if err := t.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

func (t *tx) DeleteBlock(ctx context.Context, id string) error {
	res := t.db.WithContext(ctx).Delete(&blockModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete block: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("block", id)
	}
	return nil
}

func (t *tx) PutBlockType(ctx context.Context, bt *types.BlockType) error {
	m, err := blockTypeToModel(bt)
	if err != nil {
		return err
	}
	if err := t.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("failed to save block type: %w", err)
	}
	return nil
}

func (t *tx) PutEdge(ctx context.Context, e *types.Edge) error {
	if err := t.db.WithContext(ctx).Save(edgeToModel(e)).Error; err != nil {
		return fmt.Errorf("failed to save edge: %w", err)
	}
	return nil
}

func (t *tx) DeleteEdge(ctx context.Context, childID string) error {
	if err := t.db.WithContext(ctx).Delete(&edgeModel{}, "child_id = ?", childID).Error; err != nil {
		return fmt.Errorf("failed to delete edge: %w", err)
	}
	return nil
}

func (t *tx) PutReference(ctx context.Context, r *types.StoredReference) error {
	if err := t.db.WithContext(ctx).Save(referenceToModel(r)).Error; err != nil {
		return fmt.Errorf("failed to save reference: %w", err)
	}
	return nil
}

func (t *tx) DeleteReference(ctx context.Context, id string) error {
	if err := t.db.WithContext(ctx).Delete(&referenceModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete reference: %w", err)
	}
	return nil
}
