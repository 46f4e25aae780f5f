package reference

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/id"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/paths"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/utils"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
)

// lockKey is the slot lock guarding the stored rows of one reference list
func lockKey(slot string) string {
	return "#refs/" + slot
}

// UpsertLinksFor replaces the reference list of an entity_reference block with
// meta and brings its stored rows in line: rows no longer listed are deleted,
// new items are inserted and kept rows get their position updated.
func (s *Service) UpsertLinksFor(ctx context.Context, blockID string, meta types.EntityReferenceMetadata) (rows []*types.StoredReference, err error) {
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		b, err := tx.GetBlock(ctx, blockID)
		if err != nil {
			return err
		}
		if _, ok := b.Payload.(types.EntityReferencePayload); !ok {
			return errs.Validation("payload", "block %s does not hold an entity reference list", blockID)
		}
		b.Payload = types.EntityReferencePayload{Meta: meta.Clone()}
		b.UpdatedAt = now()
		if rows, err = SyncBlock(ctx, tx, b); err != nil {
			return err
		}
		return tx.PutBlock(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertBlockLinkFor sets the single link of a block_reference block. The
// block keeps exactly one stored row, or none when item is nil.
func (s *Service) UpsertBlockLinkFor(ctx context.Context, blockID string, meta types.BlockReferenceMetadata) (row *types.StoredReference, err error) {
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		b, err := tx.GetBlock(ctx, blockID)
		if err != nil {
			return err
		}
		if _, ok := b.Payload.(types.BlockReferencePayload); !ok {
			return errs.Validation("payload", "block %s does not hold a block link", blockID)
		}
		if meta.Item != nil {
			item := *meta.Item
			meta.Item = &item
		}
		b.Payload = types.BlockReferencePayload{Meta: meta}
		b.UpdatedAt = now()
		rows, err := SyncBlock(ctx, tx, b)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			row = rows[0]
		}
		return tx.PutBlock(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// SyncBlock brings the stored rows of b in line with its payload metadata
// inside tx. Content blocks hold no rows. Returns the rows now stored for
// the block's reference slot in order.
func SyncBlock(ctx context.Context, tx store.Tx, b *types.Block) ([]*types.StoredReference, error) {
	switch p := b.Payload.(type) {
	case types.EntityReferencePayload:
		if err := validateItems(p.Meta, false); err != nil {
			return nil, err
		}
		return syncList(ctx, tx, b.ID, p.Meta)
	case types.BlockReferencePayload:
		if p.Meta.Item != nil {
			if p.Meta.Item.EntityType == "" {
				p.Meta.Item.EntityType = types.EntityBlock
			}
			if p.Meta.Item.EntityType != types.EntityBlock {
				return nil, errs.Validation("meta.item.entity_type", "a block link must point at a %s", types.EntityBlock)
			}
			if p.Meta.Item.EntityID == b.ID {
				return nil, errs.Validation("meta.item.entity_id", "a block cannot link to itself")
			}
		}
		list := p.Meta.AsList()
		if err := validateItems(*list, true); err != nil {
			return nil, err
		}
		return syncList(ctx, tx, b.ID, *list)
	case types.ContentPayload, nil:
		return nil, DeleteAllFor(ctx, tx, b.ID)
	default:
		return nil, fmt.Errorf("unknown payload variant %T", b.Payload)
	}
}

// validateItems checks the declared items. single marks a block link, which
// always rejects a second row.
func validateItems(meta types.EntityReferenceMetadata, single bool) error {
	if err := utils.ValidateSlot(meta.SlotKey()); err != nil {
		return errs.Validation("meta.slot", "%v", err)
	}
	seen := make(map[entityKey]int, len(meta.Items))
	for i, item := range meta.Items {
		field := fmt.Sprintf("meta.items[%d]", i)
		if item.EntityType == "" {
			return errs.Validation(field+".entity_type", "entity type is required")
		}
		if item.EntityID == "" {
			return errs.Validation(field+".entity_id", "entity id is required")
		}
		switch item.Ownership {
		case "", types.OwnershipLinked, types.OwnershipOwned:
		default:
			return errs.Validation(field+".ownership", "unknown ownership %q", item.Ownership)
		}
		k := entityKey{item.EntityType, item.EntityID}
		if first, dup := seen[k]; dup && (single || !meta.AllowDuplicates) {
			return errs.Conflict("reference", "%s/%s is listed at items[%d] and items[%d] but duplicates are not allowed",
				item.EntityType, item.EntityID, first, i)
		}
		seen[k] = i
	}
	return nil
}

// syncList delta-upserts the rows of one list. Rows of other slots are
// removed since a block holds a single reference list.
func syncList(ctx context.Context, tx store.Tx, blockID string, meta types.EntityReferenceMetadata) ([]*types.StoredReference, error) {
	slot := meta.SlotKey()
	if err := tx.LockSlot(ctx, blockID, lockKey(slot)); err != nil {
		return nil, err
	}
	existing, err := tx.ReferencesByBlock(ctx, blockID)
	if err != nil {
		return nil, err
	}

	pool := make(map[entityKey][]*types.StoredReference)
	var stale []*types.StoredReference
	for _, row := range existing {
		if row.Slot != slot {
			stale = append(stale, row)
			continue
		}
		k := entityKey{row.EntityType, row.EntityID}
		pool[k] = append(pool[k], row)
	}

	ts := now()
	rows := make([]*types.StoredReference, len(meta.Items))
	for i, item := range meta.Items {
		k := entityKey{item.EntityType, item.EntityID}
		path := paths.Item(slot, i)
		ownership := ownershipOf(item)

		if list := pool[k]; len(list) > 0 {
			row := list[0]
			pool[k] = list[1:]
			if row.OrderIndex != i || row.Path != path || row.Ownership != ownership {
				row.OrderIndex = i
				row.Path = path
				row.Ownership = ownership
				row.UpdatedAt = ts
				if err := tx.PutReference(ctx, row); err != nil {
					return nil, err
				}
			}
			rows[i] = row
			continue
		}

		row := &types.StoredReference{
			ID:         id.NewReferenceID(),
			BlockID:    blockID,
			EntityType: item.EntityType,
			EntityID:   item.EntityID,
			Slot:       slot,
			Path:       path,
			OrderIndex: i,
			Ownership:  ownership,
			CreatedAt:  ts,
			UpdatedAt:  ts,
		}
		if err := tx.PutReference(ctx, row); err != nil {
			return nil, err
		}
		rows[i] = row
	}

	for _, list := range pool {
		stale = append(stale, list...)
	}
	for _, row := range stale {
		if err := tx.DeleteReference(ctx, row.ID); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// RemoveReference deletes one stored reference of blockID and drops the
// matching item from the block's metadata. When several rows match and path
// is empty the call fails with an AmbiguousDeletionError listing their paths.
func (s *Service) RemoveReference(ctx context.Context, blockID string, entityType types.EntityType, entityID, path string) error {
	return s.store.Atomic(ctx, func(tx store.Tx) error {
		b, err := tx.GetBlock(ctx, blockID)
		if err != nil {
			return err
		}
		locked := listSlot(b)
		if err := tx.LockSlot(ctx, blockID, lockKey(locked)); err != nil {
			return err
		}
		rows, err := tx.ReferencesByBlock(ctx, blockID)
		if err != nil {
			return err
		}

		var matches []*types.StoredReference
		for _, row := range rows {
			if row.EntityType != entityType || row.EntityID != entityID {
				continue
			}
			if path != "" && row.Path != path {
				continue
			}
			matches = append(matches, row)
		}

		switch {
		case len(matches) == 0:
			target := fmt.Sprintf("%s/%s/%s", blockID, entityType, entityID)
			if path != "" {
				target += "@" + path
			}
			return errs.NotFound("reference", target)
		case len(matches) > 1:
			found := make([]string, len(matches))
			for i, m := range matches {
				found[i] = m.Path
			}
			return &errs.AmbiguousDeletionError{EntityType: string(entityType), EntityID: entityID, Paths: found}
		}

		victim := matches[0]
		if victim.Slot != locked {
			if err := tx.LockSlot(ctx, blockID, lockKey(victim.Slot)); err != nil {
				return err
			}
		}
		if err := tx.DeleteReference(ctx, victim.ID); err != nil {
			return err
		}
		if err := renumberRows(ctx, tx, blockID, victim.Slot); err != nil {
			return err
		}

		if dropItems(b, func(i int, item types.ReferenceItem) bool {
			return i == victim.OrderIndex && item.EntityType == entityType && item.EntityID == entityID
		}) == 0 {
			// metadata out of step with rows: drop the first matching item instead
			first := true
			dropItems(b, func(_ int, item types.ReferenceItem) bool {
				if first && item.EntityType == entityType && item.EntityID == entityID {
					first = false
					return true
				}
				return false
			})
		}
		b.UpdatedAt = now()
		return tx.PutBlock(ctx, b)
	})
}

// listSlot is the slot holding b's reference rows
func listSlot(b *types.Block) string {
	switch p := b.Payload.(type) {
	case types.EntityReferencePayload:
		return p.Meta.SlotKey()
	case types.BlockReferencePayload:
		return p.Meta.SlotKey()
	}
	return types.DefaultReferenceSlot
}

// RemoveReferencesForBlock deletes every stored reference of blockID and
// empties its reference metadata
func (s *Service) RemoveReferencesForBlock(ctx context.Context, blockID string) error {
	return s.store.Atomic(ctx, func(tx store.Tx) error {
		b, err := tx.GetBlock(ctx, blockID)
		if err != nil {
			return err
		}
		if err := DeleteAllFor(ctx, tx, blockID); err != nil {
			return err
		}
		if dropItems(b, func(int, types.ReferenceItem) bool { return true }) == 0 {
			return nil
		}
		b.UpdatedAt = now()
		return tx.PutBlock(ctx, b)
	})
}

// DeleteAllFor deletes the stored rows of blockID inside tx
func DeleteAllFor(ctx context.Context, tx store.Tx, blockID string) error {
	rows, err := tx.ReferencesByBlock(ctx, blockID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := tx.DeleteReference(ctx, row.ID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveStaleReferences deletes every stored reference owned by orgID that
// points at a deleted entity, renumbers the affected lists and drops the
// entity from each owning block's metadata. Blocks of other organisations
// are left alone. Returns the number of rows removed.
func (s *Service) RemoveStaleReferences(ctx context.Context, orgID string, entityType types.EntityType, entityID string) (removed int, err error) {
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		removed, err = RemoveStaleIn(ctx, tx, orgID, entityType, entityID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.metrics.AddStaleRemoved(removed)
	s.logger.Info("removed stale references",
		zap.String("organisation_id", orgID),
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", entityID),
		zap.Int("removed", removed))
	return removed, nil
}

// RemoveStaleIn is RemoveStaleReferences inside an existing transaction.
// An empty orgID sweeps rows of every organisation.
func RemoveStaleIn(ctx context.Context, tx store.Tx, orgID string, entityType types.EntityType, entityID string) (int, error) {
	all, err := tx.ReferencesByEntity(ctx, entityType, entityID)
	if err != nil {
		return 0, err
	}

	owners := make(map[string]*types.Block)
	byBlock := make(map[string]map[string]bool)
	var rows []*types.StoredReference
	for _, row := range all {
		owner, seen := owners[row.BlockID]
		if !seen {
			owner, err = tx.GetBlock(ctx, row.BlockID)
			switch {
			case errs.IsNotFound(err):
				owner = nil
			case err != nil:
				return 0, err
			}
			owners[row.BlockID] = owner
		}
		if orgID != "" && (owner == nil || owner.OrganisationID != orgID) {
			continue
		}
		rows = append(rows, row)
		if byBlock[row.BlockID] == nil {
			byBlock[row.BlockID] = make(map[string]bool)
		}
		byBlock[row.BlockID][row.Slot] = true
	}
	blockIDs := make([]string, 0, len(byBlock))
	for blockID := range byBlock {
		blockIDs = append(blockIDs, blockID)
	}
	sort.Strings(blockIDs)

	for _, blockID := range blockIDs {
		slots := make([]string, 0, len(byBlock[blockID]))
		for slot := range byBlock[blockID] {
			slots = append(slots, slot)
		}
		sort.Strings(slots)
		for _, slot := range slots {
			if err := tx.LockSlot(ctx, blockID, lockKey(slot)); err != nil {
				return 0, err
			}
		}
	}

	for _, row := range rows {
		if err := tx.DeleteReference(ctx, row.ID); err != nil {
			return 0, err
		}
	}

	for _, blockID := range blockIDs {
		for slot := range byBlock[blockID] {
			if err := renumberRows(ctx, tx, blockID, slot); err != nil {
				return 0, err
			}
		}

		b := owners[blockID]
		if b == nil {
			continue
		}
		dropped := dropItems(b, func(_ int, item types.ReferenceItem) bool {
			return (entityType == "" || item.EntityType == entityType) && item.EntityID == entityID
		})
		if dropped > 0 {
			b.UpdatedAt = now()
			if err := tx.PutBlock(ctx, b); err != nil {
				return 0, err
			}
		}
	}
	return len(rows), nil
}

// renumberRows rewrites the rows of one slot to 0..n-1 with canonical paths
func renumberRows(ctx context.Context, tx store.Tx, blockID, slot string) error {
	rows, err := tx.ReferencesByBlock(ctx, blockID)
	if err != nil {
		return err
	}
	i := 0
	for _, row := range rows {
		if row.Slot != slot {
			continue
		}
		path := paths.Item(slot, i)
		if row.OrderIndex != i || row.Path != path {
			row.OrderIndex = i
			row.Path = path
			row.UpdatedAt = now()
			if err := tx.PutReference(ctx, row); err != nil {
				return err
			}
		}
		i++
	}
	return nil
}

// dropItems removes the metadata items matching drop from b's payload and
// returns how many were removed
func dropItems(b *types.Block, drop func(i int, item types.ReferenceItem) bool) int {
	switch p := b.Payload.(type) {
	case types.EntityReferencePayload:
		meta := p.Meta.Clone()
		kept := meta.Items[:0]
		for i, item := range meta.Items {
			if !drop(i, item) {
				kept = append(kept, item)
			}
		}
		removed := len(meta.Items) - len(kept)
		meta.Items = kept
		b.Payload = types.EntityReferencePayload{Meta: meta}
		return removed
	case types.BlockReferencePayload:
		if p.Meta.Item == nil || !drop(0, *p.Meta.Item) {
			return 0
		}
		p.Meta.Item = nil
		b.Payload = p
		return 1
	}
	return 0
}

func now() time.Time {
	return time.Now().UTC()
}
