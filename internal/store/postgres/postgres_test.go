//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/id"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("DATABASE_DSN not set")
	}

	s, err := Open(Config{DSN: dsn, MaxOpenConns: 4}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	b := &types.Block{
		ID:             id.NewBlockID().String(),
		OrganisationID: "org",
		TypeID:         "btype_x",
		TypeKey:        "note",
		TypeVersion:    1,
		Payload:        types.ContentPayload{Data: map[string]any{"title": "hello"}},
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error { return tx.PutBlock(ctx, b) }))

	got, err := s.GetBlock(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Data()["title"])

	_, err = s.GetBlock(ctx, "blk_missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestAtomicRollback(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	childID := id.NewBlockID().String()
	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx store.Tx) error {
		if err := tx.LockSlot(ctx, "parent", "default"); err != nil {
			return err
		}
		if err := tx.PutEdge(ctx, &types.Edge{ParentID: "parent", ChildID: childID, Slot: "default", Path: "default[0]"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	edge, err := s.ParentEdge(ctx, childID)
	require.NoError(t, err)
	assert.Nil(t, edge)
}

func TestReferencesByEntity(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	blockID := id.NewBlockID().String()
	entityID := id.NewRequestID().String()
	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error {
		return tx.PutReference(ctx, &types.StoredReference{
			ID:         id.NewReferenceID(),
			BlockID:    blockID,
			EntityType: "CLIENT",
			EntityID:   entityID,
			Slot:       "items",
			Path:       "items[0]",
			Ownership:  types.OwnershipLinked,
		})
	}))

	refs, err := s.ReferencesByEntity(ctx, "", entityID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, blockID, refs[0].BlockID)
}
