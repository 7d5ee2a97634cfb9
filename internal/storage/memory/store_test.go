package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
)

func TestStoreInsertRevisionIsUnique(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	rev := mapindex.MapRevision{RegionID: 1, MapID: 7, Version: mapindex.Version{Major: 1}, HeaderHash: "aa"}

	require.NoError(t, store.InTx(ctx, func(tx mapindex.Tx) error {
		r := rev
		if err := tx.InsertRevision(ctx, &r); err != nil {
			return err
		}
		require.NotZero(t, r.ID)
		return nil
	}))

	err := store.InTx(ctx, func(tx mapindex.Tx) error {
		r := rev
		r.HeaderHash = "bb"
		return tx.InsertRevision(ctx, &r)
	})
	require.ErrorIs(t, err, mapindex.ErrDuplicateVersion)

	found, err := store.FindRevision(ctx, rev.Key())
	require.NoError(t, err)
	require.Equal(t, "aa", found.HeaderHash, "first writer wins")
}

func TestStoreRollsBackOnError(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	key := mapindex.MapKey{RegionID: 2, MapID: 3}

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx mapindex.Tx) error {
		m, err := tx.LockMap(ctx, key, true)
		require.NoError(t, err)
		m.Name = "partial"
		require.NoError(t, tx.UpdateMap(ctx, m))
		r := mapindex.MapRevision{RegionID: 2, MapID: 3}
		require.NoError(t, tx.InsertRevision(ctx, &r))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := store.Map(key)
	require.False(t, ok)
	require.Empty(t, store.Revisions(key))
	require.Equal(t, Stats{}, store.Stats())
}

func TestStoreLockMapCreate(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	key := mapindex.MapKey{RegionID: 1, MapID: 1}

	require.NoError(t, store.InTx(ctx, func(tx mapindex.Tx) error {
		m, err := tx.LockMap(ctx, key, false)
		require.NoError(t, err)
		require.Nil(t, m)

		m, err = tx.LockMap(ctx, key, true)
		require.NoError(t, err)
		require.NotZero(t, m.ID)

		again, err := tx.LockMap(ctx, key, true)
		require.NoError(t, err)
		require.Equal(t, m.ID, again.ID)

		ts, err := tx.LockTrackingState(ctx, key, false)
		require.NoError(t, err)
		require.Nil(t, ts)
		ts, err = tx.LockTrackingState(ctx, key, true)
		require.NoError(t, err)
		ts.UnavailabilityCounter = 2
		require.NoError(t, tx.UpdateTrackingState(ctx, ts))
		return tx.ReplaceVariants(ctx, m.ID, []mapindex.MapVariant{{Index: 0, Name: "1v1"}})
	}))

	m, ok := store.Map(key)
	require.True(t, ok)
	require.Len(t, store.Variants(m.ID), 1)
	ts, ok := store.Tracking(key)
	require.True(t, ok)
	require.Equal(t, 2, ts.UnavailabilityCounter)
}

func TestStoreEnsureProfileNeverOverwrites(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()

	var firstID int64
	require.NoError(t, store.InTx(ctx, func(tx mapindex.Tx) error {
		p := mapindex.Profile{RegionID: 1, RealmID: 1, ProfileID: 42, Name: "First"}
		if err := tx.EnsureProfile(ctx, &p); err != nil {
			return err
		}
		firstID = p.ID
		return nil
	}))
	require.NoError(t, store.InTx(ctx, func(tx mapindex.Tx) error {
		p := mapindex.Profile{RegionID: 1, RealmID: 1, ProfileID: 42, Name: "Renamed"}
		if err := tx.EnsureProfile(ctx, &p); err != nil {
			return err
		}
		require.Equal(t, firstID, p.ID)
		return nil
	}))
	require.Equal(t, 1, store.Profiles())
}

func TestStoreRevisionsOrdered(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.InTx(ctx, func(tx mapindex.Tx) error {
		for _, v := range []mapindex.Version{{Major: 2}, {Major: 1, Minor: 1}, {Major: 1}} {
			r := mapindex.MapRevision{RegionID: 1, MapID: 9, Version: v}
			if err := tx.InsertRevision(ctx, &r); err != nil {
				return err
			}
		}
		return nil
	}))
	revs := store.Revisions(mapindex.MapKey{RegionID: 1, MapID: 9})
	require.Len(t, revs, 3)
	require.Equal(t, "1.0", revs[0].Version.String())
	require.Equal(t, "2.0", revs[2].Version.String())
}
