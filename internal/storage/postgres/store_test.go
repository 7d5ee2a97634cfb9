package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

var revisionCols = []string{
	"id", "header_hash", "is_private", "is_extension_mod", "archive_hash", "archive_size", "uploaded_at",
}

func TestStoreFindRevision(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	uploaded := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	size := int64(2048)
	key := mapindex.RevisionKey{RegionID: 1, MapID: 7, Version: mapindex.Version{Major: 1, Minor: 2}}

	mock.ExpectQuery("FROM map_revisions").
		WithArgs(1, int64(7), int32(1), int32(2)).
		WillReturnRows(pgxmock.NewRows(revisionCols).
			AddRow(int64(42), "hdr", false, true, "arch", &size, uploaded))

	rev, err := store.FindRevision(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, rev)
	require.Equal(t, int64(42), rev.ID)
	require.Equal(t, "hdr", rev.HeaderHash)
	require.True(t, rev.IsExtensionMod)
	require.Equal(t, int64(2048), *rev.ArchiveSize)
	require.Equal(t, key, rev.Key())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFindRevisionMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM map_revisions").
		WithArgs(1, int64(7), int32(0), int32(0)).
		WillReturnRows(pgxmock.NewRows(revisionCols))

	rev, err := store.FindRevision(context.Background(), mapindex.RevisionKey{RegionID: 1, MapID: 7})
	require.NoError(t, err)
	require.Nil(t, rev)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInsertRevisionCommits(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO map_revisions").
		WithArgs(1, int64(7), int32(1), int32(0), "hdr", false, false, "", (*int64)(nil), time.Time{}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	rev := mapindex.MapRevision{RegionID: 1, MapID: 7, Version: mapindex.Version{Major: 1}, HeaderHash: "hdr"}
	err := store.InTx(context.Background(), func(tx mapindex.Tx) error {
		return tx.InsertRevision(context.Background(), &rev)
	})
	require.NoError(t, err)
	require.Equal(t, int64(11), rev.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInsertRevisionDuplicateRollsBack(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO map_revisions").
		WithArgs(1, int64(7), int32(0), int32(0), "", false, false, "", (*int64)(nil), time.Time{}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	rev := mapindex.MapRevision{RegionID: 1, MapID: 7}
	err := store.InTx(context.Background(), func(tx mapindex.Tx) error {
		return tx.InsertRevision(context.Background(), &rev)
	})
	require.ErrorIs(t, err, mapindex.ErrDuplicateVersion)
	require.Zero(t, rev.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDeadlockIsLockContention(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO maps").
		WithArgs(1, int64(7)).
		WillReturnError(&pgconn.PgError{Code: codeDeadlock})
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(tx mapindex.Tx) error {
		_, err := tx.LockMap(context.Background(), mapindex.MapKey{RegionID: 1, MapID: 7}, true)
		return err
	})
	require.ErrorIs(t, err, mapindex.ErrLockContention)
	require.True(t, mapindex.IsFatal(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLockMapReadsCurrentVersion(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	updated := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	published := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	current, initial := int64(9), int64(8)
	major, minor := int32(1), int32(2)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM maps m").
		WithArgs(1, int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "type", "name", "description", "website", "main_category_id", "max_players",
			"icon_hash", "main_locale", "main_locale_hash", "available_locales",
			"current_revision_id", "major_version", "minor_version",
			"initial_revision_id", "author_id", "updated_at", "published_at",
		}).AddRow(
			int64(5), "melee_map", "Lost Temple", "desc", "", 1, 4,
			"icon", "enUS", "enhash", int64(3),
			&current, &major, &minor,
			&initial, (*int64)(nil), &updated, &published,
		))
	mock.ExpectCommit()

	var m *mapindex.Map
	err := store.InTx(context.Background(), func(tx mapindex.Tx) error {
		var err error
		m, err = tx.LockMap(context.Background(), mapindex.MapKey{RegionID: 1, MapID: 7}, false)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, mapindex.MapTypeMelee, m.Type)
	require.Equal(t, uint32(3), m.AvailableLocales)
	require.Equal(t, &mapindex.Version{Major: 1, Minor: 2}, m.CurrentVersion)
	require.Equal(t, int64(9), *m.CurrentRevisionID)
	require.Nil(t, m.AuthorID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLockMapMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM maps m").
		WithArgs(1, int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(tx mapindex.Tx) error {
		m, err := tx.LockMap(context.Background(), mapindex.MapKey{RegionID: 1, MapID: 7}, false)
		require.Nil(t, m)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpdateMapMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE maps").
		WithArgs(
			int64(5), "", "", "", "", 0, 0, "", "", "", int64(0),
			(*int64)(nil), (*int64)(nil), (*int64)(nil), (*time.Time)(nil), (*time.Time)(nil),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(tx mapindex.Tx) error {
		return tx.UpdateMap(context.Background(), &mapindex.Map{ID: 5, RegionID: 1, MapID: 7})
	})
	require.ErrorIs(t, err, mapindex.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreReplaceVariants(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM map_variants").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO map_variants").
		WithArgs(int64(5), 0, "1v1", 1, 7, 10, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO map_variants").
		WithArgs(int64(5), 1, "FFA", 1, 8, 10, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(tx mapindex.Tx) error {
		return tx.ReplaceVariants(context.Background(), 5, []mapindex.MapVariant{
			{Index: 0, Name: "1v1", CategoryID: 1, ModeID: 7, LobbyDelay: 10, MaxTeamSize: 2},
			{Index: 1, Name: "FFA", CategoryID: 1, ModeID: 8, LobbyDelay: 10, MaxTeamSize: 1},
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLockTrackingStateCreates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	checked := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	later := checked.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO map_tracking").
		WithArgs(2, int64(9)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM map_tracking").
		WithArgs(2, int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{
			"last_checked_at", "last_seen_available_at", "first_seen_unavailable_at", "unavailability_counter",
		}).AddRow(&checked, &checked, (*time.Time)(nil), 0))
	mock.ExpectExec("UPDATE map_tracking").
		WithArgs(2, int64(9), &later, &later, (*time.Time)(nil), 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(tx mapindex.Tx) error {
		ts, err := tx.LockTrackingState(context.Background(), mapindex.MapKey{RegionID: 2, MapID: 9}, true)
		if err != nil {
			return err
		}
		require.True(t, ts.LastCheckedAt.Equal(checked))
		require.True(t, ts.MarkAvailable(later))
		return tx.UpdateTrackingState(context.Background(), ts)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreEnsureProfileKeepsExisting(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO profiles").
		WithArgs(1, 1, int64(42), "Someone", 0).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id FROM profiles").
		WithArgs(1, 1, int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectCommit()

	p := mapindex.Profile{RegionID: 1, RealmID: 1, ProfileID: 42, Name: "Someone"}
	err := store.InTx(context.Background(), func(tx mapindex.Tx) error {
		return tx.EnsureProfile(context.Background(), &p)
	})
	require.NoError(t, err)
	require.Equal(t, int64(4), p.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreMigrate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS profiles").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreBeginFailureIsStoreError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := store.InTx(context.Background(), func(mapindex.Tx) error { return nil })
	require.ErrorIs(t, err, mapindex.ErrStore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadlock", &pgconn.PgError{Code: codeDeadlock}, mapindex.ErrLockContention},
		{"serialization", &pgconn.PgError{Code: codeSerializationFailure}, mapindex.ErrLockContention},
		{"unique", &pgconn.PgError{Code: codeUniqueViolation}, mapindex.ErrDuplicateVersion},
		{"other pg", &pgconn.PgError{Code: "42P01"}, mapindex.ErrStore},
		{"plain", errors.New("eof"), mapindex.ErrStore},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, classify(tt.err), tt.want)
		})
	}
	require.NoError(t, classify(nil))
}
