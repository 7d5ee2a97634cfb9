// Package postgres provides the Postgres-backed map index store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
)

//go:embed schema.sql
var schema string

// Postgres error codes that map onto domain errors.
const (
	codeDeadlock             = "40P01"
	codeSerializationFailure = "40001"
	codeUniqueViolation      = "23505"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool used by the store.
type Pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Store implements mapindex.Store on Postgres.
type Store struct {
	pool Pool
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", classify(err))
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// FindRevision reads a committed revision outside any transaction.
func (s *Store) FindRevision(ctx context.Context, key mapindex.RevisionKey) (*mapindex.MapRevision, error) {
	return findRevision(ctx, s.pool, key)
}

// InTx runs fn in a transaction, committing when it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx mapindex.Tx) error) (err error) {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", classify(err))
	}
	defer func() {
		if err != nil {
			_ = pgTx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(&tx{q: pgTx}); err != nil {
		return err
	}
	if err = pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// classify maps driver errors onto the mapindex sentinels. Errors that are
// already domain errors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mapindex.ErrLockContention) ||
		errors.Is(err, mapindex.ErrDuplicateVersion) ||
		errors.Is(err, mapindex.ErrStore) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeDeadlock, codeSerializationFailure:
			return fmt.Errorf("%w: %w", mapindex.ErrLockContention, err)
		case codeUniqueViolation:
			return fmt.Errorf("%w: %w", mapindex.ErrDuplicateVersion, err)
		}
	}
	return fmt.Errorf("%w: %w", mapindex.ErrStore, err)
}

const revisionColumns = `id, header_hash, is_private, is_extension_mod, archive_hash, archive_size, uploaded_at`

func findRevision(ctx context.Context, q querier, key mapindex.RevisionKey) (*mapindex.MapRevision, error) {
	query := `SELECT ` + revisionColumns + ` FROM map_revisions
		WHERE region_id = $1 AND map_id = $2 AND major_version = $3 AND minor_version = $4`
	rev := mapindex.MapRevision{RegionID: key.RegionID, MapID: key.MapID, Version: key.Version}
	err := q.QueryRow(ctx, query, key.RegionID, int64(key.MapID), int32(key.Version.Major), int32(key.Version.Minor)).
		Scan(&rev.ID, &rev.HeaderHash, &rev.IsPrivate, &rev.IsExtensionMod, &rev.ArchiveHash, &rev.ArchiveSize, &rev.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find revision: %w", classify(err))
	}
	return &rev, nil
}

type tx struct {
	q querier
}

func (t *tx) FindRevision(ctx context.Context, key mapindex.RevisionKey) (*mapindex.MapRevision, error) {
	return findRevision(ctx, t.q, key)
}

func (t *tx) InsertRevision(ctx context.Context, rev *mapindex.MapRevision) error {
	query := `
		INSERT INTO map_revisions (region_id, map_id, major_version, minor_version, header_hash,
			is_private, is_extension_mod, archive_hash, archive_size, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (region_id, map_id, major_version, minor_version) DO NOTHING
		RETURNING id`
	var id int64
	err := t.q.QueryRow(ctx, query,
		rev.RegionID,
		int64(rev.MapID),
		int32(rev.Version.Major),
		int32(rev.Version.Minor),
		rev.HeaderHash,
		rev.IsPrivate,
		rev.IsExtensionMod,
		rev.ArchiveHash,
		rev.ArchiveSize,
		rev.UploadedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return mapindex.ErrDuplicateVersion
	}
	if err != nil {
		return fmt.Errorf("insert revision: %w", classify(err))
	}
	rev.ID = id
	return nil
}

func (t *tx) LockMap(ctx context.Context, key mapindex.MapKey, create bool) (*mapindex.Map, error) {
	if create {
		insert := `INSERT INTO maps (region_id, map_id) VALUES ($1, $2) ON CONFLICT (region_id, map_id) DO NOTHING`
		if _, err := t.q.Exec(ctx, insert, key.RegionID, int64(key.MapID)); err != nil {
			return nil, fmt.Errorf("create map: %w", classify(err))
		}
	}
	query := `
		SELECT m.id, m.type, m.name, m.description, m.website, m.main_category_id, m.max_players,
			m.icon_hash, m.main_locale, m.main_locale_hash, m.available_locales,
			m.current_revision_id, r.major_version, r.minor_version,
			m.initial_revision_id, m.author_id, m.updated_at, m.published_at
		FROM maps m
		LEFT JOIN map_revisions r ON r.id = m.current_revision_id
		WHERE m.region_id = $1 AND m.map_id = $2
		FOR UPDATE OF m`
	m := mapindex.Map{RegionID: key.RegionID, MapID: key.MapID}
	var (
		mapType      string
		locales      int64
		major, minor *int32
	)
	err := t.q.QueryRow(ctx, query, key.RegionID, int64(key.MapID)).Scan(
		&m.ID, &mapType, &m.Name, &m.Description, &m.Website, &m.MainCategoryID, &m.MaxPlayers,
		&m.IconHash, &m.MainLocale, &m.MainLocaleHash, &locales,
		&m.CurrentRevisionID, &major, &minor,
		&m.InitialRevisionID, &m.AuthorID, &m.UpdatedAt, &m.PublishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock map: %w", classify(err))
	}
	m.Type = mapindex.MapType(mapType)
	m.AvailableLocales = uint32(locales)
	if major != nil && minor != nil {
		m.CurrentVersion = &mapindex.Version{Major: uint16(*major), Minor: uint16(*minor)}
	}
	return &m, nil
}

func (t *tx) UpdateMap(ctx context.Context, m *mapindex.Map) error {
	query := `
		UPDATE maps SET type = $2, name = $3, description = $4, website = $5, main_category_id = $6,
			max_players = $7, icon_hash = $8, main_locale = $9, main_locale_hash = $10,
			available_locales = $11, current_revision_id = $12, initial_revision_id = $13,
			author_id = $14, updated_at = $15, published_at = $16
		WHERE id = $1`
	tag, err := t.q.Exec(ctx, query,
		m.ID,
		string(m.Type),
		m.Name,
		m.Description,
		m.Website,
		m.MainCategoryID,
		m.MaxPlayers,
		m.IconHash,
		m.MainLocale,
		m.MainLocaleHash,
		int64(m.AvailableLocales),
		m.CurrentRevisionID,
		m.InitialRevisionID,
		m.AuthorID,
		m.UpdatedAt,
		m.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("update map: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update map %d/%d: %w", m.RegionID, m.MapID, mapindex.ErrNotFound)
	}
	return nil
}

func (t *tx) ReplaceVariants(ctx context.Context, mapRowID int64, variants []mapindex.MapVariant) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM map_variants WHERE map_id = $1`, mapRowID); err != nil {
		return fmt.Errorf("delete variants: %w", classify(err))
	}
	insert := `
		INSERT INTO map_variants (map_id, variant_index, name, category_id, mode_id, lobby_delay, max_team_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, v := range variants {
		if _, err := t.q.Exec(ctx, insert, mapRowID, v.Index, v.Name, v.CategoryID, v.ModeID, v.LobbyDelay, v.MaxTeamSize); err != nil {
			return fmt.Errorf("insert variant %d: %w", v.Index, classify(err))
		}
	}
	return nil
}

func (t *tx) LockTrackingState(ctx context.Context, key mapindex.MapKey, create bool) (*mapindex.TrackingState, error) {
	if create {
		insert := `INSERT INTO map_tracking (region_id, map_id) VALUES ($1, $2) ON CONFLICT (region_id, map_id) DO NOTHING`
		if _, err := t.q.Exec(ctx, insert, key.RegionID, int64(key.MapID)); err != nil {
			return nil, fmt.Errorf("create tracking state: %w", classify(err))
		}
	}
	query := `
		SELECT last_checked_at, last_seen_available_at, first_seen_unavailable_at, unavailability_counter
		FROM map_tracking
		WHERE region_id = $1 AND map_id = $2
		FOR UPDATE`
	ts := mapindex.TrackingState{RegionID: key.RegionID, MapID: key.MapID}
	err := t.q.QueryRow(ctx, query, key.RegionID, int64(key.MapID)).
		Scan(&ts.LastCheckedAt, &ts.LastSeenAvailableAt, &ts.FirstSeenUnavailableAt, &ts.UnavailabilityCounter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock tracking state: %w", classify(err))
	}
	return &ts, nil
}

func (t *tx) UpdateTrackingState(ctx context.Context, ts *mapindex.TrackingState) error {
	query := `
		UPDATE map_tracking SET last_checked_at = $3, last_seen_available_at = $4,
			first_seen_unavailable_at = $5, unavailability_counter = $6
		WHERE region_id = $1 AND map_id = $2`
	tag, err := t.q.Exec(ctx, query,
		ts.RegionID,
		int64(ts.MapID),
		ts.LastCheckedAt,
		ts.LastSeenAvailableAt,
		ts.FirstSeenUnavailableAt,
		ts.UnavailabilityCounter,
	)
	if err != nil {
		return fmt.Errorf("update tracking state: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update tracking state %d/%d: %w", ts.RegionID, ts.MapID, mapindex.ErrNotFound)
	}
	return nil
}

func (t *tx) EnsureProfile(ctx context.Context, p *mapindex.Profile) error {
	insert := `
		INSERT INTO profiles (region_id, realm_id, profile_id, name, discriminator)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (region_id, realm_id, profile_id) DO NOTHING
		RETURNING id`
	err := t.q.QueryRow(ctx, insert, p.RegionID, p.RealmID, int64(p.ProfileID), p.Name, p.Discriminator).Scan(&p.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("insert profile: %w", classify(err))
	}
	query := `SELECT id FROM profiles WHERE region_id = $1 AND realm_id = $2 AND profile_id = $3`
	if err := t.q.QueryRow(ctx, query, p.RegionID, p.RealmID, int64(p.ProfileID)).Scan(&p.ID); err != nil {
		return fmt.Errorf("find profile: %w", classify(err))
	}
	return nil
}
