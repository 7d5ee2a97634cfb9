// Package indexer applies discover and revision events to the store while
// keeping each map's current version monotonic.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sc2-map-indexer/internal/header"
	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
	"github.com/JakeFAU/sc2-map-indexer/internal/retry"
)

// Resolver resolves revision headers and locale string tables.
type Resolver interface {
	ResolveHeader(ctx context.Context, region, hash string) (*header.Revision, error)
	ResolveTable(ctx context.Context, region string, table *header.LocaleTable) (header.StringTable, error)
}

// Categories answers melee lookups from the category snapshot.
type Categories interface {
	IsMelee(id int) bool
}

// IconSink receives map icons after a successful projection.
type IconSink interface {
	Store(ctx context.Context, region string, icon header.AssetHandle) error
}

// Config tunes retries and projection.
type Config struct {
	// ResolveRetries is the number of extra attempts for transient header faults.
	ResolveRetries int
	ResolveBackoff time.Duration
	// DeadlockRetries is the number of extra attempts after lock contention.
	DeadlockRetries int
	DeadlockDelay   time.Duration
	DefaultLocale   string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ResolveRetries:  3,
		ResolveBackoff:  250 * time.Millisecond,
		DeadlockRetries: 5,
		DeadlockDelay:   500 * time.Millisecond,
		DefaultLocale:   header.DefaultLocale,
	}
}

// errNeedsProjection aborts a transaction that must project a revision whose
// header has not been resolved yet. Resolution never runs while row locks are held.
var errNeedsProjection = errors.New("projection required")

// Indexer implements mapindex.Processor.
type Indexer struct {
	store      mapindex.Store
	resolver   Resolver
	categories Categories
	icons      IconSink
	cfg        Config
	resolve    retry.Policy
	txRetry    retry.Policy
	logger     *zap.Logger
}

// Option customizes an Indexer.
type Option func(*Indexer)

// WithIconSink enables icon handling after projection.
func WithIconSink(sink IconSink) Option {
	return func(i *Indexer) { i.icons = sink }
}

// New constructs an Indexer.
func New(
	store mapindex.Store,
	resolver Resolver,
	categories Categories,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = header.DefaultLocale
	}
	i := &Indexer{
		store:      store,
		resolver:   resolver,
		categories: categories,
		cfg:        cfg,
		logger:     logger,
		resolve: retry.Exponential("header_resolve", cfg.ResolveRetries+1, cfg.ResolveBackoff, 8*cfg.ResolveBackoff,
			func(err error) bool { return !mapindex.IsPermanent(err) }, logger),
		txRetry: retry.Fixed("store_deadlock", cfg.DeadlockRetries+1, cfg.DeadlockDelay,
			func(err error) bool { return errors.Is(err, mapindex.ErrLockContention) }, logger),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Process routes an event to its handler.
func (i *Indexer) Process(ctx context.Context, event mapindex.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	switch event.Kind {
	case mapindex.EventDiscover:
		return i.ProcessDiscover(ctx, *event.Discover)
	default:
		return i.ProcessRevision(ctx, *event.Revision)
	}
}

// prepared is a revision ready for persistence.
type prepared struct {
	region string
	rev    mapindex.MapRevision
	// isNew is set when no row existed at preparation time.
	isNew          bool
	isExtensionMod bool
	header         *header.Revision
	proj           *projection
}

// prepareRevision decodes the version and either loads the existing row or
// resolves the header for a new one.
func (i *Indexer) prepareRevision(ctx context.Context, regionID int, mapID uint32, info mapindex.RevisionInfo) (*prepared, error) {
	region, err := mapindex.RegionCode(regionID)
	if err != nil {
		return nil, err
	}
	key := mapindex.RevisionKey{RegionID: regionID, MapID: mapID, Version: mapindex.DecodeVersion(info.MapVersion)}

	existing, err := i.store.FindRevision(ctx, key)
	if err != nil {
		return nil, storeErr("find revision", err)
	}
	if existing != nil {
		return &prepared{region: region, rev: *existing, isExtensionMod: existing.IsExtensionMod}, nil
	}

	p := &prepared{
		region: region,
		isNew:  true,
		rev: mapindex.MapRevision{
			RegionID:       regionID,
			MapID:          mapID,
			Version:        key.Version,
			HeaderHash:     info.HeaderHash,
			IsPrivate:      info.IsPrivate,
			IsExtensionMod: info.IsExtensionMod,
		},
		isExtensionMod: info.IsExtensionMod,
	}
	if err := i.resolveHeader(ctx, p); err != nil {
		return nil, err
	}
	p.rev.ArchiveHash = p.header.ArchiveHash
	p.rev.ArchiveSize = p.header.ArchiveSize
	p.rev.UploadedAt = p.header.UploadedAt
	return p, nil
}

func (i *Indexer) resolveHeader(ctx context.Context, p *prepared) error {
	if p.header != nil {
		return nil
	}
	return i.resolve.Do(ctx, func(ctx context.Context) error {
		rev, err := i.resolver.ResolveHeader(ctx, p.region, p.rev.HeaderHash)
		if err != nil {
			return err
		}
		p.header = rev
		return nil
	})
}

// ensureProjection resolves the header if needed and derives the map fields.
func (i *Indexer) ensureProjection(ctx context.Context, p *prepared) error {
	if p.proj != nil {
		return nil
	}
	if err := i.resolveHeader(ctx, p); err != nil {
		return err
	}
	return i.resolve.Do(ctx, func(ctx context.Context) error {
		proj, err := i.projectMapFields(ctx, p.region, p.header, p.isExtensionMod)
		if err != nil {
			return err
		}
		p.proj = proj
		return nil
	})
}

// inTx runs fn in a transaction, retrying lock contention. When fn asks for a
// projection, it is computed outside the transaction and fn runs again.
func (i *Indexer) inTx(ctx context.Context, target *prepared, fn func(tx mapindex.Tx) error) error {
	for pass := 0; ; pass++ {
		err := i.txRetry.Do(ctx, func(ctx context.Context) error {
			return i.store.InTx(ctx, fn)
		})
		if !errors.Is(err, errNeedsProjection) || pass > 0 {
			return err
		}
		if err := i.ensureProjection(ctx, target); err != nil {
			return err
		}
	}
}

// ProcessDiscover records both revisions, the map, its tracking state and its
// author in a single transaction.
func (i *Indexer) ProcessDiscover(ctx context.Context, ev mapindex.DiscoverEvent) error {
	logger := i.logger.With(zap.Int("region", ev.RegionID), zap.Uint32("map_id", ev.MapID))

	initial, err := i.prepareRevision(ctx, ev.RegionID, ev.MapID, ev.InitialRevision)
	if err != nil {
		return fmt.Errorf("prepare initial revision: %w", err)
	}
	latest := initial
	if ev.LatestRevision.MapVersion != ev.InitialRevision.MapVersion {
		if latest, err = i.prepareRevision(ctx, ev.RegionID, ev.MapID, ev.LatestRevision); err != nil {
			return fmt.Errorf("prepare latest revision: %w", err)
		}
	}
	// New revisions are projected up front.
	if latest.isNew {
		if err := i.ensureProjection(ctx, latest); err != nil {
			return fmt.Errorf("project latest revision: %w", err)
		}
	}

	key := mapindex.MapKey{RegionID: ev.RegionID, MapID: ev.MapID}
	checkedAt := mapindex.UnixTime(ev.QueriedAt)
	var projected bool

	err = i.inTx(ctx, latest, func(tx mapindex.Tx) error {
		projected = false
		initialRev, err := i.ensureRevision(ctx, tx, initial)
		if err != nil {
			return err
		}
		latestRev := initialRev
		if latest != initial {
			if latestRev, err = i.ensureRevision(ctx, tx, latest); err != nil {
				return err
			}
		}

		m, err := tx.LockMap(ctx, key, true)
		if err != nil {
			return storeErr("lock map", err)
		}
		if err := i.refreshTracking(ctx, tx, key, checkedAt); err != nil {
			return err
		}

		if m.CurrentVersion == nil || latestRev.Version.IsNotOlder(*m.CurrentVersion) {
			if latest.proj == nil {
				return errNeedsProjection
			}
			latest.proj.apply(m, latestRev, latestRev.UploadedAt)
			if err := tx.ReplaceVariants(ctx, m.ID, latest.proj.Variants); err != nil {
				return storeErr("replace variants", err)
			}
			projected = true
		}

		if m.InitialRevisionID == nil {
			id := initialRev.ID
			m.InitialRevisionID = &id
			if !initialRev.UploadedAt.IsZero() {
				at := initialRev.UploadedAt
				m.PublishedAt = &at
			}
		}

		if m.AuthorID == nil && ev.Author.ProfileID != 0 {
			profile := ev.Author.Profile()
			if err := tx.EnsureProfile(ctx, &profile); err != nil {
				return storeErr("ensure profile", err)
			}
			id := profile.ID
			m.AuthorID = &id
		}

		if err := tx.UpdateMap(ctx, m); err != nil {
			return storeErr("update map", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("discover map %d: %w", ev.MapID, err)
	}

	logger.Info("map discovered",
		zap.Stringer("initial", initial.rev.Version),
		zap.Stringer("latest", latest.rev.Version),
		zap.Bool("projected", projected),
	)
	if projected {
		i.storeIcon(ctx, latest)
	}
	return nil
}

// ProcessRevision records one revision and advances the map when it is not older
// than the current one.
func (i *Indexer) ProcessRevision(ctx context.Context, ev mapindex.RevisionEvent) error {
	logger := i.logger.With(
		zap.Int("region", ev.RegionID),
		zap.Uint32("map_id", ev.MapID),
		zap.Stringer("version", mapindex.DecodeVersion(ev.MapVersion)),
	)

	p, err := i.prepareRevision(ctx, ev.RegionID, ev.MapID, ev.RevisionInfo)
	if err != nil {
		return fmt.Errorf("prepare revision: %w", err)
	}
	if !p.isNew {
		logger.Debug("revision already indexed")
		return nil
	}

	key := mapindex.MapKey{RegionID: ev.RegionID, MapID: ev.MapID}
	checkedAt := mapindex.UnixTime(ev.QueriedAt)
	var projected bool

	err = i.inTx(ctx, p, func(tx mapindex.Tx) error {
		projected = false
		rev := p.rev
		if err := tx.InsertRevision(ctx, &rev); err != nil {
			return storeErr("insert revision", err)
		}

		m, err := tx.LockMap(ctx, key, false)
		if err != nil {
			return storeErr("lock map", err)
		}
		if m == nil {
			return nil
		}

		if m.CurrentVersion == nil || rev.Version.IsNotOlder(*m.CurrentVersion) {
			if p.proj == nil {
				return errNeedsProjection
			}
			p.proj.apply(m, &rev, rev.UploadedAt)
			if err := tx.UpdateMap(ctx, m); err != nil {
				return storeErr("update map", err)
			}
			if err := tx.ReplaceVariants(ctx, m.ID, p.proj.Variants); err != nil {
				return storeErr("replace variants", err)
			}
			projected = true
		}
		return i.refreshTracking(ctx, tx, key, checkedAt)
	})
	if errors.Is(err, mapindex.ErrDuplicateVersion) {
		logger.Debug("revision inserted concurrently, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("revision map %d: %w", ev.MapID, err)
	}

	logger.Info("revision indexed", zap.Bool("projected", projected))
	if projected {
		i.storeIcon(ctx, p)
	}
	return nil
}

// ensureRevision inserts p's row when it was new at preparation time. A row
// inserted concurrently since then is loaded instead.
func (i *Indexer) ensureRevision(ctx context.Context, tx mapindex.Tx, p *prepared) (*mapindex.MapRevision, error) {
	rev := p.rev
	if !p.isNew {
		return &rev, nil
	}
	err := tx.InsertRevision(ctx, &rev)
	if err == nil {
		return &rev, nil
	}
	if !errors.Is(err, mapindex.ErrDuplicateVersion) {
		return nil, storeErr("insert revision", err)
	}
	existing, err := tx.FindRevision(ctx, rev.Key())
	if err != nil {
		return nil, storeErr("find revision", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: revision %s vanished after duplicate insert", mapindex.ErrStore, rev.Version)
	}
	return existing, nil
}

func (i *Indexer) refreshTracking(ctx context.Context, tx mapindex.Tx, key mapindex.MapKey, checkedAt time.Time) error {
	state, err := tx.LockTrackingState(ctx, key, true)
	if err != nil {
		return storeErr("lock tracking state", err)
	}
	if state == nil || !state.MarkAvailable(checkedAt) {
		return nil
	}
	if err := tx.UpdateTrackingState(ctx, state); err != nil {
		return storeErr("update tracking state", err)
	}
	return nil
}

func (i *Indexer) storeIcon(ctx context.Context, p *prepared) {
	if i.icons == nil || p.proj == nil || p.proj.icon == nil {
		return
	}
	if err := i.icons.Store(ctx, p.region, *p.proj.icon); err != nil {
		i.logger.Warn("icon processing failed",
			zap.String("region", p.region),
			zap.String("hash", p.proj.icon.Hash),
			zap.Error(err),
		)
	}
}

// storeErr wraps store failures, keeping the sentinels the indexer branches on.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, mapindex.ErrLockContention),
		errors.Is(err, mapindex.ErrDuplicateVersion),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, mapindex.ErrStore, err)
	}
}
