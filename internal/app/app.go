// Package app builds and holds the long-lived services of the indexer.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sc2-map-indexer/internal/api"
	"github.com/JakeFAU/sc2-map-indexer/internal/category"
	"github.com/JakeFAU/sc2-map-indexer/internal/clock/system"
	"github.com/JakeFAU/sc2-map-indexer/internal/config"
	"github.com/JakeFAU/sc2-map-indexer/internal/depot"
	"github.com/JakeFAU/sc2-map-indexer/internal/dispatcher"
	"github.com/JakeFAU/sc2-map-indexer/internal/header"
	"github.com/JakeFAU/sc2-map-indexer/internal/id/uuid"
	"github.com/JakeFAU/sc2-map-indexer/internal/indexer"
	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
	"github.com/JakeFAU/sc2-map-indexer/internal/policy/ratelimit"
	"github.com/JakeFAU/sc2-map-indexer/internal/storage/local"
	"github.com/JakeFAU/sc2-map-indexer/internal/storage/memory"
	"github.com/JakeFAU/sc2-map-indexer/internal/storage/postgres"
	"github.com/JakeFAU/sc2-map-indexer/internal/transcode"
)

// Options adjusts how the container is built.
type Options struct {
	// DryRun swaps the Postgres store for the in-memory one.
	DryRun bool
	// Store overrides store construction entirely.
	Store mapindex.Store
}

// App holds all the shared, long-lived services for the application.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Store      mapindex.Store
	Depot      *depot.Cache
	Resolver   *header.Resolver
	Indexer    *indexer.Indexer
	Dispatcher *dispatcher.Dispatcher

	ops *http.Server
}

// NewDepot builds the depot cache from configuration.
func NewDepot(cfg config.Config, logger *zap.Logger) (*depot.Cache, error) {
	shards, err := local.New(local.Config{BaseDir: cfg.Cache.Root})
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Depot.RatePerSecond,
		DefaultBurst: cfg.Depot.Burst,
	})
	return depot.New(depot.Config{
		Host:    cfg.Depot.Host,
		Port:    cfg.Depot.Port,
		Hosts:   cfg.Depot.Hosts,
		Timeout: cfg.Depot.Timeout,
	}, shards, nil, limiter, logger.Named("depot")), nil
}

// NewStore opens the Postgres store.
func NewStore(ctx context.Context, cfg config.Config) (*postgres.Store, error) {
	store, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return store, nil
}

// New wires the indexing pipeline. It fails fast if any service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	categories, err := category.Load(cfg.Categories.File)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	cache, err := NewDepot(cfg, logger)
	if err != nil {
		return nil, err
	}
	resolver, err := header.NewResolver(cache, cfg.Cache.LocaleCacheSize, logger.Named("resolver"))
	if err != nil {
		return nil, fmt.Errorf("init resolver: %w", err)
	}

	store := opts.Store
	switch {
	case store != nil:
	case opts.DryRun:
		logger.Info("using in-memory store, nothing will be persisted")
		store = memory.NewStore()
	default:
		pg, err := NewStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = pg
	}

	var indexOpts []indexer.Option
	if cfg.Indexer.TranscodeIcons {
		indexOpts = append(indexOpts, indexer.WithIconSink(transcode.NewIcons(cache, logger)))
	}
	idx := indexer.New(store, resolver, categories, indexer.Config{
		ResolveRetries:  cfg.Indexer.ResolveRetries,
		ResolveBackoff:  cfg.Indexer.ResolveBackoff,
		DeadlockRetries: cfg.Indexer.DeadlockRetries,
		DeadlockDelay:   cfg.Indexer.DeadlockDelay,
		DefaultLocale:   header.DefaultLocale,
	}, logger.Named("indexer"), indexOpts...)

	dispatch := dispatcher.New(dispatcher.Config{
		Concurrency: cfg.Indexer.Concurrency,
		QueueDepth:  cfg.Indexer.QueueDepth,
	}, idx, system.New(), uuid.New(), logger.Named("dispatcher"))

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Depot:      cache,
		Resolver:   resolver,
		Indexer:    idx,
		Dispatcher: dispatch,
	}, nil
}

// Ready reports whether the pool is accepting work.
func (a *App) Ready(context.Context) error {
	if !a.Dispatcher.Started() {
		return dispatcher.ErrNotStarted
	}
	return nil
}

// StartOps serves health and metrics routes on cfg.Ops.Port. Port 0 disables it.
func (a *App) StartOps() {
	if a.Config.Ops.Port == 0 {
		return
	}
	server := api.NewServer(a.Ready, a.Logger)
	a.ops = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Ops.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info("ops server started", zap.Int("port", a.Config.Ops.Port))
		if err := a.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("ops server error", zap.Error(err))
		}
	}()
}

// Close drains the pool and releases every service. It is safe to call once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Dispatcher.Started() {
		if err := a.Dispatcher.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ops != nil {
		if err := a.ops.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ops shutdown: %w", err))
		}
	}
	a.Store.Close()
	return errors.Join(errs...)
}
