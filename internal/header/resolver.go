package header

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sc2-map-indexer/internal/depot"
	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
)

// File extensions of the depot assets the resolver reads.
const (
	HeaderExt = "s2mh"
	LocaleExt = "s2ml"
)

// DefaultLocaleCacheSize bounds the number of parsed string tables kept in memory.
const DefaultLocaleCacheSize = 512

// Depot is the subset of the depot cache used by the resolver.
type Depot interface {
	GetOrFetch(ctx context.Context, region, filename string) (string, error)
	RetrieveHeadOnly(ctx context.Context, region, filename string) (depot.Metadata, error)
}

// Revision is a resolved header plus the metadata gathered around it.
type Revision struct {
	Document    *Document
	UploadedAt  time.Time
	ArchiveHash string
	// ArchiveSize is nil when the archive probe found nothing usable.
	ArchiveSize *int64
}

// Resolver fetches and decodes header and locale assets.
type Resolver struct {
	depot   Depot
	locales *lru.Cache[string, StringTable]
	logger  *zap.Logger
}

// NewResolver creates a resolver. cacheSize <= 0 selects DefaultLocaleCacheSize.
func NewResolver(d Depot, cacheSize int, logger *zap.Logger) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultLocaleCacheSize
	}
	cache, err := lru.New[string, StringTable](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create locale cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{depot: d, locales: cache, logger: logger}, nil
}

// ResolveHeader fetches {hash}.s2mh from region and decodes it.
func (r *Resolver) ResolveHeader(ctx context.Context, region, hash string) (*Revision, error) {
	path, err := r.depot.GetOrFetch(ctx, region, hash+"."+HeaderExt)
	if err != nil {
		return nil, fmt.Errorf("fetch header %s: %w", hash, err)
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the shard store
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", hash, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("header %s: %w: %w", hash, mapindex.ErrMalformed, err)
	}

	rev := &Revision{Document: doc, ArchiveHash: doc.ArchiveHandle.Hash}
	if info, err := os.Stat(path); err == nil {
		rev.UploadedAt = info.ModTime().UTC().Truncate(time.Second)
	}

	meta, err := r.depot.RetrieveHeadOnly(ctx, region, doc.ArchiveHandle.Filename())
	switch {
	case err == nil:
		if meta.Size >= 0 {
			size := meta.Size
			rev.ArchiveSize = &size
		}
	case errors.Is(err, mapindex.ErrNotFound) || errors.Is(err, mapindex.ErrMalformed):
		r.logger.Warn("archive probe failed, storing null size",
			zap.String("region", region),
			zap.String("hash", hash),
			zap.String("archive", doc.ArchiveHandle.Hash),
			zap.Error(err),
		)
	default:
		return nil, fmt.Errorf("probe archive %s: %w", doc.ArchiveHandle.Hash, err)
	}
	return rev, nil
}

// ResolveLocale fetches {hash}.s2ml from region and parses its string table.
func (r *Resolver) ResolveLocale(ctx context.Context, region, hash string) (StringTable, error) {
	if table, ok := r.locales.Get(hash); ok {
		return table, nil
	}
	path, err := r.depot.GetOrFetch(ctx, region, hash+"."+LocaleExt)
	if err != nil {
		return nil, fmt.Errorf("fetch locale %s: %w", hash, err)
	}
	f, err := os.Open(path) //nolint:gosec // path comes from the shard store
	if err != nil {
		return nil, fmt.Errorf("open locale %s: %w", hash, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	table, err := ParseLocale(f)
	if err != nil {
		return nil, fmt.Errorf("locale %s: %w: %w", hash, mapindex.ErrMalformed, err)
	}
	r.locales.Add(hash, table)
	return table, nil
}

// ResolveTable merges every string table asset of a locale table.
// Earlier assets win on id collisions.
func (r *Resolver) ResolveTable(ctx context.Context, region string, table *LocaleTable) (StringTable, error) {
	merged := make(StringTable)
	if table == nil {
		return merged, nil
	}
	for _, h := range table.StringTable {
		if h.Type != "" && h.Type != LocaleExt {
			continue
		}
		part, err := r.ResolveLocale(ctx, region, h.Hash)
		if err != nil {
			return nil, err
		}
		merged.Merge(part)
	}
	return merged, nil
}
