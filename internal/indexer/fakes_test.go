package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/sc2-map-indexer/internal/category"
	"github.com/JakeFAU/sc2-map-indexer/internal/depot"
	"github.com/JakeFAU/sc2-map-indexer/internal/header"
	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
	"github.com/JakeFAU/sc2-map-indexer/internal/storage/memory"
)

type revisionFixture struct {
	name         string
	category     int
	withSize     bool
	uploadedAt   time.Time
	lobbyDelay   *int64
	withoutIcon  bool
	archiveBytes int64
}

type fakeResolver struct {
	mu       sync.Mutex
	headers  map[string]*header.Revision
	tables   map[string]header.StringTable
	calls    map[string]int
	failures map[string][]error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		headers:  map[string]*header.Revision{},
		tables:   map[string]header.StringTable{},
		calls:    map[string]int{},
		failures: map[string][]error{},
	}
}

func (f *fakeResolver) add(hash string, fx revisionFixture) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attrs := []header.AttributeDefault{{Namespace: 999, ID: 2001, Value: 3}}
	if fx.lobbyDelay != nil {
		attrs = append(attrs, header.AttributeDefault{Namespace: 999, ID: 3007, Value: *fx.lobbyDelay})
	}
	doc := &header.Document{
		ArchiveHandle: header.AssetHandle{Type: "s2ma", Region: "us", Hash: "archive-" + hash},
		WorkingSet: header.WorkingSet{
			Name:        header.TextRef{ID: 1, HasID: true},
			Description: header.TextRef{ID: 2, HasID: true},
			MaxPlayers:  4,
		},
		Variants: []header.Variant{
			{CategoryID: fx.category, ModeID: 7, ModeName: header.TextRef{ID: 3, HasID: true}, AttributeDefaults: attrs, MaxTeamSize: 2},
			{CategoryID: fx.category, ModeID: 8, ModeName: header.TextRef{Text: "FFA"}, MaxTeamSize: 1},
		},
		LocaleTables: []header.LocaleTable{
			{Locale: "deDE", StringTable: []header.AssetHandle{{Type: "s2ml", Hash: "de-" + hash}}},
			{Locale: "enUS", StringTable: []header.AssetHandle{{Type: "s2ml", Hash: "en-" + hash}}},
		},
		ArcadeInfo: &header.ArcadeInfo{Website: header.TextRef{Text: "https://example.org"}},
	}
	if fx.withSize {
		doc.MapSize = &header.MapSize{Width: 128, Height: 128}
	}
	if !fx.withoutIcon {
		doc.WorkingSet.Thumbnail = &header.AssetHandle{Type: "s2mv", Region: "us", Hash: "icon-" + hash}
	}
	rev := &header.Revision{Document: doc, UploadedAt: fx.uploadedAt, ArchiveHash: doc.ArchiveHandle.Hash}
	if fx.archiveBytes > 0 {
		size := fx.archiveBytes
		rev.ArchiveSize = &size
	}
	f.headers[hash] = rev
	f.tables["en-"+hash] = header.StringTable{1: fx.name, 2: fx.name + " description", 3: "1v1"}
	f.tables["de-"+hash] = header.StringTable{1: fx.name + " (de)"}
}

func (f *fakeResolver) fail(hash string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[hash] = append(f.failures[hash], errs...)
}

func (f *fakeResolver) callCount(hash string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[hash]
}

func (f *fakeResolver) ResolveHeader(_ context.Context, _ string, hash string) (*header.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[hash]++
	if errs := f.failures[hash]; len(errs) > 0 {
		f.failures[hash] = errs[1:]
		return nil, errs[0]
	}
	rev, ok := f.headers[hash]
	if !ok {
		return nil, &depot.FetchError{Region: "us", Filename: hash + ".s2mh", Status: 404}
	}
	return rev, nil
}

func (f *fakeResolver) ResolveTable(_ context.Context, _ string, table *header.LocaleTable) (header.StringTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := header.StringTable{}
	for _, h := range table.StringTable {
		out.Merge(f.tables[h.Hash])
	}
	return out, nil
}

// contendedStore fails the first n transactions with lock contention.
type contendedStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
	attempts int
}

func (s *contendedStore) InTx(ctx context.Context, fn func(tx mapindex.Tx) error) error {
	s.mu.Lock()
	s.attempts++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return mapindex.ErrLockContention
	}
	return s.Store.InTx(ctx, fn)
}

type recordingIcons struct {
	mu     sync.Mutex
	hashes []string
}

func (r *recordingIcons) Store(_ context.Context, _ string, icon header.AssetHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashes = append(r.hashes, icon.Hash)
	return nil
}

func testConfig() Config {
	return Config{ResolveRetries: 3, DeadlockRetries: 5, DefaultLocale: header.DefaultLocale}
}

func newTestIndexer(store mapindex.Store, resolver Resolver, opts ...Option) *Indexer {
	return New(store, resolver, category.Defaults(), testConfig(), nil, opts...)
}

func packed(major, minor uint16) uint32 {
	return mapindex.Version{Major: major, Minor: minor}.Packed()
}

func ptr[T any](v T) *T {
	return &v
}
