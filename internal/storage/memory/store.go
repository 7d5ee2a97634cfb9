// Package memory provides an in-process store for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
)

type state struct {
	nextID    int64
	revisions map[mapindex.RevisionKey]mapindex.MapRevision
	maps      map[mapindex.MapKey]mapindex.Map
	variants  map[int64][]mapindex.MapVariant
	tracking  map[mapindex.MapKey]mapindex.TrackingState
	profiles  map[mapindex.ProfileKey]mapindex.Profile
}

func newState() *state {
	return &state{
		revisions: make(map[mapindex.RevisionKey]mapindex.MapRevision),
		maps:      make(map[mapindex.MapKey]mapindex.Map),
		variants:  make(map[int64][]mapindex.MapVariant),
		tracking:  make(map[mapindex.MapKey]mapindex.TrackingState),
		profiles:  make(map[mapindex.ProfileKey]mapindex.Profile),
	}
}

func (s *state) clone() *state {
	out := newState()
	out.nextID = s.nextID
	for k, v := range s.revisions {
		out.revisions[k] = v
	}
	for k, v := range s.maps {
		out.maps[k] = v
	}
	for k, v := range s.variants {
		out.variants[k] = append([]mapindex.MapVariant(nil), v...)
	}
	for k, v := range s.tracking {
		out.tracking[k] = v
	}
	for k, v := range s.profiles {
		out.profiles[k] = v
	}
	return out
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store keeps everything in memory. Transactions are serialized and applied
// atomically on commit, giving the same unique-key behavior as the database.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// FindRevision looks up a committed revision.
func (s *Store) FindRevision(_ context.Context, key mapindex.RevisionKey) (*mapindex.MapRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findRevision(s.state, key), nil
}

// InTx runs fn against a private copy and publishes it when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx mapindex.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &tx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}

// Map returns a committed map row.
func (s *Store) Map(key mapindex.MapKey) (mapindex.Map, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.state.maps[key]
	return m, ok
}

// Revisions returns the committed revisions of a map ordered by version.
func (s *Store) Revisions(key mapindex.MapKey) []mapindex.MapRevision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []mapindex.MapRevision
	for k, rev := range s.state.revisions {
		if k.RegionID == key.RegionID && k.MapID == key.MapID {
			out = append(out, rev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version.Packed() < out[j].Version.Packed() })
	return out
}

// Variants returns the variants of a map row.
func (s *Store) Variants(mapRowID int64) []mapindex.MapVariant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]mapindex.MapVariant(nil), s.state.variants[mapRowID]...)
}

// Tracking returns a committed tracking row.
func (s *Store) Tracking(key mapindex.MapKey) (mapindex.TrackingState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.state.tracking[key]
	return ts, ok
}

// Profiles returns the number of stored profiles.
func (s *Store) Profiles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.profiles)
}

// Stats summarizes row counts.
type Stats struct {
	Maps      int
	Revisions int
	Profiles  int
}

// Stats returns row counts of the committed state.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Maps:      len(s.state.maps),
		Revisions: len(s.state.revisions),
		Profiles:  len(s.state.profiles),
	}
}

func findRevision(st *state, key mapindex.RevisionKey) *mapindex.MapRevision {
	rev, ok := st.revisions[key]
	if !ok {
		return nil
	}
	return &rev
}

type tx struct {
	state *state
}

func (t *tx) FindRevision(_ context.Context, key mapindex.RevisionKey) (*mapindex.MapRevision, error) {
	return findRevision(t.state, key), nil
}

func (t *tx) InsertRevision(_ context.Context, rev *mapindex.MapRevision) error {
	key := rev.Key()
	if _, exists := t.state.revisions[key]; exists {
		return mapindex.ErrDuplicateVersion
	}
	rev.ID = t.state.id()
	t.state.revisions[key] = *rev
	return nil
}

func (t *tx) LockMap(_ context.Context, key mapindex.MapKey, create bool) (*mapindex.Map, error) {
	if m, ok := t.state.maps[key]; ok {
		return &m, nil
	}
	if !create {
		return nil, nil
	}
	m := mapindex.Map{ID: t.state.id(), RegionID: key.RegionID, MapID: key.MapID}
	t.state.maps[key] = m
	return &m, nil
}

func (t *tx) UpdateMap(_ context.Context, m *mapindex.Map) error {
	key := m.Key()
	existing, ok := t.state.maps[key]
	if !ok || existing.ID != m.ID {
		return fmt.Errorf("map %d/%d not found", key.RegionID, key.MapID)
	}
	t.state.maps[key] = *m
	return nil
}

func (t *tx) ReplaceVariants(_ context.Context, mapRowID int64, variants []mapindex.MapVariant) error {
	t.state.variants[mapRowID] = append([]mapindex.MapVariant(nil), variants...)
	return nil
}

func (t *tx) LockTrackingState(_ context.Context, key mapindex.MapKey, create bool) (*mapindex.TrackingState, error) {
	if ts, ok := t.state.tracking[key]; ok {
		return &ts, nil
	}
	if !create {
		return nil, nil
	}
	ts := mapindex.TrackingState{RegionID: key.RegionID, MapID: key.MapID}
	t.state.tracking[key] = ts
	return &ts, nil
}

func (t *tx) UpdateTrackingState(_ context.Context, ts *mapindex.TrackingState) error {
	key := mapindex.MapKey{RegionID: ts.RegionID, MapID: ts.MapID}
	if _, ok := t.state.tracking[key]; !ok {
		return fmt.Errorf("tracking state %d/%d not found", key.RegionID, key.MapID)
	}
	t.state.tracking[key] = *ts
	return nil
}

func (t *tx) EnsureProfile(_ context.Context, p *mapindex.Profile) error {
	if existing, ok := t.state.profiles[p.Key()]; ok {
		p.ID = existing.ID
		return nil
	}
	p.ID = t.state.id()
	t.state.profiles[p.Key()] = *p
	return nil
}
