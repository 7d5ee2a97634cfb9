package mapindex

import (
	"context"
	"time"
)

// Store persists revisions, maps, tracking state and profiles.
type Store interface {
	// FindRevision looks up a revision by natural key; it returns nil when absent.
	FindRevision(ctx context.Context, key RevisionKey) (*MapRevision, error)
	// InTx runs fn inside a single transaction. A non-nil return rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close()
}

// Tx exposes the writes the indexer performs atomically.
type Tx interface {
	FindRevision(ctx context.Context, key RevisionKey) (*MapRevision, error)
	// InsertRevision sets rev.ID on success and returns ErrDuplicateVersion when
	// the natural key already exists.
	InsertRevision(ctx context.Context, rev *MapRevision) error
	// LockMap loads the map row for update. When create is set an empty row is
	// inserted first if none exists; otherwise nil is returned for unknown maps.
	LockMap(ctx context.Context, key MapKey, create bool) (*Map, error)
	UpdateMap(ctx context.Context, m *Map) error
	ReplaceVariants(ctx context.Context, mapRowID int64, variants []MapVariant) error
	// LockTrackingState behaves like LockMap for tracking rows.
	LockTrackingState(ctx context.Context, key MapKey, create bool) (*TrackingState, error)
	UpdateTrackingState(ctx context.Context, state *TrackingState) error
	// EnsureProfile inserts the profile if absent and sets p.ID; existing rows are never overwritten.
	EnsureProfile(ctx context.Context, p *Profile) error
}

// Processor handles one event end to end.
type Processor interface {
	Process(ctx context.Context, event Event) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
