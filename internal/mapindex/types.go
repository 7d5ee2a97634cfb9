// Package mapindex defines core types shared across the indexing subsystems.
package mapindex

import "time"

// MapType classifies a map document by how it is played.
type MapType string

// Map types derived from the revision header.
const (
	MapTypeMelee         MapType = "melee_map"
	MapTypeArcade        MapType = "arcade_map"
	MapTypeExtensionMod  MapType = "extension_mod"
	MapTypeDependencyMod MapType = "dependency_mod"
)

// RevisionKey is the natural key of a revision row.
type RevisionKey struct {
	RegionID int
	MapID    uint32
	Version  Version
}

// MapKey identifies a map within a region.
type MapKey struct {
	RegionID int
	MapID    uint32
}

// MapRevision is one immutable published version of a map (the "header" row).
type MapRevision struct {
	ID             int64
	RegionID       int
	MapID          uint32
	Version        Version
	HeaderHash     string
	IsPrivate      bool
	IsExtensionMod bool
	ArchiveHash    string
	// ArchiveSize is nil when the archive probe could not determine it.
	ArchiveSize *int64
	UploadedAt  time.Time
}

// Key returns the natural key of the revision.
func (r MapRevision) Key() RevisionKey {
	return RevisionKey{RegionID: r.RegionID, MapID: r.MapID, Version: r.Version}
}

// Map is the denormalized projection of the currently selected revision.
type Map struct {
	ID               int64
	RegionID         int
	MapID            uint32
	Type             MapType
	Name             string
	Description      string
	Website          string
	MainCategoryID   int
	MaxPlayers       int
	IconHash         string
	MainLocale       string
	MainLocaleHash   string
	AvailableLocales uint32

	CurrentRevisionID *int64
	// CurrentVersion mirrors the version of CurrentRevisionID.
	CurrentVersion    *Version
	InitialRevisionID *int64
	AuthorID          *int64
	UpdatedAt         *time.Time
	PublishedAt       *time.Time
}

// Key returns the map key.
func (m Map) Key() MapKey {
	return MapKey{RegionID: m.RegionID, MapID: m.MapID}
}

// MapVariant describes one playable variant of the current revision.
type MapVariant struct {
	Index       int
	Name        string
	CategoryID  int
	ModeID      int
	LobbyDelay  int
	MaxTeamSize int
}

// TrackingState records when a map was last checked for availability.
type TrackingState struct {
	RegionID               int
	MapID                  uint32
	LastCheckedAt          *time.Time
	LastSeenAvailableAt    *time.Time
	FirstSeenUnavailableAt *time.Time
	UnavailabilityCounter  int
}

// MarkAvailable applies a successful availability check observed at checkedAt.
// Older observations leave the state untouched.
func (s *TrackingState) MarkAvailable(checkedAt time.Time) bool {
	if s.LastCheckedAt != nil && !checkedAt.After(*s.LastCheckedAt) {
		return false
	}
	at := checkedAt
	s.LastCheckedAt = &at
	s.LastSeenAvailableAt = &at
	if s.FirstSeenUnavailableAt == nil || !at.Before(*s.FirstSeenUnavailableAt) {
		s.FirstSeenUnavailableAt = nil
		s.UnavailabilityCounter = 0
	}
	return true
}

// ProfileKey identifies an author profile.
type ProfileKey struct {
	RegionID  int
	RealmID   int
	ProfileID uint32
}

// Profile is a foreign author identity referenced by maps.
type Profile struct {
	ID            int64
	RegionID      int
	RealmID       int
	ProfileID     uint32
	Name          string
	Discriminator int
}

// Key returns the profile key.
func (p Profile) Key() ProfileKey {
	return ProfileKey{RegionID: p.RegionID, RealmID: p.RealmID, ProfileID: p.ProfileID}
}

// Category is a map category from the read-only category snapshot.
type Category struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name"`
	IsMelee bool   `yaml:"is_melee"`
}
