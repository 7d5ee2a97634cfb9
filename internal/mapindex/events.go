package mapindex

import (
	"fmt"
	"time"
)

// EventKind distinguishes discover and revision events.
type EventKind string

// Event kinds accepted by the indexer.
const (
	EventDiscover EventKind = "discover"
	EventRevision EventKind = "revision"
)

// Scheduling priorities; higher runs first.
const (
	PriorityRevision = 1
	PriorityDiscover = 2
)

// AuthorInfo identifies the author reported by a discover event.
type AuthorInfo struct {
	RegionID      int    `json:"regionId"`
	RealmID       int    `json:"realmId"`
	ProfileID     uint32 `json:"profileId"`
	Name          string `json:"name"`
	Discriminator int    `json:"discriminator"`
}

// Profile converts the author into a profile row.
func (a AuthorInfo) Profile() Profile {
	return Profile{
		RegionID:      a.RegionID,
		RealmID:       a.RealmID,
		ProfileID:     a.ProfileID,
		Name:          a.Name,
		Discriminator: a.Discriminator,
	}
}

// RevisionInfo is the revision payload carried by events.
type RevisionInfo struct {
	MapVersion     uint32 `json:"mapVersion"`
	HeaderHash     string `json:"headerHash"`
	IsPrivate      bool   `json:"isPrivate"`
	IsExtensionMod bool   `json:"isExtensionMod"`
}

// DiscoverEvent reports a map's author, initial and latest revisions.
type DiscoverEvent struct {
	RegionID        int          `json:"regionId"`
	MapID           uint32       `json:"mapId"`
	QueriedAt       int64        `json:"queriedAt"`
	Author          AuthorInfo   `json:"author"`
	InitialRevision RevisionInfo `json:"initialRevision"`
	LatestRevision  RevisionInfo `json:"latestRevision"`
}

// RevisionEvent reports one newly observed version of a known map.
type RevisionEvent struct {
	RegionID  int    `json:"regionId"`
	MapID     uint32 `json:"mapId"`
	QueriedAt int64  `json:"queriedAt"`
	RevisionInfo
}

// Event is a single unit of work for the pipeline.
type Event struct {
	Kind     EventKind
	Discover *DiscoverEvent
	Revision *RevisionEvent
}

// NewDiscover wraps a discover event.
func NewDiscover(ev DiscoverEvent) Event {
	return Event{Kind: EventDiscover, Discover: &ev}
}

// NewRevision wraps a revision event.
func NewRevision(ev RevisionEvent) Event {
	return Event{Kind: EventRevision, Revision: &ev}
}

// Priority returns the scheduling weight of the event.
func (e Event) Priority() int {
	if e.Kind == EventDiscover {
		return PriorityDiscover
	}
	return PriorityRevision
}

// Target returns the map the event refers to.
func (e Event) Target() MapKey {
	switch {
	case e.Discover != nil:
		return MapKey{RegionID: e.Discover.RegionID, MapID: e.Discover.MapID}
	case e.Revision != nil:
		return MapKey{RegionID: e.Revision.RegionID, MapID: e.Revision.MapID}
	default:
		return MapKey{}
	}
}

// Validate checks that the event carries the payload its kind requires.
func (e Event) Validate() error {
	switch e.Kind {
	case EventDiscover:
		if e.Discover == nil {
			return fmt.Errorf("discover event without payload")
		}
		if e.Discover.LatestRevision.HeaderHash == "" || e.Discover.InitialRevision.HeaderHash == "" {
			return fmt.Errorf("discover event for map %d missing header hash", e.Discover.MapID)
		}
	case EventRevision:
		if e.Revision == nil {
			return fmt.Errorf("revision event without payload")
		}
		if e.Revision.HeaderHash == "" {
			return fmt.Errorf("revision event for map %d missing header hash", e.Revision.MapID)
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if _, err := RegionCode(e.Target().RegionID); err != nil {
		return err
	}
	return nil
}

// UnixTime converts a unix-seconds timestamp into UTC time.
func UnixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
