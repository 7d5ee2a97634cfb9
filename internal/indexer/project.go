package indexer

import (
	"context"
	"time"

	"github.com/JakeFAU/sc2-map-indexer/internal/header"
	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
)

// Lobby delay attribute and its fallback, in seconds.
const (
	lobbyDelayNamespace = 999
	lobbyDelayAttribute = 3007
	defaultLobbyDelay   = 10
)

// projection holds the map fields derived from one revision header.
type projection struct {
	Type             mapindex.MapType
	Name             string
	Description      string
	Website          string
	MainCategoryID   int
	MaxPlayers       int
	IconHash         string
	MainLocale       string
	MainLocaleHash   string
	AvailableLocales uint32
	Variants         []mapindex.MapVariant

	icon *header.AssetHandle
}

// projectMapFields derives the denormalized map fields from a resolved header.
func (i *Indexer) projectMapFields(ctx context.Context, region string, rev *header.Revision, isExtensionMod bool) (*projection, error) {
	doc := rev.Document
	p := &projection{}

	var categoryID int
	if dv := doc.DefaultVariant(); dv != nil {
		categoryID = dv.CategoryID
	}
	p.MainCategoryID = categoryID

	switch {
	case doc.MapSize != nil:
		if i.categories.IsMelee(categoryID) {
			p.Type = mapindex.MapTypeMelee
		} else {
			p.Type = mapindex.MapTypeArcade
		}
	case isExtensionMod:
		p.Type = mapindex.MapTypeExtensionMod
	default:
		p.Type = mapindex.MapTypeDependencyMod
	}

	for _, table := range doc.LocaleTables {
		p.AvailableLocales |= header.LocaleMask(table.Locale)
	}

	main := doc.MainLocale(i.cfg.DefaultLocale)
	strings := header.StringTable{}
	if main != nil {
		p.MainLocale = main.Locale
		if len(main.StringTable) > 0 {
			p.MainLocaleHash = main.StringTable[0].Hash
		}
		var err error
		if strings, err = i.resolver.ResolveTable(ctx, region, main); err != nil {
			return nil, err
		}
	}

	ws := doc.WorkingSet
	p.Name = strings.Resolve(ws.Name)
	p.Description = strings.Resolve(ws.Description)
	p.MaxPlayers = ws.MaxPlayers
	if doc.ArcadeInfo != nil {
		p.Website = strings.Resolve(doc.ArcadeInfo.Website)
	}
	if ws.Thumbnail != nil {
		icon := *ws.Thumbnail
		p.icon = &icon
		p.IconHash = icon.Hash
	}

	for idx, v := range doc.Variants {
		name := strings.Resolve(v.ModeName)
		if name == "" {
			name = strings.Resolve(v.CategoryName)
		}
		delay := defaultLobbyDelay
		if value, ok := v.Attribute(lobbyDelayNamespace, lobbyDelayAttribute); ok {
			delay = int(value)
		}
		p.Variants = append(p.Variants, mapindex.MapVariant{
			Index:       idx,
			Name:        name,
			CategoryID:  v.CategoryID,
			ModeID:      v.ModeID,
			LobbyDelay:  delay,
			MaxTeamSize: v.MaxTeamSize,
		})
	}
	return p, nil
}

// apply copies the projection and the selected revision onto m.
func (p *projection) apply(m *mapindex.Map, rev *mapindex.MapRevision, updatedAt time.Time) {
	m.Type = p.Type
	m.Name = p.Name
	m.Description = p.Description
	m.Website = p.Website
	m.MainCategoryID = p.MainCategoryID
	m.MaxPlayers = p.MaxPlayers
	m.IconHash = p.IconHash
	m.MainLocale = p.MainLocale
	m.MainLocaleHash = p.MainLocaleHash
	m.AvailableLocales = p.AvailableLocales

	id := rev.ID
	version := rev.Version
	m.CurrentRevisionID = &id
	m.CurrentVersion = &version
	if !updatedAt.IsZero() {
		at := updatedAt
		m.UpdatedAt = &at
	}
}
