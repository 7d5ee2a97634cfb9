// Package header decodes map revision headers and their locale string tables.
package header

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AssetHandle addresses a depot asset by content hash.
type AssetHandle struct {
	Type   string
	Region string
	Hash   string
}

// Filename returns the depot filename of the asset.
func (h AssetHandle) Filename() string {
	return h.Hash + "." + h.Type
}

// TextRef points into a locale string table.
type TextRef struct {
	ID    int
	HasID bool
	// Text is inline fallback text used when the id cannot be resolved.
	Text string
}

// MapSize is present for playable maps only.
type MapSize struct {
	Width  int
	Height int
}

// WorkingSet holds the map-level presentation fields.
type WorkingSet struct {
	Name        TextRef
	Description TextRef
	Thumbnail   *AssetHandle
	BigMap      *AssetHandle
	MaxPlayers  int
}

// AttributeDefault is the default value of a lobby attribute for a variant.
type AttributeDefault struct {
	Namespace int
	ID        int
	Value     int64
}

// Variant is one playable game variant.
type Variant struct {
	CategoryID        int
	ModeID            int
	CategoryName      TextRef
	ModeName          TextRef
	AttributeDefaults []AttributeDefault
	MaxTeamSize       int
}

// Attribute returns the default value of attribute (namespace, id).
func (v Variant) Attribute(namespace, id int) (int64, bool) {
	for _, a := range v.AttributeDefaults {
		if a.Namespace == namespace && a.ID == id {
			return a.Value, true
		}
	}
	return 0, false
}

// LocaleTable lists the string table assets of one locale.
type LocaleTable struct {
	Locale      string
	StringTable []AssetHandle
}

// ArcadeInfo carries arcade listing details.
type ArcadeInfo struct {
	Website TextRef
}

// Document is a decoded revision header.
type Document struct {
	ArchiveHandle       AssetHandle
	MapSize             *MapSize
	WorkingSet          WorkingSet
	Variants            []Variant
	DefaultVariantIndex int
	LocaleTables        []LocaleTable
	ArcadeInfo          *ArcadeInfo
}

// DefaultVariant returns the default variant, falling back to the first one.
func (d *Document) DefaultVariant() *Variant {
	if d.DefaultVariantIndex >= 0 && d.DefaultVariantIndex < len(d.Variants) {
		return &d.Variants[d.DefaultVariantIndex]
	}
	if len(d.Variants) > 0 {
		return &d.Variants[0]
	}
	return nil
}

// MainLocale returns the table for preferred, else the first table.
func (d *Document) MainLocale(preferred string) *LocaleTable {
	for i := range d.LocaleTables {
		if d.LocaleTables[i].Locale == preferred {
			return &d.LocaleTables[i]
		}
	}
	if len(d.LocaleTables) > 0 {
		return &d.LocaleTables[0]
	}
	return nil
}

// Parse decodes data and extracts the header document.
func Parse(data []byte) (*Document, error) {
	root, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return fromValue(root)
}

func fromValue(root Value) (*Document, error) {
	doc := &Document{}

	archive, ok := root.Field(fieldArchiveHandle)
	if !ok {
		return nil, fmt.Errorf("missing archive handle")
	}
	handle, err := assetHandle(archive)
	if err != nil {
		return nil, fmt.Errorf("archive handle: %w", err)
	}
	doc.ArchiveHandle = handle

	if size, ok := root.Field(fieldMapSize); ok {
		doc.MapSize = &MapSize{
			Width:  intField(size, sizeHorizontal),
			Height: intField(size, sizeVertical),
		}
	}

	ws, ok := root.Field(fieldWorkingSet)
	if !ok {
		return nil, fmt.Errorf("missing working set")
	}
	if doc.WorkingSet, err = workingSet(ws); err != nil {
		return nil, fmt.Errorf("working set: %w", err)
	}

	if list, ok := root.Field(fieldVariants); ok {
		items, ok := list.AsList()
		if !ok {
			return nil, fmt.Errorf("variants: expected array")
		}
		for i, item := range items {
			variant, err := parseVariant(item)
			if err != nil {
				return nil, fmt.Errorf("variant %d: %w", i, err)
			}
			doc.Variants = append(doc.Variants, variant)
		}
	}
	doc.DefaultVariantIndex = intField(root, fieldDefaultVariant)

	if list, ok := root.Field(fieldLocaleTables); ok {
		items, ok := list.AsList()
		if !ok {
			return nil, fmt.Errorf("locale tables: expected array")
		}
		for i, item := range items {
			table, err := localeTable(item)
			if err != nil {
				return nil, fmt.Errorf("locale table %d: %w", i, err)
			}
			doc.LocaleTables = append(doc.LocaleTables, table)
		}
	}

	if arcade, ok := root.Field(fieldArcadeInfo); ok {
		doc.ArcadeInfo = &ArcadeInfo{Website: textRef(arcade, arcadeWebsite)}
	}
	return doc, nil
}

func workingSet(v Value) (WorkingSet, error) {
	ws := WorkingSet{
		Name:        textRef(v, wsName),
		Description: textRef(v, wsDescription),
		MaxPlayers:  intField(v, wsMaxPlayers),
	}
	for tag, dst := range map[int]**AssetHandle{wsThumbnail: &ws.Thumbnail, wsBigMap: &ws.BigMap} {
		raw, ok := v.Field(tag)
		if !ok {
			continue
		}
		h, err := assetHandle(raw)
		if err != nil {
			return WorkingSet{}, err
		}
		*dst = &h
	}
	return ws, nil
}

func parseVariant(v Value) (Variant, error) {
	variant := Variant{
		CategoryID:   intField(v, variantCategoryID),
		ModeID:       intField(v, variantModeID),
		CategoryName: textRef(v, variantCategoryName),
		ModeName:     textRef(v, variantModeName),
		MaxTeamSize:  intField(v, variantMaxTeamSize),
	}
	if list, ok := v.Field(variantAttributes); ok {
		items, ok := list.AsList()
		if !ok {
			return Variant{}, fmt.Errorf("attribute defaults: expected array")
		}
		for _, item := range items {
			value, _ := item.Field(attrValue)
			n, _ := value.AsInt()
			variant.AttributeDefaults = append(variant.AttributeDefaults, AttributeDefault{
				Namespace: intField(item, attrNamespace),
				ID:        intField(item, attrID),
				Value:     n,
			})
		}
	}
	return variant, nil
}

func localeTable(v Value) (LocaleTable, error) {
	code, ok := v.Field(localeCode)
	if !ok {
		return LocaleTable{}, fmt.Errorf("missing locale code")
	}
	raw, ok := code.AsBytes()
	if !ok {
		return LocaleTable{}, fmt.Errorf("locale code: unexpected %s", code.Kind)
	}
	table := LocaleTable{Locale: strings.TrimRight(string(raw), "\x00")}

	if list, ok := v.Field(localeStringTable); ok {
		items, ok := list.AsList()
		if !ok {
			return LocaleTable{}, fmt.Errorf("string table: expected array")
		}
		for _, item := range items {
			h, err := assetHandle(item)
			if err != nil {
				return LocaleTable{}, err
			}
			table.StringTable = append(table.StringTable, h)
		}
	}
	return table, nil
}

func assetHandle(v Value) (AssetHandle, error) {
	raw, ok := v.AsBytes()
	if !ok {
		return AssetHandle{}, fmt.Errorf("asset handle: unexpected %s", v.Kind)
	}
	if len(raw) != handleSize {
		return AssetHandle{}, fmt.Errorf("asset handle: %d bytes", len(raw))
	}
	return AssetHandle{
		Type:   strings.TrimRight(string(raw[:handleTypeEnd]), "\x00"),
		Region: strings.ToLower(strings.TrimRight(string(raw[handleRegionFrom:handleRegionEnd]), "\x00")),
		Hash:   hex.EncodeToString(raw[handleRegionEnd:]),
	}, nil
}

func textRef(v Value, tag int) TextRef {
	raw, ok := v.Field(tag)
	if !ok {
		return TextRef{}
	}
	var ref TextRef
	if id, ok := raw.Field(textID); ok {
		if n, ok := id.AsInt(); ok {
			ref.ID, ref.HasID = int(n), true
		}
	}
	if inline, ok := raw.Field(textInline); ok {
		if b, ok := inline.AsBytes(); ok {
			ref.Text = string(b)
		}
	}
	return ref
}

func intField(v Value, tag int) int {
	f, ok := v.Field(tag)
	if !ok {
		return 0
	}
	n, _ := f.AsInt()
	return int(n)
}
