// Package category loads the read-only map category snapshot.
package category

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
)

// Snapshot is an immutable id → category lookup, safe for concurrent reads.
type Snapshot struct {
	byID map[int]mapindex.Category
}

type file struct {
	Categories []mapindex.Category `yaml:"categories"`
}

// Defaults returns the built-in category set.
func Defaults() *Snapshot {
	return New([]mapindex.Category{
		{ID: 1, Name: "Melee", IsMelee: true},
		{ID: 2, Name: "Custom", IsMelee: false},
		{ID: 3, Name: "Unranked", IsMelee: true},
		{ID: 4, Name: "Tutorial", IsMelee: false},
		{ID: 5, Name: "Arcade", IsMelee: false},
	})
}

// New builds a snapshot from a category list. Later duplicates win.
func New(categories []mapindex.Category) *Snapshot {
	byID := make(map[int]mapindex.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}
	return &Snapshot{byID: byID}
}

// Load reads a YAML snapshot from path. An empty path yields Defaults.
func Load(path string) (*Snapshot, error) {
	if path == "" {
		return Defaults(), nil
	}
	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML snapshot document.
func Parse(raw []byte) (*Snapshot, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("parse categories: no categories defined")
	}
	for _, c := range f.Categories {
		if c.ID <= 0 {
			return nil, fmt.Errorf("parse categories: invalid id %d for %q", c.ID, c.Name)
		}
	}
	return New(f.Categories), nil
}

// Get returns the category with id.
func (s *Snapshot) Get(id int) (mapindex.Category, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// IsMelee reports whether id names a melee category. Unknown ids are not melee.
func (s *Snapshot) IsMelee(id int) bool {
	return s.byID[id].IsMelee
}

// All returns the categories ordered by id.
func (s *Snapshot) All() []mapindex.Category {
	out := make([]mapindex.Category, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
