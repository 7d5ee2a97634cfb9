package header

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

// DefaultLocale is preferred when selecting a map's main locale.
const DefaultLocale = "enUS"

// knownLocales fixes the bit position of each locale in availability masks.
var knownLocales = []string{
	"enUS", "deDE", "esES", "esMX", "frFR", "itIT",
	"koKR", "plPL", "ptBR", "ruRU", "zhCN", "zhTW",
}

// LocaleMask returns the availability bit of a locale code, or 0 if unknown.
func LocaleMask(code string) uint32 {
	for i, known := range knownLocales {
		if strings.EqualFold(known, code) {
			return 1 << uint(i)
		}
	}
	return 0
}

// StringTable maps string ids to localized text.
type StringTable map[int]string

// Resolve returns the localized text of ref, falling back to its inline text.
func (t StringTable) Resolve(ref TextRef) string {
	if ref.HasID {
		if s, ok := t[ref.ID]; ok {
			return s
		}
	}
	return ref.Text
}

// Merge copies entries of other that t does not define yet.
func (t StringTable) Merge(other StringTable) {
	for id, s := range other {
		if _, ok := t[id]; !ok {
			t[id] = s
		}
	}
}

// ParseLocale reads a <Locale><e id="N">text</e>...</Locale> document.
func ParseLocale(r io.Reader) (StringTable, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse locale xml: %w", err)
	}
	root := xmlquery.FindOne(doc, "/Locale")
	if root == nil {
		return nil, fmt.Errorf("missing Locale root element")
	}
	table := make(StringTable)
	for _, node := range xmlquery.Find(root, "e") {
		raw := node.SelectAttr("id")
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid string id %q: %w", raw, err)
		}
		table[id] = node.InnerText()
	}
	return table, nil
}
