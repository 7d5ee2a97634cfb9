package header

// Member tags of the header root struct.
const (
	fieldArchiveHandle  = 0
	fieldMapSize        = 1
	fieldWorkingSet     = 2
	fieldVariants       = 3
	fieldDefaultVariant = 4
	fieldLocaleTables   = 5
	fieldArcadeInfo     = 6
)

// Working set members.
const (
	wsName        = 0
	wsDescription = 1
	wsThumbnail   = 2
	wsBigMap      = 3
	wsMaxPlayers  = 4
)

// Map size members.
const (
	sizeHorizontal = 0
	sizeVertical   = 1
)

// Variant members.
const (
	variantCategoryID   = 0
	variantModeID       = 1
	variantCategoryName = 2
	variantModeName     = 3
	variantAttributes   = 4
	variantMaxTeamSize  = 5
)

// Attribute default members.
const (
	attrNamespace = 0
	attrID        = 1
	attrValue     = 2
)

// Locale table members.
const (
	localeCode        = 0
	localeStringTable = 1
)

// Text reference members: a string table id, with optional inline text.
const (
	textID     = 0
	textInline = 1
)

// Arcade info members.
const (
	arcadeWebsite = 0
)

// An asset handle is a 40 byte blob: 4 byte type, 2 pad bytes,
// 2 byte region, 32 byte SHA-256 digest.
const (
	handleSize       = 40
	handleTypeEnd    = 4
	handleRegionFrom = 6
	handleRegionEnd  = 8
)
