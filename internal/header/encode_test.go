package header

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// Minimal encoder for building fixtures.

func rawVint(n int64) []byte {
	var sign byte
	mag := uint64(n)
	if n < 0 {
		sign = 1
		mag = uint64(-n)
	}
	out := []byte{byte(mag&0x3f)<<1 | sign}
	mag >>= 6
	for mag > 0 {
		out[len(out)-1] |= 0x80
		out = append(out, byte(mag&0x7f))
		mag >>= 7
	}
	return out
}

func encVint(n int64) []byte {
	return append([]byte{byte(KindVInt)}, rawVint(n)...)
}

func encU8(n byte) []byte { return []byte{byte(KindU8), n} }

func encU32(n uint32) []byte {
	out := []byte{byte(KindU32), 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(out[1:], n)
	return out
}

func encU64(n uint64) []byte {
	out := make([]byte, 9)
	out[0] = byte(KindU64)
	binary.LittleEndian.PutUint64(out[1:], n)
	return out
}

func encBlob(b []byte) []byte {
	out := append([]byte{byte(KindBlob)}, rawVint(int64(len(b)))...)
	return append(out, b...)
}

func encBits(bits int, b []byte) []byte {
	out := append([]byte{byte(KindBitArray)}, rawVint(int64(bits))...)
	return append(out, b...)
}

func encArray(items ...[]byte) []byte {
	out := append([]byte{byte(KindArray)}, rawVint(int64(len(items)))...)
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func encChoice(tag int, v []byte) []byte {
	out := append([]byte{byte(KindChoice)}, rawVint(int64(tag))...)
	return append(out, v...)
}

func encOptional(v []byte) []byte {
	if v == nil {
		return []byte{byte(KindOptional), 0}
	}
	return append([]byte{byte(KindOptional), 1}, v...)
}

func encStruct(fields map[int][]byte) []byte {
	tags := make([]int, 0, len(fields))
	for tag := range fields {
		tags = append(tags, tag)
	}
	sort.Ints(tags)
	out := append([]byte{byte(KindStruct)}, rawVint(int64(len(fields)))...)
	for _, tag := range tags {
		out = append(out, rawVint(int64(tag))...)
		out = append(out, fields[tag]...)
	}
	return out
}

func encHandle(typ, region, hexHash string) []byte {
	raw := make([]byte, handleSize)
	copy(raw, typ)
	copy(raw[handleRegionFrom:], region)
	digest, err := hex.DecodeString(hexHash)
	if err != nil {
		panic(err)
	}
	copy(raw[handleRegionEnd:], digest)
	return encBlob(raw)
}

func encText(id int, inline string) []byte {
	fields := map[int][]byte{textID: encVint(int64(id))}
	if inline != "" {
		fields[textInline] = encBlob([]byte(inline))
	}
	return encStruct(fields)
}

func hash64(c byte) string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

type fixture struct {
	archive      string
	withSize     bool
	extraLocales []string
	withArcade   bool
}

func buildHeader(f fixture) []byte {
	variant := encStruct(map[int][]byte{
		variantCategoryID:   encVint(1),
		variantModeID:       encVint(2),
		variantCategoryName: encText(10, ""),
		variantModeName:     encText(11, ""),
		variantAttributes: encArray(
			encStruct(map[int][]byte{attrNamespace: encVint(999), attrID: encVint(3007), attrValue: encVint(15)}),
			encStruct(map[int][]byte{attrNamespace: encVint(999), attrID: encVint(2001), attrValue: encU32(4)}),
		),
		variantMaxTeamSize: encVint(4),
	})

	tables := [][]byte{
		encStruct(map[int][]byte{
			localeCode:        encU32(binary.LittleEndian.Uint32([]byte("deDE"))),
			localeStringTable: encArray(encHandle("s2ml", "EU", hash64('d'))),
		}),
		encStruct(map[int][]byte{
			localeCode:        encBlob([]byte("enUS")),
			localeStringTable: encArray(encHandle("s2ml", "EU", hash64('e'))),
		}),
	}
	for _, code := range f.extraLocales {
		tables = append(tables, encStruct(map[int][]byte{localeCode: encBlob([]byte(code))}))
	}

	root := map[int][]byte{
		fieldArchiveHandle: encHandle("s2ma", "EU", f.archive),
		fieldWorkingSet: encStruct(map[int][]byte{
			wsName:        encText(1, "Fallback Name"),
			wsDescription: encText(2, ""),
			wsThumbnail:   encOptional(encHandle("s2mv", "EU", hash64('c'))),
			wsBigMap:      encOptional(nil),
			wsMaxPlayers:  encU8(8),
		}),
		fieldVariants:       encArray(variant),
		fieldDefaultVariant: encVint(0),
		fieldLocaleTables:   encArray(tables...),
	}
	if f.withSize {
		root[fieldMapSize] = encOptional(encStruct(map[int][]byte{sizeHorizontal: encVint(128), sizeVertical: encVint(96)}))
	} else {
		root[fieldMapSize] = encOptional(nil)
	}
	if f.withArcade {
		root[fieldArcadeInfo] = encOptional(encStruct(map[int][]byte{arcadeWebsite: encText(3, "")}))
	}
	return encStruct(root)
}
