package header

// Kind is the wire type tag that prefixes every encoded value.
type Kind uint8

// Wire type tags of the versioned encoding.
const (
	KindArray    Kind = 0
	KindBitArray Kind = 1
	KindBlob     Kind = 2
	KindChoice   Kind = 3
	KindOptional Kind = 4
	KindStruct   Kind = 5
	KindU8       Kind = 6
	KindU32      Kind = 7
	KindU64      Kind = 8
	KindVInt     Kind = 9
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "array"
	case KindBitArray:
		return "bitarray"
	case KindBlob:
		return "blob"
	case KindChoice:
		return "choice"
	case KindOptional:
		return "optional"
	case KindStruct:
		return "struct"
	case KindU8:
		return "u8"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindVInt:
		return "vint"
	default:
		return "unknown"
	}
}

// Value is one decoded node. Only the members matching Kind are populated.
type Value struct {
	Kind Kind
	// Int holds u8, u32, u64 and vint payloads. u64 values above MaxInt64 wrap.
	Int int64
	// Bytes holds blob and bitarray payloads and the raw bytes of u32.
	Bytes []byte
	// Bits is the bit length of a bitarray.
	Bits   int
	Items  []Value
	Fields map[int]Value
	// Tag is the selected branch of a choice.
	Tag int
	// Elem is the choice payload, or the optional payload when present.
	Elem *Value
}

// unwrap strips optional and choice wrappers. Absent optionals report false.
func (v Value) unwrap() (Value, bool) {
	for v.Kind == KindOptional || v.Kind == KindChoice {
		if v.Elem == nil {
			return Value{}, false
		}
		v = *v.Elem
	}
	return v, true
}

// Field returns the struct member with the given tag.
func (v Value) Field(tag int) (Value, bool) {
	v, ok := v.unwrap()
	if !ok || v.Kind != KindStruct {
		return Value{}, false
	}
	f, ok := v.Fields[tag]
	if !ok {
		return Value{}, false
	}
	return f.unwrap()
}

// AsInt returns the integer payload of numeric kinds.
func (v Value) AsInt() (int64, bool) {
	v, ok := v.unwrap()
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case KindU8, KindU32, KindU64, KindVInt:
		return v.Int, true
	default:
		return 0, false
	}
}

// AsBytes returns blob bytes, or the raw four bytes of a u32 (fourcc).
func (v Value) AsBytes() ([]byte, bool) {
	v, ok := v.unwrap()
	if !ok {
		return nil, false
	}
	switch v.Kind {
	case KindBlob, KindBitArray, KindU32:
		return v.Bytes, true
	default:
		return nil, false
	}
}

// AsList returns array items.
func (v Value) AsList() ([]Value, bool) {
	v, ok := v.unwrap()
	if !ok || v.Kind != KindArray {
		return nil, false
	}
	return v.Items, true
}
