package header

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const maxDepth = 64

var (
	errTruncated = errors.New("unexpected end of data")
	errDepth     = errors.New("nesting too deep")
)

// Decode parses a versioned-encoded buffer into its root value.
// Trailing bytes after the root value are rejected.
func Decode(data []byte) (Value, error) {
	d := &decoder{data: data}
	v, err := d.value(0)
	if err != nil {
		return Value{}, fmt.Errorf("offset %d: %w", d.pos, err)
	}
	if d.pos != len(d.data) {
		return Value{}, fmt.Errorf("offset %d: %d trailing bytes", d.pos, len(d.data)-d.pos)
	}
	return v, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) value(depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, errDepth
	}
	b, err := d.byte()
	if err != nil {
		return Value{}, err
	}
	kind := Kind(b)
	switch kind {
	case KindArray:
		n, err := d.length(1)
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, 0, n)
		for i := 0; i < n; i++ {
			item, err := d.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{Kind: kind, Items: items}, nil

	case KindBitArray:
		bits, err := d.vint()
		if err != nil {
			return Value{}, err
		}
		if bits < 0 {
			return Value{}, fmt.Errorf("negative bitarray length %d", bits)
		}
		raw, err := d.take(int((bits + 7) / 8))
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Bits: int(bits), Bytes: raw}, nil

	case KindBlob:
		n, err := d.length(1)
		if err != nil {
			return Value{}, err
		}
		raw, err := d.take(n)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Bytes: raw}, nil

	case KindChoice:
		tag, err := d.vint()
		if err != nil {
			return Value{}, err
		}
		elem, err := d.value(depth + 1)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Tag: int(tag), Elem: &elem}, nil

	case KindOptional:
		present, err := d.byte()
		if err != nil {
			return Value{}, err
		}
		if present == 0 {
			return Value{Kind: kind}, nil
		}
		elem, err := d.value(depth + 1)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Elem: &elem}, nil

	case KindStruct:
		// Every member costs at least two bytes: its tag and its type.
		n, err := d.length(2)
		if err != nil {
			return Value{}, err
		}
		fields := make(map[int]Value, n)
		for i := 0; i < n; i++ {
			tag, err := d.vint()
			if err != nil {
				return Value{}, err
			}
			f, err := d.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			fields[int(tag)] = f
		}
		return Value{Kind: kind, Fields: fields}, nil

	case KindU8:
		v, err := d.byte()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Int: int64(v)}, nil

	case KindU32:
		raw, err := d.take(4)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Int: int64(binary.LittleEndian.Uint32(raw)), Bytes: raw}, nil

	case KindU64:
		raw, err := d.take(8)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Int: int64(binary.LittleEndian.Uint64(raw))}, nil //nolint:gosec // wraps by contract

	case KindVInt:
		v, err := d.vint()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Int: v}, nil

	default:
		return Value{}, fmt.Errorf("unknown type tag %d", b)
	}
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, errTruncated
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || n > len(d.data)-d.pos {
		return nil, errTruncated
	}
	out := d.data[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

// length reads a vint count and bounds it by the bytes left, given the
// minimum encoded size of one element.
func (d *decoder) length(minElem int) (int, error) {
	n, err := d.vint()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative length %d", n)
	}
	if n > int64((len(d.data)-d.pos)/minElem) {
		return 0, errTruncated
	}
	return int(n), nil
}

// vint reads a zig-zag style variable integer: bit 0 of the first byte is the
// sign, the next six bits the low value bits, bit 7 the continuation flag.
func (d *decoder) vint() (int64, error) {
	b, err := d.byte()
	if err != nil {
		return 0, err
	}
	negative := b&1 != 0
	result := int64(b>>1) & 0x3f
	shift := uint(6)
	for b&0x80 != 0 {
		if shift > 62 {
			return 0, errors.New("vint overflow")
		}
		if b, err = d.byte(); err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
	}
	if negative {
		return -result, nil
	}
	return result, nil
}
