package mapindex

import "fmt"

// Version is a (major, minor) revision version.
// On the wire it is packed into a uint32: high 16 bits major, low 16 bits minor.
type Version struct {
	Major uint16
	Minor uint16
}

// DecodeVersion unpacks a wire version.
func DecodeVersion(packed uint32) Version {
	return Version{
		Major: uint16(packed >> 16),
		Minor: uint16(packed & 0xffff),
	}
}

// Packed returns the wire encoding of v.
func (v Version) Packed() uint32 {
	return uint32(v.Major)<<16 | uint32(v.Minor)
}

// IsNotOlder reports whether v is the same as or newer than other.
// Ties resolve in favor of v so re-deliveries re-apply the projection.
func (v Version) IsNotOlder(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor >= other.Minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
