// Package sha256 provides SHA-256 digests for content-addressed depot assets.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

// HexLength is the length of a hex-encoded SHA-256 digest.
const HexLength = sha256.Size * 2

// Hasher computes hex digests of asset bodies.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewDigest starts a streaming digest; write the body to it and call Hex.
func (h *Hasher) NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Digest is an io.Writer accumulating a SHA-256 sum.
type Digest struct {
	h hash.Hash
}

// Write feeds p into the digest.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Hex returns the lowercase hex digest of everything written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// IsDigest reports whether s looks like a hex SHA-256 digest.
func IsDigest(s string) bool {
	if len(s) != HexLength {
		return false
	}
	for _, r := range strings.ToLower(s) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
