// Package qbhash implements content hashes used throughout quixbyte to
// identify the bytes of a file at a point in time, independent of its path.
package qbhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size is the number of bytes in a Hash.
const Size = sha256.Size

// Hash is a SHA-256 digest of file content.
type Hash [Size]byte

// Empty is the hash of the empty byte slice, used as the default content
// hash for newly created, still-empty files and as the hash of
// changelog.Base, the sentinel first entry of every flat changelog.
var Empty = Compute(nil)

// Compute returns the hash of b.
func Compute(b []byte) Hash {
	return sha256.Sum256(b)
}

// IsZero reports whether h is the zero value (not to be confused with
// Empty, the hash of zero bytes).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String renders the hash as the first 8 bytes in hex followed by "..",
// matching the teacher's truncated-pointer display convention so that logs
// stay readable.
func (h Hash) String() string {
	return fmt.Sprintf("%x..", h[:8])
}

// Hex renders the full hash as a lowercase hex string.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash bytes.
func (h Hash) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, h[:])
	return b
}

// FromHex parses a hex-encoded hash as produced by Hex.
func FromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("qbhash.FromHex: %w", err)
	}
	if len(b) != Size {
		return h, fmt.Errorf("qbhash.FromHex: expected %d bytes, got %d", Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// FromBytes copies b (which must be Size bytes long) into a Hash.
func FromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Size {
		return h, fmt.Errorf("qbhash.FromBytes: expected %d bytes, got %d", Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}
