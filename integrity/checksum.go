// Package integrity checksums file content, re-validates dictionaries
// independently of the builder, and reads and writes the verification
// manifest.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Checksum identifies one file's content.
type Checksum struct {
	Fast   uint64 // xxhash64, always set
	Digest string // hex SHA-256, empty in fast mode
	Size   int64
}

// Compute checksums b. The SHA-256 digest is skipped when fast is true.
func Compute(b []byte, fast bool) Checksum {
	c := Checksum{
		Fast: xxhash.Sum64(b),
		Size: int64(len(b)),
	}
	if !fast {
		sum := sha256.Sum256(b)
		c.Digest = hex.EncodeToString(sum[:])
	}
	return c
}

// Matches compares two checksums. Digests are only compared when both sides
// carry one.
func (c Checksum) Matches(o Checksum) bool {
	if c.Fast != o.Fast || c.Size != o.Size {
		return false
	}
	if c.Digest != "" && o.Digest != "" {
		return c.Digest == o.Digest
	}
	return true
}
