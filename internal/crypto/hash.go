package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the deterministic sha256 hex digest of a string.
// Checksums and integrity tokens are built from this.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the sha256 hex digest of a byte slice
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
