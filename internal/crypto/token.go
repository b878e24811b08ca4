package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/google/uuid"
)

// NewUniqueToken returns a unique opaque token: a UUIDv4 with extra
// random suffix so tokens stay unique even under a broken clock.
func NewUniqueToken() string {
	suffix := make([]byte, 4)
	if _, err := io.ReadFull(rand.Reader, suffix); err != nil {
		return uuid.NewString()
	}
	return uuid.NewString() + "-" + hex.EncodeToString(suffix)
}
