package platform

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a UUIDv4 string used as the primary key for all broker rows.
func NewID() string {
	return uuid.New().String()
}

// NewSecret returns a random API key secret: the given prefix followed by
// 32 bytes of hex. The prefix makes leaked keys recognizable in scanners.
func NewSecret(prefix string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(b), nil
}
