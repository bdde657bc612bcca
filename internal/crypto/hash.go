package crypto

import (
	"crypto/sha256"
	"fmt"
)

// KeyHash computes the SHA-256 hex hash of an API key secret. Only this
// hash is stored and used for lookup; the raw secret is never persisted.
func KeyHash(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%x", h)
}
