package crypto

import (
	"crypto/sha256"
	"encoding/base64"
)

// HashToken gives a stable, non-reversible key for a token identifier.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
