package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const (
	secretPrefix = "zyp_"
	secretBytes  = 32
	prefixLength = 12
)

// generateSecret returns a new raw key with its display prefix and stored hash.
func generateSecret() (raw, prefix, hash string, err error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", err
	}
	raw = secretPrefix + hex.EncodeToString(b)
	return raw, raw[:prefixLength], hashSecret(raw), nil
}

func hashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func hashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
