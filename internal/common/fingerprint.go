package common

import (
	"crypto/sha256"
	"encoding/hex"
)

const fingerprintLen = 12

// TokenFingerprint identifies a refresh token in listings without revealing
// it: the first hex digits of its SHA-256. Empty input gives "".
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
