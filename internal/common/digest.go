package common

import (
	"crypto/sha256"
	"encoding/hex"
)

const HexDigestLength = sha256.Size * 2

// DigestSecret derives the fixed-length identifier the engine stores.
// The raw secret itself never leaves the caller.
func DigestSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func IsHexDigest(s string) bool {
	if len(s) != HexDigestLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
