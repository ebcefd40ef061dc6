package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashString returns the hex sha256 of input.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// CacheKey hashes the parts joined by a separator that cannot appear in a model name.
func CacheKey(parts ...string) string {
	return HashString(strings.Join(parts, "\x1f"))
}
