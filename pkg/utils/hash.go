package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashString returns a short stable digest suitable for cache keys. It never
// exposes the input, so tokens and e-mail addresses may be hashed safely.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:12])
}

// CacheKey joins a namespace and a hashed owner into "<namespace>:<digest>".
func CacheKey(namespace string, owner ...string) string {
	return namespace + ":" + HashString(strings.Join(owner, "\x1f"))
}
