package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashStringIsStableAndOpaque(t *testing.T) {
	a := HashString("alice@example.com")
	assert.Equal(t, a, HashString("alice@example.com"))
	assert.NotEqual(t, a, HashString("bob@example.com"))
	assert.Len(t, a, 24)
	assert.NotContains(t, a, "alice")
}

func TestCacheKeyNamespacesOwners(t *testing.T) {
	k := CacheKey("bots", "7")
	assert.True(t, strings.HasPrefix(k, "bots:"))
	assert.NotEqual(t, k, CacheKey("overview", "7"))
	assert.NotEqual(t, CacheKey("bots", "a", "bc"), CacheKey("bots", "ab", "c"))
}
