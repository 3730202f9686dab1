package qa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheKeyVariesWithEveryInput(t *testing.T) {
	var base = cacheKey("docs", "general", 5, "what is alpha?")
	require.Equal(t, base, cacheKey("docs", "general", 5, "what is alpha?"))

	require.NotEqual(t, base, cacheKey("docs", "general", 3, "what is alpha?"))
	require.NotEqual(t, base, cacheKey("docs", "research", 5, "what is alpha?"))
	require.NotEqual(t, base, cacheKey("other", "general", 5, "what is alpha?"))
	require.NotEqual(t, base, cacheKey("docs", "general", 5, "what is beta?"))
}

func TestNilCacheIsNoOp(t *testing.T) {
	var c *Cache
	var _, ok = c.Get(context.Background(), "k")
	require.False(t, ok)
	c.Put(context.Background(), "k", Response{})
	require.NoError(t, c.Close())
}
