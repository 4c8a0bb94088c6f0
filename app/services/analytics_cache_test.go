package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type cachedFunnel struct {
	Total  int64 `json:"total"`
	Unique int64 `json:"unique"`
}

func TestCacheKey_Stable(t *testing.T) {
	a := CacheKey("funnel", map[string]any{"form_id": 1, "entity_id": 2})
	b := CacheKey("funnel", map[string]any{"entity_id": 2, "form_id": 1})
	c := CacheKey("funnel", map[string]any{"form_id": 2})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "funnel:")
}

func TestRedisResultCache_RoundTripAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := NewRedisResultCache(client, "kt:", 30*time.Second, zaptest.NewLogger(t))
	ctx := context.Background()

	var got cachedFunnel
	assert.False(t, cache.Get(ctx, "k", &got))

	cache.Set(ctx, "k", cachedFunnel{Total: 10, Unique: 7})
	require.True(t, cache.Get(ctx, "k", &got))
	assert.Equal(t, cachedFunnel{Total: 10, Unique: 7}, got)

	mr.FastForward(31 * time.Second)
	assert.False(t, cache.Get(ctx, "k", &got))
}

func TestRedisResultCache_FailuresAreMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := NewRedisResultCache(client, "kt:", time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, mr.Set("kt:analytics:bad", "{not json"))
	var got cachedFunnel
	assert.False(t, cache.Get(ctx, "bad", &got))

	mr.Close()
	cache.Set(ctx, "k", cachedFunnel{Total: 1})
	assert.False(t, cache.Get(ctx, "k", &got))
}
