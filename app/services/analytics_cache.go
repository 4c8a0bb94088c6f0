package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ResultCache stores JSON-encoded query results for a short time
type ResultCache interface {
	// Get decodes a cached value into dst and reports whether it was found
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, value any)
}

// CacheKey hashes a namespace and a parameter document into a stable key
func CacheKey(namespace string, params any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(err.Error())
	}
	sum := sha256.Sum256(raw)
	return namespace + ":" + hex.EncodeToString(sum[:16])
}

// RedisResultCache is a ResultCache on Redis. Every failure is treated as a miss.
type RedisResultCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisResultCache(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisResultCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisResultCache{client: client, prefix: prefix + "analytics:", ttl: ttl, logger: logger.Named("analytics_cache")}
}

func (c *RedisResultCache) Get(ctx context.Context, key string, dst any) bool {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			AnalyticsCacheLookups.WithLabelValues("error").Inc()
			c.logger.Warn("Analytics cache read failed", zap.String("key", key), zap.Error(err))
			return false
		}
		AnalyticsCacheLookups.WithLabelValues("miss").Inc()
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		AnalyticsCacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("Analytics cache entry is corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	AnalyticsCacheLookups.WithLabelValues("hit").Inc()
	return true
}

func (c *RedisResultCache) Set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Failed to encode analytics result", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Analytics cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// NoopResultCache never stores anything
type NoopResultCache struct{}

func (NoopResultCache) Get(context.Context, string, any) bool { return false }
func (NoopResultCache) Set(context.Context, string, any)      {}
