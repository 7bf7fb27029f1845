package guard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache is a DecisionCache backed by Redis, for deployments where
// multiple instances should share verdicts. Redis errors degrade to a
// cache miss and are logged, never propagated: the cache is an
// optimization, not a dependency.
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string
	log       *zap.Logger
}

// NewRedisCache wraps an existing Redis client. keyPrefix namespaces
// verdict keys (default "bulwark:verdict:" when empty).
func NewRedisCache(client redis.UniversalClient, keyPrefix string, log *zap.Logger) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "bulwark:verdict:"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix, log: log}
}

func (c *RedisCache) key(fp Fingerprint) string {
	return c.keyPrefix + string(fp)
}

// Get fetches and decodes a cached verdict. Any Redis or decode error
// behaves as a miss.
func (c *RedisCache) Get(ctx context.Context, fp Fingerprint) (Verdict, bool) {
	data, err := c.client.Get(ctx, c.key(fp)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("redis cache get failed", zap.String("fingerprint", string(fp)), zap.Error(err))
		}
		return Verdict{}, false
	}

	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		c.log.Warn("redis cache entry corrupt, treating as miss", zap.String("fingerprint", string(fp)), zap.Error(err))
		return Verdict{}, false
	}
	return v, true
}

// Put stores the verdict with the given TTL. SET with expiry gives
// last-write-wins on identical fingerprints for free.
func (c *RedisCache) Put(ctx context.Context, fp Fingerprint, v Verdict, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("verdict marshal failed, skipping cache store", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(fp), data, ttl).Err(); err != nil {
		c.log.Warn("redis cache put failed", zap.String("fingerprint", string(fp)), zap.Error(err))
	}
}

// Len counts entries under the cache prefix. Linear in keyspace; meant
// for diagnostics, not the hot path.
func (c *RedisCache) Len() int {
	ctx := context.Background()
	var cursor uint64
	total := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.keyPrefix+"*", 256).Result()
		if err != nil {
			c.log.Warn("redis cache scan failed", zap.Error(err))
			return total
		}
		total += len(keys)
		if next == 0 {
			return total
		}
		cursor = next
	}
}
