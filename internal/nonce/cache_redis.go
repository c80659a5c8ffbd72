package nonce

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rxn:"

// RedisCache is a Redis-backed Cache for deployments running more than one
// gateway process. A single SET NX PX round trip both checks and records the
// nonce; Redis owns expiry, so there is no sweep.
//
// Note the semantic difference from MemoryCache: expiry runs on the Redis
// clock from insertion time, not against the caller-supplied now. Within the
// intended configuration (ttl >= 2x request window) the observable behavior
// is identical.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Consume(ctx context.Context, nonce string, _ time.Time, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, redisKeyPrefix+nonce, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
