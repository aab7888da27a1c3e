package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis client the store needs; tests
// satisfy it with a client pointed at miniredis.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis implements Store on a shared Redis instance using SET NX EX, which
// is atomic across processes and replicas.
type Redis struct {
	client RedisClient
}

// NewRedis creates a Redis-backed claim store
func NewRedis(client RedisClient) *Redis {
	return &Redis{client: client}
}

// ClaimOnce claims key for ttl; first caller wins.
func (r *Redis) ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	claimed, err := r.client.SetNX(ctx, KeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency claim failed for %s: %w", key, err)
	}
	return claimed, nil
}

// Ping checks the Redis connection, for readiness probes.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
