package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedis(client), mr
}

func TestRedis_ClaimOnce(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	claimed, err := store.ClaimOnce(ctx, "webhook:stripe:evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "first claim should win")

	claimed, err = store.ClaimOnce(ctx, "webhook:stripe:evt_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim of same key should lose")

	claimed, err = store.ClaimOnce(ctx, "webhook:stripe:evt_2", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "different key should win")
}

func TestRedis_ClaimKeyNamespaced(t *testing.T) {
	store, mr := newRedisStore(t)

	_, err := store.ClaimOnce(context.Background(), "webhook:stripe:evt_1", time.Hour)
	require.NoError(t, err)

	// The claim lands under the idempotency namespace with its TTL set
	assert.True(t, mr.Exists("idempotency:webhook:stripe:evt_1"))
	ttl := mr.TTL("idempotency:webhook:stripe:evt_1")
	assert.Equal(t, time.Hour, ttl)
}

func TestRedis_ClaimExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	claimed, err := store.ClaimOnce(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	// Simulate the TTL elapsing
	mr.FastForward(2 * time.Minute)

	claimed, err = store.ClaimOnce(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "claim after expiry should win")
}

func TestRedis_Ping(t *testing.T) {
	store, mr := newRedisStore(t)

	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
