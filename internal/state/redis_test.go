package state

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/krewdev/bluetrap/internal/config"
)

func redisAddrForTest() string {
	if addr := os.Getenv("BLUETRAP_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func TestRedisBackend_Integration(t *testing.T) {
	opts, err := redisOptions(config.RedisConfig{Addr: redisAddrForTest()})
	require.NoError(t, err)
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}

	backend := NewRedis(client)
	t.Cleanup(func() { _ = backend.Close() })

	prefix := fmt.Sprintf("it_test_%d:", time.Now().UnixNano())
	t.Cleanup(func() {
		keys, _ := backend.Keys(context.Background(), prefix+"*")
		for _, key := range keys {
			_ = backend.Delete(context.Background(), key)
		}
	})

	t.Run("GetSetDelete", func(t *testing.T) {
		key := prefix + "trap:1.2.3.4"
		_, ok, err := backend.Get(ctx, key)
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, backend.Set(ctx, key, []byte(`{"level":3}`), TrapTTL))
		value, ok, err := backend.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		require.JSONEq(t, `{"level":3}`, string(value))

		ttl, err := client.TTL(ctx, key).Result()
		require.NoError(t, err)
		require.Greater(t, ttl, time.Duration(0))

		require.NoError(t, backend.Delete(ctx, key))
		exists, err := backend.Exists(ctx, key)
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("IncrementAndScan", func(t *testing.T) {
		key := prefix + TotalTrappedKey
		n, err := backend.Increment(ctx, key)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		for i := 0; i < 5; i++ {
			require.NoError(t, backend.Set(ctx, fmt.Sprintf("%smaze:visits:10.0.0.%d", prefix, i), []byte("{}"), time.Minute))
		}
		keys, err := backend.Keys(ctx, prefix+"maze:visits:*")
		require.NoError(t, err)
		require.Len(t, keys, 5)
	})
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(config.RedisConfig{URL: "redis://:secret@cache.internal:6380/2"})
	require.NoError(t, err)
	require.Equal(t, "cache.internal:6380", opts.Addr)
	require.Equal(t, "secret", opts.Password)
	require.Equal(t, 2, opts.DB)
	require.Equal(t, 3, opts.MaxRetries)
	require.Equal(t, 2*time.Second, opts.MaxRetryBackoff)

	opts, err = redisOptions(config.RedisConfig{Addr: "localhost:6379", MaxRetries: 1, PoolSize: 4})
	require.NoError(t, err)
	require.Equal(t, 1, opts.MaxRetries)
	require.Equal(t, 4, opts.PoolSize)

	_, err = redisOptions(config.RedisConfig{})
	require.Error(t, err)
}
