//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	prefix := fmt.Sprintf("telemetry-test-%d:", time.Now().UnixNano())
	b := NewRedisBackendFromClient(client, prefix, time.Minute)
	t.Cleanup(func() {
		_ = b.Clear(ctx)
		client.Close()
	})
	return b
}

func TestRedisBackend_SetGetClear(t *testing.T) {
	b := setupRedisBackend(t)
	ctx := context.Background()

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "k", []byte("v")))
	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	ttl, err := b.client.TTL(ctx, b.prefix+"k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, b.Clear(ctx))
	_, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackend_QueryCache(t *testing.T) {
	b := setupRedisBackend(t)
	ctx := context.Background()
	qc := New(b, nil)

	qc.Remember(ctx, "SELECT 1", []any{"x"}, map[string]int{"a": 1})
	var got map[string]int
	require.True(t, qc.Lookup(ctx, "SELECT 1", []any{"x"}, &got))
	assert.Equal(t, 1, got["a"])
}
