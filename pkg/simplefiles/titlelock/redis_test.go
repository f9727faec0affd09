package titlelock

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *redis.Client) {
	t.Helper()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := fmt.Sprintf("simplefiles:test:%d:", time.Now().UnixNano())
	return NewRedis(client, RedisConfig{Prefix: prefix, TTL: ttl, PollInterval: 5 * time.Millisecond}), client
}

func TestRedis_LockAndRelease(t *testing.T) {
	lock, client := newTestRedis(t, time.Minute)
	ctx := context.Background()

	unlock, err := lock.Lock(ctx, "logo")
	require.NoError(t, err)

	exists, err := client.Exists(ctx, lock.key("logo")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = lock.Lock(waitCtx, "logo")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	exists, err = client.Exists(ctx, lock.key("logo")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	unlock, err = lock.Lock(ctx, "logo")
	require.NoError(t, err)
	unlock()
}

func TestRedis_ExpiredLockIsNotStolen(t *testing.T) {
	lock, client := newTestRedis(t, 20*time.Millisecond)
	ctx := context.Background()

	unlock, err := lock.Lock(ctx, "logo")
	require.NoError(t, err)

	// the first holder's TTL runs out and a second holder takes over
	time.Sleep(40 * time.Millisecond)
	other := NewRedis(client, RedisConfig{Prefix: lock.prefix, TTL: time.Minute})
	second, err := other.Lock(ctx, "logo")
	require.NoError(t, err)

	// releasing the stale holder must leave the second holder's key alone
	unlock()
	exists, err := client.Exists(ctx, lock.key("logo")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	second()
}
