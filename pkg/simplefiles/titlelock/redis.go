package titlelock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned when an unlock finds the key owned by someone else,
// which happens when the TTL expired while the holder was still working.
var ErrLockNotHeld = errors.New("title lock not held")

// releaseScript deletes the key only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures the distributed lock
type RedisConfig struct {
	Prefix       string        // key prefix (default "simplefiles:lock:")
	TTL          time.Duration // lock expiry, bounds how long a crashed holder blocks a title (default 5m)
	PollInterval time.Duration // retry interval while the title is held (default 50ms)
}

// Redis is a title lock shared by every process using the same Redis
type Redis struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewRedis creates a distributed title lock on top of an existing client
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "simplefiles:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return &Redis{
		client:       client,
		prefix:       cfg.Prefix,
		ttl:          cfg.TTL,
		pollInterval: cfg.PollInterval,
		logger:       slog.Default(),
	}
}

func (r *Redis) key(title string) string {
	return r.prefix + title
}

// Lock polls SET NX until the title is free or ctx is done
func (r *Redis) Lock(ctx context.Context, title string) (func(), error) {
	key := r.key(title)
	token := uuid.NewString()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire title lock: %w", err)
		}
		if ok {
			return r.releaser(key, token), nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Redis) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { r.release(key, token) })
	}
}

func (r *Redis) release(key, token string) {
	// release even if the request context is already gone
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		r.logger.Error("Failed to release title lock", "key", key, "error", err)
		return
	}
	if n == 0 {
		r.logger.Warn("Title lock expired before release", "key", key, "error", ErrLockNotHeld)
	}
}
