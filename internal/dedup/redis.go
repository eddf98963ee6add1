package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces dedup keys in a shared Redis.
const DefaultRedisPrefix = "valetsync:dedup:"

// redisClient is the subset of *redis.Client the backend uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisBackend shares dedup records between the processes of one
// recipient. A record is a key set with NX and a PX expiry equal to the
// window, so Redis expires it and no sweeping is needed.
//
// Records are kept under a per-recipient prefix (see Scoped): a business
// event fans out to one notification per employee, and one employee's
// toast must not suppress another's.
type RedisBackend struct {
	client redisClient
	prefix string
	shared bool // client owned by the backend Scoped was called on
}

// NewRedisBackend connects to addr and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return newRedisBackend(client, DefaultRedisPrefix), nil
}

func newRedisBackend(client redisClient, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

// Scoped returns a backend over the same connection whose records live
// under scope, normally the signed-in employee id. Reset on it only
// forgets that scope, and Close leaves the connection open.
func (b *RedisBackend) Scoped(scope string) *RedisBackend {
	return &RedisBackend{client: b.client, prefix: b.prefix + scope + ":", shared: true}
}

// Prefix returns the key prefix of the backend's records.
func (b *RedisBackend) Prefix() string {
	return b.prefix
}

func (b *RedisBackend) Admit(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.prefix+key, strconv.FormatInt(now.UnixMilli(), 10), window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Reset deletes every key under the backend's prefix.
func (b *RedisBackend) Reset(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan dedup keys: %w", err)
		}
		if len(keys) > 0 {
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete dedup keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (b *RedisBackend) Close() error {
	if b.shared {
		return nil
	}
	return b.client.Close()
}
