package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisDedup struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDedup(rdb *redis.Client, ttl time.Duration) *RedisDedup {
	return &RedisDedup{rdb: rdb, ttl: ttl}
}

func dedupKey(accountID, chatID, messageID string) string {
	return fmt.Sprintf("seen:%s:%s:%s", accountID, chatID, messageID)
}

// Seen uses SETNX so the check and the record are one atomic round trip.
func (c *RedisDedup) Seen(ctx context.Context, accountID, chatID, messageID string) (bool, error) {
	set, err := c.rdb.SetNX(ctx, dedupKey(accountID, chatID, messageID), 1, c.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (c *RedisDedup) Forget(ctx context.Context, accountID string) error {
	var cursor uint64
	pattern := fmt.Sprintf("seen:%s:*", accountID)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
