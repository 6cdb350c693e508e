package dispatcher

import (
	"context"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/push"
	"github.com/redis/go-redis/v9"
)

type redisCmds interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisDeduper claims delivery keys with SETNX so a notification
// redelivered by kafka is pushed once.
type RedisDeduper struct {
	rdb    redisCmds
	prefix string
	ttl    time.Duration
}

var _ push.Deduper = (*RedisDeduper)(nil)

func NewRedisDeduper(rdb redisCmds, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{rdb: rdb, prefix: "push:sent:", ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
}

// Release forgets a claim so a failed delivery can be retried.
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.rdb.Del(ctx, d.prefix+key).Err()
}
