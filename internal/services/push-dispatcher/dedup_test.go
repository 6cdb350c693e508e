package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	keys map[string]time.Duration
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ any, ttl time.Duration) *redis.BoolCmd {
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	n := 0
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(int64(n), nil)
}

func TestRedisDeduperClaimsOnce(t *testing.T) {
	rdb := &fakeRedis{keys: map[string]time.Duration{}}
	d := NewRedisDeduper(rdb, time.Hour)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "u1:n1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, rdb.keys["push:sent:u1:n1"])

	ok, err = d.Claim(ctx, "u1:n1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Release(ctx, "u1:n1"))
	ok, err = d.Claim(ctx, "u1:n1")
	require.NoError(t, err)
	assert.True(t, ok)
}
