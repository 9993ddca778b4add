package client

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-auth-service/internal/config"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisClientFromOptions(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestNewRedisClient_FromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{Redis: config.RedisConfig{URL: "redis://" + mr.Addr() + "/0", PoolSize: 4}}

	rc, err := NewRedisClient(cfg)
	require.NoError(t, err)
	defer rc.Close()

	assert.NoError(t, rc.HealthCheck(context.Background()))
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient(&config.Config{Redis: config.RedisConfig{URL: "://nope"}})
	assert.Error(t, err)
}

func TestRedisClient_GetMissing(t *testing.T) {
	rc, _ := newTestRedis(t)

	_, err := rc.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrRedisKeyNotFound)
}

func TestRedisClient_IncrWithExpire(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	n, err := rc.IncrWithExpire(ctx, "fail_1.2.3.4", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = rc.IncrWithExpire(ctx, "fail_1.2.3.4", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, time.Hour, mr.TTL("fail_1.2.3.4"))
}

func TestRedisClient_CompareAndDelete(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("otp_09123456789", "111111"))

	ok, err := rc.CompareAndDelete(ctx, "otp_09123456789", "999999")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("otp_09123456789"))

	ok, err = rc.CompareAndDelete(ctx, "otp_09123456789", "111111")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("otp_09123456789"))

	ok, err = rc.CompareAndDelete(ctx, "otp_09123456789", "111111")
	require.NoError(t, err)
	assert.False(t, ok)
}
