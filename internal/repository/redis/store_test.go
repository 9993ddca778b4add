package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/store"
	"otp-auth-service/internal/store/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	rc, err := client.NewRedisClientFromOptions(&goredis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return NewStore(rc), mr
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (store.Store, func(time.Duration)) {
		s, mr := newTestStore(t)
		return s, mr.FastForward
	})
}

func TestStore_IncrementSetsTTL(t *testing.T) {
	s, mr := newTestStore(t)

	_, err := s.IncrementOrCreate(context.Background(), "fail_10.0.0.9", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, time.Hour, mr.TTL("fail_10.0.0.9"))
}

func TestStore_SetStoresPlainValue(t *testing.T) {
	s, mr := newTestStore(t)

	require.NoError(t, s.Set(context.Background(), "otp_09123456789", "654321", time.Minute))

	got, err := mr.Get("otp_09123456789")
	require.NoError(t, err)
	assert.Equal(t, "654321", got)
	assert.Equal(t, time.Minute, mr.TTL("otp_09123456789"))
}
