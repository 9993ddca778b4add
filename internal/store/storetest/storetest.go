// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-auth-service/internal/store"
)

// Harness builds a fresh empty store and a function that moves its notion of
// time forward.
type Harness func(t *testing.T) (s store.Store, advance func(time.Duration))

// Run exercises the store.Store contract against h.
func Run(t *testing.T, h Harness) {
	t.Run("get missing key", func(t *testing.T) {
		s, _ := h(t)
		_, err := s.Get(context.Background(), "otp_09120000000")
		assert.ErrorIs(t, err, store.ErrKeyNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		s, _ := h(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "otp_09120000000", "123456", time.Minute))

		got, err := s.Get(ctx, "otp_09120000000")
		require.NoError(t, err)
		assert.Equal(t, "123456", got)
	})

	t.Run("set overwrites value and ttl", func(t *testing.T) {
		s, advance := h(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", "first", time.Minute))
		advance(50 * time.Second)
		require.NoError(t, s.Set(ctx, "k", "second", time.Minute))
		advance(50 * time.Second)

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "second", got)
	})

	t.Run("entry expires after ttl", func(t *testing.T) {
		s, advance := h(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

		advance(59 * time.Second)
		_, err := s.Get(ctx, "k")
		require.NoError(t, err)

		advance(2 * time.Second)
		_, err = s.Get(ctx, "k")
		assert.ErrorIs(t, err, store.ErrKeyNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s, _ := h(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "never-set"))

		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, store.ErrKeyNotFound)
	})

	t.Run("increment creates and counts", func(t *testing.T) {
		s, _ := h(t)
		ctx := context.Background()
		for want := int64(1); want <= 3; want++ {
			got, err := s.IncrementOrCreate(ctx, "fail_10.0.0.1", time.Hour)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("increment refreshes ttl", func(t *testing.T) {
		s, advance := h(t)
		ctx := context.Background()
		_, err := s.IncrementOrCreate(ctx, "c", time.Hour)
		require.NoError(t, err)
		advance(50 * time.Minute)
		_, err = s.IncrementOrCreate(ctx, "c", time.Hour)
		require.NoError(t, err)
		advance(50 * time.Minute)

		got, err := s.IncrementOrCreate(ctx, "c", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got)
	})

	t.Run("increment restarts after expiry", func(t *testing.T) {
		s, advance := h(t)
		ctx := context.Background()
		_, err := s.IncrementOrCreate(ctx, "c", time.Hour)
		require.NoError(t, err)
		advance(time.Hour + time.Second)

		got, err := s.IncrementOrCreate(ctx, "c", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	})

	t.Run("compare and delete", func(t *testing.T) {
		tests := []struct {
			name       string
			seed       bool
			expected   string
			wantOK     bool
			wantRemain bool
		}{
			{name: "match deletes", seed: true, expected: "111111", wantOK: true},
			{name: "mismatch keeps", seed: true, expected: "222222", wantRemain: true},
			{name: "missing key", seed: false, expected: "111111"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s, _ := h(t)
				ctx := context.Background()
				if tt.seed {
					require.NoError(t, s.Set(ctx, "k", "111111", time.Minute))
				}

				ok, err := s.CompareAndDelete(ctx, "k", tt.expected)
				require.NoError(t, err)
				assert.Equal(t, tt.wantOK, ok)

				_, err = s.Get(ctx, "k")
				if tt.wantRemain {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, store.ErrKeyNotFound)
				}
			})
		}
	})

	t.Run("compare and delete after expiry", func(t *testing.T) {
		s, advance := h(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", "111111", time.Minute))
		advance(61 * time.Second)

		ok, err := s.CompareAndDelete(ctx, "k", "111111")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent compare and delete has one winner", func(t *testing.T) {
		s, _ := h(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", "424242", time.Minute))

		const workers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.CompareAndDelete(ctx, "k", "424242")
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		s, _ := h(t)
		ctx := context.Background()

		const workers = 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.IncrementOrCreate(ctx, "c", time.Hour)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, "20", got)
	})
}
