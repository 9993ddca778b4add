package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/store"
	"otp-auth-service/internal/util"
)

const opTimeout = 5 * time.Second

// Store implements store.Store on top of a shared RedisClient.
type Store struct {
	client *client.RedisClient
}

var _ store.Store = (*Store)(nil)

func NewStore(client *client.RedisClient) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrRedisKeyNotFound) {
			return "", store.ErrKeyNotFound
		}
		util.Error("Failed to read key from redis", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("invalid ttl %s for key %s", ttl, key)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl); err != nil {
		util.Error("Failed to write key to redis",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	util.Debug("Key stored", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, key); err != nil {
		util.Error("Failed to delete key from redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) IncrementOrCreate(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("invalid ttl %s for key %s", ttl, key)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	count, err := s.client.IncrWithExpire(ctx, key, ttl)
	if err != nil {
		util.Error("Failed to increment counter", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	util.Debug("Counter incremented", zap.String("key", key), zap.Int64("count", count))
	return count, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	deleted, err := s.client.CompareAndDelete(ctx, key, expected)
	if err != nil {
		util.Error("Failed to compare-and-delete key", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("failed to compare-and-delete %s: %w", key, err)
	}
	return deleted, nil
}
