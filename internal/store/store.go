// Package store defines the ephemeral key-value contract that holds live OTP
// codes, failure counters and block flags.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrKeyNotFound = errors.New("key not found")

// Store is a string key-value store where every entry carries a TTL.
// Implementations must make each method atomic with respect to the others.
type Store interface {
	// Get returns ErrKeyNotFound for absent or expired keys.
	Get(ctx context.Context, key string) (string, error)
	// Set overwrites key and resets its TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
	// IncrementOrCreate adds one to the counter at key, starting from zero when
	// absent, and sets the TTL to ttl on every call.
	IncrementOrCreate(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// CompareAndDelete deletes key only if it currently holds expected and
	// reports whether it did.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}
