package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"otp-auth-service/internal/clock"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is a process-local Store. Expired entries are dropped lazily on
// access.
type Memory struct {
	mu    sync.Mutex
	clock clock.Clocker
	items map[string]entry
}

func NewMemory(c clock.Clocker) *Memory {
	if c == nil {
		c = clock.New()
	}
	return &Memory{
		clock: c,
		items: make(map[string]entry),
	}
}

// lookup must be called with mu held.
func (m *Memory) lookup(key string) (entry, bool) {
	e, ok := m.items[key]
	if !ok {
		return entry{}, false
	}
	if !m.clock.Now().Before(e.expiresAt) {
		delete(m.items, key)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("invalid ttl %s for key %s", ttl, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = entry{value: value, expiresAt: m.clock.Now().Add(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

func (m *Memory) IncrementOrCreate(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("invalid ttl %s for key %s", ttl, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	if e, ok := m.lookup(key); ok {
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not a counter: %w", key, err)
		}
		count = n
	}
	count++
	m.items[key] = entry{value: strconv.FormatInt(count, 10), expiresAt: m.clock.Now().Add(ttl)}
	return count, nil
}

func (m *Memory) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || e.value != expected {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

// Len counts live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.items {
		if _, ok := m.lookup(k); ok {
			n++
		}
	}
	return n
}
