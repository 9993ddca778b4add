package clock

import (
	"sync"
	"time"
)

// Clocker is the time source for TTL bookkeeping.
type Clocker interface {
	Now() time.Time
}

// TimeClocker reads the system clock.
type TimeClocker struct{}

func New() *TimeClocker {
	return &TimeClocker{}
}

func (*TimeClocker) Now() time.Time {
	return time.Now()
}

// Manual is a Clocker that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
