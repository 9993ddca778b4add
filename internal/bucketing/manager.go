package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"otp-auth-service/internal/config"
)

// Manager maps identifiers onto a fixed number of partitions with murmur3 so
// the same id always lands in the same bucket.
type Manager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	return New(cfg.Bucketing.UserBuckets, cfg.Bucketing.EventBuckets)
}

func New(userBuckets, eventBuckets int) *Manager {
	if userBuckets <= 0 {
		userBuckets = 1
	}
	if eventBuckets <= 0 {
		eventBuckets = 1
	}
	return &Manager{
		userBuckets:  userBuckets,
		eventBuckets: eventBuckets,
		hasherPool: sync.Pool{
			New: func() interface{} { return murmur3.New64() },
		},
	}
}

// UserBucket is the Scylla partition for a mobile number.
func (m *Manager) UserBucket(mobile string) int {
	return m.bucket(mobile, m.userBuckets)
}

// EventBucket spreads security events by client address.
func (m *Manager) EventBucket(key string) int {
	return m.bucket(key, m.eventBuckets)
}

// DateBucket is the UTC day used to partition time series tables.
func (m *Manager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (m *Manager) UserBuckets() int {
	return m.userBuckets
}

func (m *Manager) EventBuckets() int {
	return m.eventBuckets
}

func (m *Manager) bucket(key string, n int) int {
	h := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(n))
}
