package bucketing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager_UserBucketStableAndInRange(t *testing.T) {
	m := New(16, 4)

	for i := 0; i < 200; i++ {
		mobile := fmt.Sprintf("0912%07d", i)
		b := m.UserBucket(mobile)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 16)
		assert.Equal(t, b, m.UserBucket(mobile))
	}
}

func TestManager_SpreadsAcrossBuckets(t *testing.T) {
	m := New(8, 8)
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		seen[m.EventBucket(fmt.Sprintf("10.0.%d.%d", i/256, i%256))] = true
	}
	assert.Len(t, seen, 8)
}

func TestManager_NonPositiveCounts(t *testing.T) {
	m := New(0, -3)
	assert.Equal(t, 1, m.UserBuckets())
	assert.Equal(t, 1, m.EventBuckets())
	assert.Equal(t, 0, m.UserBucket("09123456789"))
}

func TestManager_DateBucket(t *testing.T) {
	m := New(1, 1)
	loc := time.FixedZone("IRST", 3*3600+1800)
	ts := time.Date(2026, 5, 2, 1, 0, 0, 0, loc)
	assert.Equal(t, "2026-05-01", m.DateBucket(ts))
}
