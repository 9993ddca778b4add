package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOTPChallenge_IsExpired(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &OTPChallenge{IssuedAt: issued, TTL: 60 * time.Second}

	assert.Equal(t, issued.Add(time.Minute), c.ExpiresAt())
	assert.False(t, c.IsExpired(issued.Add(59*time.Second)))
	assert.False(t, c.IsExpired(issued.Add(60*time.Second)))
	assert.True(t, c.IsExpired(issued.Add(61*time.Second)))
}

func TestProfileUpdate_Apply(t *testing.T) {
	u := &User{FirstName: "Old", LastName: "Name", Email: "old@example.com"}

	ProfileUpdate{FirstName: "Sara"}.Apply(u)

	assert.Equal(t, "Sara", u.FirstName)
	assert.Equal(t, "Name", u.LastName)
	assert.Equal(t, "old@example.com", u.Email)
}
