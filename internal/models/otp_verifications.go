package models

import "time"

const (
	PurposeRegister = "register"
	PurposeLogin    = "login"
)

// OTPChallenge is the durable record of an issued code. Only the hash is kept.
type OTPChallenge struct {
	ChallengeID   string        `db:"challenge_id"`
	UserID        string        `db:"user_id"`
	MobileNumber  string        `db:"mobile_number"`
	CodeHash      string        `db:"code_hash"`
	Salt          string        `db:"salt"`
	PepperVersion int           `db:"pepper_version"`
	Purpose       string        `db:"purpose"`
	IssuedAt      time.Time     `db:"issued_at"`
	TTL           time.Duration `db:"-"`
	IsUsed        bool          `db:"is_used"`
	UsedAt        *time.Time    `db:"used_at"`
}

// ExpiresAt is IssuedAt plus the code lifetime.
func (c *OTPChallenge) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.TTL)
}

// IsExpired reports whether now is past the code lifetime.
func (c *OTPChallenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt())
}
