package models

import "time"

// User is keyed by MobileNumber; UserBucket is the Scylla partition.
type User struct {
	UserBucket   int        `db:"user_bucket" json:"-"`
	UserID       string     `db:"user_id" json:"user_id"`
	MobileNumber string     `db:"mobile_number" json:"mobile_number"`
	FirstName    string     `db:"first_name" json:"first_name,omitempty"`
	LastName     string     `db:"last_name" json:"last_name,omitempty"`
	Email        string     `db:"-" json:"email,omitempty"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	IsVerified   bool       `db:"is_verified" json:"is_verified"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}

// ProfileUpdate carries the optional profile fields; empty strings are left
// untouched.
type ProfileUpdate struct {
	FirstName string
	LastName  string
	Email     string
}

// Apply copies the non-empty fields onto u.
func (p ProfileUpdate) Apply(u *User) {
	if p.FirstName != "" {
		u.FirstName = p.FirstName
	}
	if p.LastName != "" {
		u.LastName = p.LastName
	}
	if p.Email != "" {
		u.Email = p.Email
	}
}
