package repository

import (
	"context"
	"errors"
	"time"

	"otp-auth-service/internal/models"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrChallengeNotFound = errors.New("otp challenge not found")
)

// UserRepository persists users keyed by mobile number.
type UserRepository interface {
	FindByMobile(ctx context.Context, mobile string) (*models.User, error)
	GetByID(ctx context.Context, userID string) (*models.User, error)
	// Create fails with ErrUserAlreadyExists when the mobile is taken.
	Create(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, userID string, update models.ProfileUpdate) (*models.User, error)
	MarkVerified(ctx context.Context, userID string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	HealthCheck(ctx context.Context) error
}

// ChallengeRepository keeps the hashed audit trail of issued codes.
type ChallengeRepository interface {
	Record(ctx context.Context, challenge *models.OTPChallenge) error
	// RecentUnused returns up to limit unused challenges for mobile, newest
	// first.
	RecentUnused(ctx context.Context, mobile string, limit int) ([]*models.OTPChallenge, error)
	// MarkUsed flags exactly the given challenge.
	MarkUsed(ctx context.Context, challenge *models.OTPChallenge, at time.Time) error
}
