package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/repository"
)

// UserRepository keeps users in process memory. It backs tests and the
// development fallback when Scylla is unreachable.
type UserRepository struct {
	mu       sync.RWMutex
	byID     map[string]*models.User
	byMobile map[string]string
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:     make(map[string]*models.User),
		byMobile: make(map[string]string),
	}
}

func (r *UserRepository) FindByMobile(_ context.Context, mobile string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byMobile[mobile]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u := *r.byID[id]
	return &u, nil
}

func (r *UserRepository) GetByID(_ context.Context, userID string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byMobile[user.MobileNumber]; exists {
		return repository.ErrUserAlreadyExists
	}
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	cp := *user
	r.byID[user.UserID] = &cp
	r.byMobile[user.MobileNumber] = user.UserID
	return nil
}

func (r *UserRepository) UpdateProfile(_ context.Context, userID string, update models.ProfileUpdate) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	update.Apply(u)
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (r *UserRepository) MarkVerified(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.IsVerified = true
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *UserRepository) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	t := at.UTC()
	u.LastLoginAt = &t
	return nil
}

func (r *UserRepository) HealthCheck(context.Context) error {
	return nil
}

// Count is the number of stored users.
func (r *UserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
