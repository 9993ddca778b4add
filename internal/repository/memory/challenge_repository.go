package memory

import (
	"context"
	"sync"
	"time"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/repository"
)

type ChallengeRepository struct {
	mu         sync.Mutex
	challenges []*models.OTPChallenge
}

var _ repository.ChallengeRepository = (*ChallengeRepository)(nil)

func NewChallengeRepository() *ChallengeRepository {
	return &ChallengeRepository{}
}

func (r *ChallengeRepository) Record(_ context.Context, c *models.OTPChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *c
	r.challenges = append(r.challenges, &cp)
	return nil
}

func (r *ChallengeRepository) RecentUnused(_ context.Context, mobile string, limit int) ([]*models.OTPChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.OTPChallenge
	for i := len(r.challenges) - 1; i >= 0 && len(out) < limit; i-- {
		c := r.challenges[i]
		if c.MobileNumber == mobile && !c.IsUsed {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *ChallengeRepository) MarkUsed(_ context.Context, challenge *models.OTPChallenge, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.challenges {
		if c.ChallengeID == challenge.ChallengeID && c.MobileNumber == challenge.MobileNumber {
			t := at.UTC()
			c.IsUsed = true
			c.UsedAt = &t
			return nil
		}
	}
	return repository.ErrChallengeNotFound
}

// All returns copies of every recorded challenge, oldest first.
func (r *ChallengeRepository) All() []models.OTPChallenge {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.OTPChallenge, 0, len(r.challenges))
	for _, c := range r.challenges {
		out = append(out, *c)
	}
	return out
}
