package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/util"
)

const (
	challengeRetention = 24 * time.Hour
	challengeScanLimit = 20
)

// ChallengeRepository stores hashed OTP challenges for audit. Rows expire
// after challengeRetention.
type ChallengeRepository struct {
	client *Client
}

var _ repository.ChallengeRepository = (*ChallengeRepository)(nil)

func NewChallengeRepository(client *Client) *ChallengeRepository {
	return &ChallengeRepository{client: client}
}

func (r *ChallengeRepository) Record(ctx context.Context, c *models.OTPChallenge) error {
	if c.ChallengeID == "" {
		c.ChallengeID = uuid.NewString()
	}
	q := r.client.query(ctx, r.client.stmts.insertChallenge,
		c.MobileNumber, c.IssuedAt.UTC(), c.ChallengeID, c.UserID, c.CodeHash, c.Salt,
		c.PepperVersion, c.Purpose, false, int(challengeRetention.Seconds()))
	if err := r.client.ExecuteWithRetry(ctx, q, defaultRetries); err != nil {
		util.Error("Failed to record OTP challenge",
			util.Mobile(c.MobileNumber),
			zap.String("challenge_id", c.ChallengeID),
			zap.Error(err))
		return fmt.Errorf("failed to record OTP challenge: %w", err)
	}

	util.Debug("OTP challenge recorded",
		util.Mobile(c.MobileNumber),
		zap.String("challenge_id", c.ChallengeID),
		zap.String("purpose", c.Purpose))
	return nil
}

// RecentUnused scans the newest rows of the mobile's partition. is_used is
// not part of the key, so unused rows are picked out client side.
func (r *ChallengeRepository) RecentUnused(ctx context.Context, mobile string, limit int) ([]*models.OTPChallenge, error) {
	iter := r.client.query(ctx, r.client.stmts.recentChallenges, mobile, challengeScanLimit).Iter()

	var out []*models.OTPChallenge
	for len(out) < limit {
		c := models.OTPChallenge{MobileNumber: mobile}
		if !iter.Scan(&c.IssuedAt, &c.ChallengeID, &c.UserID, &c.CodeHash, &c.Salt,
			&c.PepperVersion, &c.Purpose, &c.IsUsed) {
			break
		}
		if !c.IsUsed {
			out = append(out, &c)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read OTP challenges: %w", err)
	}
	return out, nil
}

func (r *ChallengeRepository) MarkUsed(ctx context.Context, c *models.OTPChallenge, at time.Time) error {
	q := r.client.query(ctx, r.client.stmts.markChallengeUsed,
		int(challengeRetention.Seconds()), at.UTC(), c.MobileNumber, c.IssuedAt.UTC(), c.ChallengeID)
	if err := r.client.ExecuteWithRetry(ctx, q, defaultRetries); err != nil {
		util.Error("Failed to mark OTP challenge used",
			util.Mobile(c.MobileNumber),
			zap.String("challenge_id", c.ChallengeID),
			zap.Error(err))
		return fmt.Errorf("failed to mark OTP challenge used: %w", err)
	}
	return nil
}
