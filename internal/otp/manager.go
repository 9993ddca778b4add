// Package otp issues and verifies single-use codes bound to a mobile number.
package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/clock"
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/notify"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/store"
	"otp-auth-service/internal/util"
)

const (
	KeyPrefix  = "otp_"
	DefaultTTL = 60 * time.Second

	challengeMatchLimit = 5
)

// Key is the store key holding the live code for mobile.
func Key(mobile string) string {
	return KeyPrefix + mobile
}

type IssueRequest struct {
	MobileNumber string
	UserID       string
	Purpose      string
}

// IssueReceipt describes an issued code without revealing it.
type IssueReceipt struct {
	MobileNumber string
	ExpiresAt    time.Time
	TTL          time.Duration
}

// Manager owns the code lifecycle. The store is the source of truth; the
// challenge log and the notifier are best effort.
type Manager struct {
	store      store.Store
	generator  *Generator
	notifier   notify.Notifier
	challenges repository.ChallengeRepository
	hasher     *hashing.Hasher
	clock      clock.Clocker
	ttl        time.Duration
}

type Option func(*Manager)

// WithChallengeLog records a hashed copy of every issued code.
func WithChallengeLog(repo repository.ChallengeRepository, hasher *hashing.Hasher) Option {
	return func(m *Manager) {
		m.challenges = repo
		m.hasher = hasher
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(c clock.Clocker) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func NewManager(s store.Store, gen *Generator, notifier notify.Notifier, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		generator: gen,
		notifier:  notifier,
		clock:     clock.New(),
		ttl:       DefaultTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// CodeLength is the number of digits in every issued code.
func (m *Manager) CodeLength() int {
	return m.generator.Length()
}

// Issue stores a fresh code for the mobile number, replacing any live one,
// and hands it to the notifier.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (IssueReceipt, error) {
	code, err := m.generator.Generate()
	if err != nil {
		return IssueReceipt{}, err
	}

	now := m.clock.Now()
	if err := m.store.Set(ctx, Key(req.MobileNumber), code, m.ttl); err != nil {
		return IssueReceipt{}, fmt.Errorf("failed to store otp: %w", err)
	}

	m.recordChallenge(ctx, req, code, now)

	if err := m.notifier.Send(ctx, req.MobileNumber, code); err != nil {
		util.Warn("OTP delivery failed",
			util.Mobile(req.MobileNumber),
			zap.String("purpose", req.Purpose),
			zap.Error(err))
	}

	util.Info("OTP issued",
		util.Mobile(req.MobileNumber),
		zap.String("purpose", req.Purpose),
		zap.Duration("ttl", m.ttl))

	return IssueReceipt{
		MobileNumber: req.MobileNumber,
		ExpiresAt:    now.Add(m.ttl),
		TTL:          m.ttl,
	}, nil
}

// Verify consumes the live code when it matches. Absent, expired and wrong
// codes all report false.
func (m *Manager) Verify(ctx context.Context, mobile, code string) (bool, error) {
	ok, err := m.store.CompareAndDelete(ctx, Key(mobile), code)
	if err != nil {
		return false, fmt.Errorf("failed to verify otp: %w", err)
	}
	if !ok {
		return false, nil
	}

	m.markConsumed(ctx, mobile, code)
	return true, nil
}

// markConsumed flags the logged challenge whose digest matches code. A code
// whose challenge was never logged leaves older rows untouched.
func (m *Manager) markConsumed(ctx context.Context, mobile, code string) {
	if m.challenges == nil || m.hasher == nil {
		return
	}

	recent, err := m.challenges.RecentUnused(ctx, mobile, challengeMatchLimit)
	if err != nil {
		util.Warn("Failed to load OTP challenges", util.Mobile(mobile), zap.Error(err))
		return
	}

	for _, c := range recent {
		ok, err := m.hasher.Verify(code, c.Purpose, &hashing.HashResult{
			Hash:          c.CodeHash,
			Salt:          c.Salt,
			PepperVersion: c.PepperVersion,
		})
		if err != nil || !ok {
			continue
		}
		if err := m.challenges.MarkUsed(ctx, c, m.clock.Now()); err != nil {
			util.Warn("Failed to mark OTP challenge used",
				util.Mobile(mobile),
				zap.String("challenge_id", c.ChallengeID),
				zap.Error(err))
		}
		return
	}
	util.Warn("No logged OTP challenge matches the consumed code", util.Mobile(mobile))
}

func (m *Manager) recordChallenge(ctx context.Context, req IssueRequest, code string, issuedAt time.Time) {
	if m.challenges == nil || m.hasher == nil {
		return
	}

	hr, err := m.hasher.Hash(code, req.Purpose)
	if err != nil {
		util.Warn("Failed to hash OTP challenge", util.Mobile(req.MobileNumber), zap.Error(err))
		return
	}

	challenge := &models.OTPChallenge{
		ChallengeID:   uuid.NewString(),
		UserID:        req.UserID,
		MobileNumber:  req.MobileNumber,
		CodeHash:      hr.Hash,
		Salt:          hr.Salt,
		PepperVersion: hr.PepperVersion,
		Purpose:       req.Purpose,
		IssuedAt:      issuedAt,
		TTL:           m.ttl,
	}
	if err := m.challenges.Record(ctx, challenge); err != nil {
		util.Warn("Failed to record OTP challenge", util.Mobile(req.MobileNumber), zap.Error(err))
	}
}
