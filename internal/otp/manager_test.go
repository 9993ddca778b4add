package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-auth-service/internal/clock"
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/notify"
	"otp-auth-service/internal/repository/memory"
	"otp-auth-service/internal/store"
)

const mobile = "09123456789"

type testManager struct {
	*Manager
	clock      *clock.Manual
	store      *store.Memory
	sms        *notify.Capture
	challenges *memory.ChallengeRepository
	hasher     *hashing.Hasher
}

func newTestManager(t *testing.T) *testManager {
	t.Helper()
	c := clock.NewManual(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	s := store.NewMemory(c)
	sms := notify.NewCapture()
	challenges := memory.NewChallengeRepository()
	hasher := hashing.NewHasherWithParams(hashing.Argon2Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	}, 0)

	m := NewManager(s, NewGenerator(6), sms,
		WithClock(c),
		WithTTL(60*time.Second),
		WithChallengeLog(challenges, hasher))

	return &testManager{Manager: m, clock: c, store: s, sms: sms, challenges: challenges, hasher: hasher}
}

func TestManager_IssueStoresAndSends(t *testing.T) {
	tm := newTestManager(t)
	ctx := context.Background()

	receipt, err := tm.Issue(ctx, IssueRequest{MobileNumber: mobile, UserID: "u1", Purpose: models.PurposeRegister})
	require.NoError(t, err)

	assert.Equal(t, mobile, receipt.MobileNumber)
	assert.Equal(t, 60*time.Second, receipt.TTL)
	assert.Equal(t, tm.clock.Now().Add(time.Minute), receipt.ExpiresAt)

	sent, ok := tm.sms.Last(mobile)
	require.True(t, ok)
	stored, err := tm.store.Get(ctx, Key(mobile))
	require.NoError(t, err)
	assert.Equal(t, sent, stored)
}

func TestManager_VerifyIsSingleUse(t *testing.T) {
	tm := newTestManager(t)
	ctx := context.Background()

	_, err := tm.Issue(ctx, IssueRequest{MobileNumber: mobile, Purpose: models.PurposeLogin})
	require.NoError(t, err)
	code, _ := tm.sms.Last(mobile)

	ok, err := tm.Verify(ctx, mobile, code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tm.Verify(ctx, mobile, code)
	require.NoError(t, err)
	assert.False(t, ok, "code must not verify twice")
}

func TestManager_WrongCodeKeepsLiveCode(t *testing.T) {
	tm := newTestManager(t)
	ctx := context.Background()

	_, err := tm.Issue(ctx, IssueRequest{MobileNumber: mobile, Purpose: models.PurposeLogin})
	require.NoError(t, err)
	code, _ := tm.sms.Last(mobile)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	ok, err := tm.Verify(ctx, mobile, wrong)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tm.Verify(ctx, mobile, code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{name: "inside window", elapsed: 59 * time.Second, want: true},
		{name: "after window", elapsed: 61 * time.Second, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := newTestManager(t)
			ctx := context.Background()

			_, err := tm.Issue(ctx, IssueRequest{MobileNumber: mobile, Purpose: models.PurposeRegister})
			require.NoError(t, err)
			code, _ := tm.sms.Last(mobile)

			tm.clock.Advance(tt.elapsed)
			ok, err := tm.Verify(ctx, mobile, code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestManager_ReissueReplacesCode(t *testing.T) {
	tm := newTestManager(t)
	ctx := context.Background()

	_, err := tm.Issue(ctx, IssueRequest{MobileNumber: mobile, Purpose: models.PurposeRegister})
	require.NoError(t, err)
	first, _ := tm.sms.Last(mobile)

	// Regenerate until the codes differ so the assertion is meaningful.
	var second string
	for i := 0; i < 10; i++ {
		_, err = tm.Issue(ctx, IssueRequest{MobileNumber: mobile, Purpose: models.PurposeRegister})
		require.NoError(t, err)
		second, _ = tm.sms.Last(mobile)
		if second != first {
			break
		}
	}
	require.NotEqual(t, first, second)

	ok, err := tm.Verify(ctx, mobile, first)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tm.Verify(ctx, mobile, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_VerifyWithoutIssue(t *testing.T) {
	tm := newTestManager(t)

	ok, err := tm.Verify(context.Background(), mobile, "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_DeliveryFailureIsSwallowed(t *testing.T) {
	tm := newTestManager(t)
	tm.sms.FailDeliveries()

	_, err := tm.Issue(context.Background(), IssueRequest{MobileNumber: mobile, Purpose: models.PurposeRegister})
	require.NoError(t, err)

	code, ok := tm.sms.Last(mobile)
	require.True(t, ok)
	verified, err := tm.Verify(context.Background(), mobile, code)
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestManager_ChallengeLog(t *testing.T) {
	tm := newTestManager(t)
	ctx := context.Background()

	_, err := tm.Issue(ctx, IssueRequest{MobileNumber: mobile, UserID: "u-42", Purpose: models.PurposeLogin})
	require.NoError(t, err)
	code, _ := tm.sms.Last(mobile)

	all := tm.challenges.All()
	require.Len(t, all, 1)
	c := all[0]
	assert.Equal(t, "u-42", c.UserID)
	assert.Equal(t, models.PurposeLogin, c.Purpose)
	assert.NotContains(t, c.CodeHash, code)
	assert.False(t, c.IsExpired(tm.clock.Now().Add(time.Minute)))
	assert.True(t, c.IsExpired(tm.clock.Now().Add(time.Minute+time.Second)))

	ok, err := tm.hasher.Verify(code, models.PurposeLogin, &hashing.HashResult{
		Hash: c.CodeHash, Salt: c.Salt, PepperVersion: c.PepperVersion,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = tm.Verify(ctx, mobile, code)
	require.NoError(t, err)
	assert.True(t, tm.challenges.All()[0].IsUsed)
}

// skipRecord drops the next Record call, as a Scylla write timeout would.
type skipRecord struct {
	*memory.ChallengeRepository
	skip bool
}

func (r *skipRecord) Record(ctx context.Context, c *models.OTPChallenge) error {
	if r.skip {
		r.skip = false
		return errors.New("write timeout")
	}
	return r.ChallengeRepository.Record(ctx, c)
}

func TestManager_MarksOnlyTheConsumedChallenge(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	sms := notify.NewCapture()
	log := &skipRecord{ChallengeRepository: memory.NewChallengeRepository()}
	hasher := hashing.NewHasherWithParams(hashing.Argon2Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	}, 0)
	m := NewManager(store.NewMemory(c), NewGenerator(6), sms, WithClock(c), WithChallengeLog(log, hasher))
	ctx := context.Background()

	_, err := m.Issue(ctx, IssueRequest{MobileNumber: mobile, Purpose: models.PurposeRegister})
	require.NoError(t, err)
	first, _ := sms.Last(mobile)

	c.Advance(10 * time.Second)
	log.skip = true
	_, err = m.Issue(ctx, IssueRequest{MobileNumber: mobile, Purpose: models.PurposeRegister})
	require.NoError(t, err)
	second, _ := sms.Last(mobile)
	if second == first {
		t.Skip("codes collided")
	}

	ok, err := m.Verify(ctx, mobile, second)
	require.NoError(t, err)
	require.True(t, ok)

	all := log.All()
	require.Len(t, all, 1)
	assert.False(t, all[0].IsUsed, "the logged challenge belongs to a code that was never consumed")
}

type failingStore struct{ store.Store }

func (failingStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("store down")
}

func (failingStore) CompareAndDelete(context.Context, string, string) (bool, error) {
	return false, errors.New("store down")
}

func TestManager_StoreErrors(t *testing.T) {
	sms := notify.NewCapture()
	m := NewManager(failingStore{}, NewGenerator(6), sms)

	_, err := m.Issue(context.Background(), IssueRequest{MobileNumber: mobile})
	assert.Error(t, err)
	assert.Zero(t, sms.Sent(), "nothing is sent when the code was not stored")

	_, err = m.Verify(context.Background(), mobile, "123456")
	assert.Error(t, err)
}
