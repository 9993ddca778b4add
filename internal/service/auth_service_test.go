package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"otp-auth-service/internal/abuse"
	"otp-auth-service/internal/audit"
	"otp-auth-service/internal/bucketing"
	"otp-auth-service/internal/clock"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/notify"
	"otp-auth-service/internal/otp"
	"otp-auth-service/internal/repository/memory"
	"otp-auth-service/internal/store"
)

const (
	mobile  = "09123456789"
	other   = "09350000000"
	ip      = "10.0.0.1"
	otherIP = "10.0.0.2"
)

type fixture struct {
	svc      *AuthService
	users    *memory.UserRepository
	log      *memory.ChallengeRepository
	sms      *notify.Capture
	events   *audit.Memory
	clock    *clock.Manual
	store    *store.Memory
	ctx      context.Context
	realCode func(t *testing.T, mobile string) string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test wrap the store the code manager and guard see.
func newFixtureWith(t *testing.T, wrap func(store.Store) store.Store) *fixture {
	t.Helper()

	clk := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	st := store.NewMemory(clk)
	var shared store.Store = st
	if wrap != nil {
		shared = wrap(st)
	}
	sms := notify.NewCapture()
	users := memory.NewUserRepository()
	events := audit.NewMemory()
	challenges := memory.NewChallengeRepository()
	hasher := hashing.NewHasherWithParams(hashing.Argon2Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	}, 0)

	otps := otp.NewManager(shared, otp.NewGenerator(otp.DefaultLength), sms,
		otp.WithClock(clk),
		otp.WithChallengeLog(challenges, hasher))
	guard := abuse.NewGuard(shared, config.AbuseConfig{})

	svc := NewAuthService(users, otps, guard, events, bucketing.New(16, 8), zap.NewNop(), WithClock(clk))

	return &fixture{
		svc:    svc,
		users:  users,
		log:    challenges,
		sms:    sms,
		events: events,
		clock:  clk,
		store:  st,
		ctx:    context.Background(),
		realCode: func(t *testing.T, m string) string {
			t.Helper()
			code, ok := sms.Last(m)
			require.True(t, ok, "no code sent to %s", m)
			return code
		},
	}
}

func wrongCode(real string) string {
	if real == "000000" {
		return "111111"
	}
	return "000000"
}

func (f *fixture) register(t *testing.T, m string) string {
	t.Helper()
	out, err := f.svc.RegisterOrLogin(f.ctx, RegisterRequest{MobileNumber: m, ClientIP: ip})
	require.NoError(t, err)
	require.Equal(t, OutcomeOTPSent, out.Kind)
	return f.realCode(t, m)
}

func TestRegisterOrLogin_CreatesOnce(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.RegisterOrLogin(f.ctx, RegisterRequest{MobileNumber: mobile, ClientIP: ip})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOTPSent, out.Kind)
	assert.NotEmpty(t, out.UserID)
	assert.Equal(t, f.clock.Now().Add(otp.DefaultTTL), out.ExpiresAt)
	assert.Equal(t, 1, f.users.Count())
	assert.Equal(t, 1, f.sms.Sent())

	out, err = f.svc.RegisterOrLogin(f.ctx, RegisterRequest{MobileNumber: mobile, ClientIP: ip})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, out.Kind)
	assert.Equal(t, 1, f.users.Count())
	assert.Equal(t, 1, f.sms.Sent(), "no code for an existing user")
}

func TestRegisterOrLogin_DeliveryFailureStillIssues(t *testing.T) {
	f := newFixture(t)
	f.sms.FailDeliveries()

	code := f.register(t, mobile)

	out, err := f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: code, ClientIP: ip})
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, out.Kind)
}

// otpOutage fails code writes while down, leaving counters and blocks alone.
type otpOutage struct {
	store.Store
	down bool
}

func (o *otpOutage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if o.down && strings.HasPrefix(key, otp.KeyPrefix) {
		return errors.New("redis down")
	}
	return o.Store.Set(ctx, key, value, ttl)
}

func TestRegisterOrLogin_FailedIssueLeavesNoUser(t *testing.T) {
	outage := &otpOutage{down: true}
	f := newFixtureWith(t, func(s store.Store) store.Store {
		outage.Store = s
		return outage
	})

	_, err := f.svc.RegisterOrLogin(f.ctx, RegisterRequest{MobileNumber: mobile, ClientIP: ip})
	require.Error(t, err)
	assert.Zero(t, f.users.Count())
	assert.Zero(t, f.sms.Sent())

	outage.down = false
	out, err := f.svc.RegisterOrLogin(f.ctx, RegisterRequest{MobileNumber: mobile, ClientIP: ip})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOTPSent, out.Kind)
	assert.Equal(t, 1, f.users.Count())

	verified, err := f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: f.realCode(t, mobile), ClientIP: ip})
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, verified.Kind)
	assert.Equal(t, out.UserID, verified.UserID)
}

func TestVerifyRegistration_SingleUse(t *testing.T) {
	f := newFixture(t)
	code := f.register(t, mobile)

	out, err := f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: code, ClientIP: ip})
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, out.Kind)

	user, err := f.users.FindByMobile(f.ctx, mobile)
	require.NoError(t, err)
	assert.True(t, user.IsVerified)
	assert.Equal(t, user.UserID, out.UserID)

	_, err = f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: code, ClientIP: ip})
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerifyRegistration_Expired(t *testing.T) {
	f := newFixture(t)
	code := f.register(t, mobile)

	f.clock.Advance(otp.DefaultTTL + time.Second)

	_, err := f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: code, ClientIP: ip})
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerifyRegistration_AlreadyRegistered(t *testing.T) {
	f := newFixture(t)
	code := f.register(t, mobile)
	_, err := f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: code, ClientIP: ip})
	require.NoError(t, err)

	_, err = f.svc.Login(f.ctx, LoginRequest{MobileNumber: mobile, ClientIP: ip})
	require.NoError(t, err)

	out, err := f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: f.realCode(t, mobile), ClientIP: ip})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyRegistered, out.Kind)
}

func TestBlockAfterThreeFailures(t *testing.T) {
	f := newFixture(t)
	code := f.register(t, mobile)
	bad := wrongCode(code)

	req := VerifyRequest{MobileNumber: mobile, Code: bad, ClientIP: ip}
	_, err := f.svc.VerifyRegistration(f.ctx, req)
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = f.svc.VerifyRegistration(f.ctx, req)
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = f.svc.VerifyRegistration(f.ctx, req)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.ErrorIs(t, err, ErrTooManyFailures)

	t.Run("every entry point refuses the address", func(t *testing.T) {
		_, err := f.svc.RegisterOrLogin(f.ctx, RegisterRequest{MobileNumber: other, ClientIP: ip})
		assert.ErrorIs(t, err, ErrBlocked)
		_, err = f.svc.Login(f.ctx, LoginRequest{MobileNumber: mobile, ClientIP: ip})
		assert.ErrorIs(t, err, ErrBlocked)
		_, err = f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: code, ClientIP: ip})
		assert.ErrorIs(t, err, ErrBlocked, "even the right code is refused")
		_, err = f.svc.VerifyLogin(f.ctx, VerifyRequest{MobileNumber: other, Code: code, ClientIP: ip})
		assert.ErrorIs(t, err, ErrBlocked)
	})

	t.Run("other addresses are unaffected", func(t *testing.T) {
		out, err := f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: code, ClientIP: otherIP})
		require.NoError(t, err)
		assert.Equal(t, OutcomeVerified, out.Kind)
	})

	t.Run("block and counter expire", func(t *testing.T) {
		f.clock.Advance(abuse.DefaultBlockTimeout + time.Second)

		_, err := f.svc.Login(f.ctx, LoginRequest{MobileNumber: mobile, ClientIP: ip})
		require.NoError(t, err)

		_, err = f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: wrongCode(f.realCode(t, mobile)), ClientIP: ip})
		assert.ErrorIs(t, err, ErrInvalidCode, "counter starts over")
	})

	assert.Contains(t, f.events.Types(), models.EventIPBlocked)
	assert.Contains(t, f.events.Types(), models.EventBlockedRequest)
}

func TestFailureCountersAreSeparatePerFlow(t *testing.T) {
	f := newFixture(t)
	code := f.register(t, mobile)
	bad := wrongCode(code)

	for i := 0; i < 2; i++ {
		_, err := f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: bad, ClientIP: ip})
		require.ErrorIs(t, err, ErrInvalidCode)
		_, err = f.svc.VerifyLogin(f.ctx, VerifyRequest{MobileNumber: mobile, Code: bad, ClientIP: ip})
		require.ErrorIs(t, err, ErrInvalidCode)
	}

	_, err := f.svc.VerifyLogin(f.ctx, VerifyRequest{MobileNumber: mobile, Code: bad, ClientIP: ip})
	assert.ErrorIs(t, err, ErrBlocked)

	_, err = f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: code, ClientIP: ip})
	assert.ErrorIs(t, err, ErrBlocked, "the block flag is shared")
}

func TestFormatValidation(t *testing.T) {
	tests := []struct {
		name   string
		mobile string
		code   string
	}{
		{name: "short mobile", mobile: "0912345678", code: "123456"},
		{name: "long mobile", mobile: "091234567890", code: "123456"},
		{name: "letter in mobile", mobile: "0912345678a", code: "123456"},
		{name: "signed mobile", mobile: "+9123456789", code: "123456"},
		{name: "empty mobile", mobile: "", code: "123456"},
		{name: "short code", mobile: mobile, code: "12345"},
		{name: "long code", mobile: mobile, code: "1234567"},
		{name: "letter in code", mobile: mobile, code: "12a456"},
		{name: "empty code", mobile: mobile, code: ""},
	}

	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: tt.mobile, Code: tt.code, ClientIP: ip})
			assert.ErrorIs(t, err, ErrInvalidFormat)
			_, err = f.svc.VerifyLogin(f.ctx, VerifyRequest{MobileNumber: tt.mobile, Code: tt.code, ClientIP: ip})
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}

	_, err := f.svc.RegisterOrLogin(f.ctx, RegisterRequest{MobileNumber: "12345", ClientIP: ip})
	assert.ErrorIs(t, err, ErrInvalidFormat)
	_, err = f.svc.Login(f.ctx, LoginRequest{MobileNumber: "abcdefghijk", ClientIP: ip})
	assert.ErrorIs(t, err, ErrInvalidFormat)

	var fe *FormatError
	_, err = f.svc.Login(f.ctx, LoginRequest{MobileNumber: "abc", ClientIP: ip})
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "mobile_number", fe.Field)

	assert.Zero(t, f.users.Count())
	assert.Zero(t, f.sms.Sent())
}

func TestFormatCheckedBeforeBlock(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Set(f.ctx, abuse.BlockKey(ip), "1", time.Hour))

	_, err := f.svc.RegisterOrLogin(f.ctx, RegisterRequest{MobileNumber: "123", ClientIP: ip})
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = f.svc.RegisterOrLogin(f.ctx, RegisterRequest{MobileNumber: mobile, ClientIP: ip})
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Zero(t, f.users.Count(), "blocked requests touch nothing")
}

func TestLogin_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(f.ctx, LoginRequest{MobileNumber: mobile, ClientIP: ip})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.sms.Sent())
}

func TestCompleteRegistration(t *testing.T) {
	f := newFixture(t)
	code := f.register(t, mobile)
	verified, err := f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: code, ClientIP: ip})
	require.NoError(t, err)

	t.Run("partial updates keep earlier fields", func(t *testing.T) {
		_, err := f.svc.CompleteRegistration(f.ctx, ProfileRequest{UserID: verified.UserID, FirstName: " Sara ", LastName: "Ahmadi"})
		require.NoError(t, err)

		out, err := f.svc.CompleteRegistration(f.ctx, ProfileRequest{UserID: verified.UserID, Email: "sara@example.com"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeRegistrationComplete, out.Kind)
		assert.Equal(t, "Sara", out.User.FirstName)
		assert.Equal(t, "Ahmadi", out.User.LastName)
		assert.Equal(t, "sara@example.com", out.User.Email)
	})

	tests := []struct {
		name    string
		req     ProfileRequest
		wantErr error
	}{
		{name: "unknown user", req: ProfileRequest{UserID: "missing", FirstName: "A"}, wantErr: ErrNotFound},
		{name: "missing user id", req: ProfileRequest{FirstName: "A"}, wantErr: ErrNotFound},
		{name: "bad email", req: ProfileRequest{UserID: verified.UserID, Email: "not-an-email"}, wantErr: ErrInvalidFormat},
		{name: "long name", req: ProfileRequest{UserID: verified.UserID, FirstName: "abcdefghijabcdefghijabcdefghijk"}, wantErr: ErrInvalidFormat},
		{name: "markup in name", req: ProfileRequest{UserID: verified.UserID, LastName: "<b>x</b>"}, wantErr: ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CompleteRegistration(f.ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t)

	code := f.register(t, mobile)
	verified, err := f.svc.VerifyRegistration(f.ctx, VerifyRequest{MobileNumber: mobile, Code: code, ClientIP: ip})
	require.NoError(t, err)
	require.Equal(t, OutcomeVerified, verified.Kind)

	done, err := f.svc.CompleteRegistration(f.ctx, ProfileRequest{UserID: verified.UserID, FirstName: "Ali", LastName: "Rezaei", Email: "ali@example.com"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegistrationComplete, done.Kind)

	again, err := f.svc.RegisterOrLogin(f.ctx, RegisterRequest{MobileNumber: mobile, ClientIP: ip})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, again.Kind)

	sent, err := f.svc.Login(f.ctx, LoginRequest{MobileNumber: mobile, ClientIP: ip})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOTPSent, sent.Kind)

	f.clock.Advance(30 * time.Second)
	out, err := f.svc.VerifyLogin(f.ctx, VerifyRequest{MobileNumber: mobile, Code: f.realCode(t, mobile), ClientIP: ip})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoginSuccessful, out.Kind)
	assert.Equal(t, verified.UserID, out.UserID)

	user, err := f.users.GetByID(f.ctx, verified.UserID)
	require.NoError(t, err)
	require.NotNil(t, user.LastLoginAt)
	assert.Equal(t, f.clock.Now(), *user.LastLoginAt)
	assert.Equal(t, "Ali", user.FirstName)

	assert.Equal(t, []string{
		models.EventOTPIssued,
		models.EventOTPVerified,
		models.EventRegistrationCompleted,
		models.EventOTPIssued,
		models.EventLoginSucceeded,
	}, f.events.Types())

	challenges := f.log.All()
	require.Len(t, challenges, 2)
	for _, c := range challenges {
		assert.True(t, c.IsUsed)
		assert.NotEqual(t, code, c.CodeHash, "only digests are logged")
	}
	assert.Equal(t, models.PurposeRegister, challenges[0].Purpose)
	assert.Equal(t, models.PurposeLogin, challenges[1].Purpose)

	for _, e := range f.events.Events() {
		assert.NotContains(t, e.MobileNumber, "0912345", "mobile numbers are masked in events")
		assert.Equal(t, "2024-03-01", e.EventDate)
	}
}
