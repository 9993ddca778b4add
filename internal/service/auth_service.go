package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/abuse"
	"otp-auth-service/internal/audit"
	"otp-auth-service/internal/bucketing"
	"otp-auth-service/internal/clock"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/otp"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/util"
)

var (
	ErrInvalidFormat = errors.New("invalid format")
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("user already exists")
	ErrInvalidCode   = errors.New("invalid otp code")
	ErrBlocked       = errors.New("client address is blocked")

	// ErrTooManyFailures is the ErrBlocked raised by the failure that set
	// the block.
	ErrTooManyFailures = fmt.Errorf("%w: too many failed attempts", ErrBlocked)
)

const auditTimeout = 2 * time.Second

type OutcomeKind string

const (
	OutcomeOTPSent              OutcomeKind = "otp_sent"
	OutcomeAlreadyExists        OutcomeKind = "already_exists"
	OutcomeVerified             OutcomeKind = "verified"
	OutcomeAlreadyRegistered    OutcomeKind = "already_registered"
	OutcomeRegistrationComplete OutcomeKind = "registration_complete"
	OutcomeLoginSuccessful      OutcomeKind = "login_successful"
)

// Outcome is the successful result of a flow step. UserID is set when the
// step resolved a user; ExpiresAt and ExpiresIn only when a code was issued.
type Outcome struct {
	Kind      OutcomeKind
	UserID    string
	ExpiresAt time.Time
	ExpiresIn time.Duration
	User      *models.User
}

type RegisterRequest struct {
	MobileNumber string
	ClientIP     string
}

type LoginRequest struct {
	MobileNumber string
	ClientIP     string
}

type VerifyRequest struct {
	MobileNumber string
	Code         string
	ClientIP     string
}

type ProfileRequest struct {
	UserID    string
	FirstName string
	LastName  string
	Email     string
	ClientIP  string
}

// AuthService drives the registration and login flows. Every entry point
// validates format first, then refuses blocked addresses, then runs its
// logic.
type AuthService struct {
	users      repository.UserRepository
	otps       *otp.Manager
	guard      *abuse.Guard
	recorder   audit.Recorder
	buckets    *bucketing.Manager
	logger     *zap.Logger
	clock      clock.Clocker
	validate   *validator.Validate
	codeLength int
}

type Option func(*AuthService)

func WithClock(c clock.Clocker) Option {
	return func(s *AuthService) {
		s.clock = c
	}
}

func NewAuthService(
	users repository.UserRepository,
	otps *otp.Manager,
	guard *abuse.Guard,
	recorder audit.Recorder,
	buckets *bucketing.Manager,
	logger *zap.Logger,
	opts ...Option,
) *AuthService {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	if logger == nil {
		logger = util.Get()
	}
	s := &AuthService{
		users:      users,
		otps:       otps,
		guard:      guard,
		recorder:   recorder,
		buckets:    buckets,
		logger:     logger,
		clock:      clock.New(),
		validate:   newValidator(),
		codeLength: otps.CodeLength(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterOrLogin starts registration for a new mobile number. Known numbers
// get OutcomeAlreadyExists and no code.
func (s *AuthService) RegisterOrLogin(ctx context.Context, req RegisterRequest) (Outcome, error) {
	if err := s.validateMobile(req.MobileNumber); err != nil {
		return Outcome{}, err
	}
	if err := s.ensureNotBlocked(ctx, req.ClientIP, abuse.FlowRegister); err != nil {
		return Outcome{}, err
	}

	existing, err := s.users.FindByMobile(ctx, req.MobileNumber)
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeAlreadyExists, UserID: existing.UserID}, nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return Outcome{}, fmt.Errorf("failed to look up user: %w", err)
	}

	// Issue before writing the row: a failed issue leaves no user behind, and
	// VerifyRegistration creates the user when only the write failed.
	user := s.newUser(req.MobileNumber, false)
	receipt, err := s.otps.Issue(ctx, otp.IssueRequest{
		MobileNumber: req.MobileNumber,
		UserID:       user.UserID,
		Purpose:      models.PurposeRegister,
	})
	if err != nil {
		return Outcome{}, err
	}

	if err := s.persistUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			// lost a race with a concurrent registration
			return Outcome{Kind: OutcomeAlreadyExists}, nil
		}
		return Outcome{}, err
	}

	s.emit(ctx, models.EventOTPIssued, abuse.FlowRegister, req.ClientIP, req.MobileNumber, user.UserID)
	return Outcome{Kind: OutcomeOTPSent, UserID: user.UserID, ExpiresAt: receipt.ExpiresAt, ExpiresIn: receipt.TTL}, nil
}

// VerifyRegistration consumes a registration code and marks the user
// verified.
func (s *AuthService) VerifyRegistration(ctx context.Context, req VerifyRequest) (Outcome, error) {
	if err := s.validateVerify(req.MobileNumber, req.Code); err != nil {
		return Outcome{}, err
	}
	if err := s.ensureNotBlocked(ctx, req.ClientIP, abuse.FlowRegister); err != nil {
		return Outcome{}, err
	}

	ok, err := s.otps.Verify(ctx, req.MobileNumber, req.Code)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, s.recordFailure(ctx, req, abuse.FlowRegister)
	}

	user, err := s.users.FindByMobile(ctx, req.MobileNumber)
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		if user, err = s.createUser(ctx, req.MobileNumber, true); err != nil {
			return Outcome{}, err
		}
	case err != nil:
		return Outcome{}, fmt.Errorf("failed to look up user: %w", err)
	case user.IsVerified:
		s.emit(ctx, models.EventOTPVerified, abuse.FlowRegister, req.ClientIP, req.MobileNumber, user.UserID)
		return Outcome{Kind: OutcomeAlreadyRegistered, UserID: user.UserID}, nil
	default:
		if err := s.users.MarkVerified(ctx, user.UserID); err != nil {
			return Outcome{}, fmt.Errorf("failed to mark user verified: %w", err)
		}
	}

	s.logger.Info("Mobile number verified",
		util.Mobile(req.MobileNumber),
		util.String("user_id", user.UserID))
	s.emit(ctx, models.EventOTPVerified, abuse.FlowRegister, req.ClientIP, req.MobileNumber, user.UserID)
	return Outcome{Kind: OutcomeVerified, UserID: user.UserID}, nil
}

// CompleteRegistration applies the optional profile fields; empty ones are
// left as they are.
func (s *AuthService) CompleteRegistration(ctx context.Context, req ProfileRequest) (Outcome, error) {
	if req.UserID == "" {
		return Outcome{}, ErrNotFound
	}

	input := profileInput{
		FirstName: util.SanitizeInput(req.FirstName),
		LastName:  util.SanitizeInput(req.LastName),
		Email:     util.SanitizeInput(req.Email),
	}
	if err := s.validateProfile(input); err != nil {
		return Outcome{}, err
	}

	user, err := s.users.UpdateProfile(ctx, req.UserID, models.ProfileUpdate{
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Email:     input.Email,
	})
	if errors.Is(err, repository.ErrUserNotFound) {
		return Outcome{}, ErrNotFound
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to update profile: %w", err)
	}

	s.emit(ctx, models.EventRegistrationCompleted, abuse.FlowRegister, req.ClientIP, user.MobileNumber, user.UserID)
	return Outcome{Kind: OutcomeRegistrationComplete, UserID: user.UserID, User: user}, nil
}

// Login issues a login code to a registered mobile number.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (Outcome, error) {
	if err := s.validateMobile(req.MobileNumber); err != nil {
		return Outcome{}, err
	}
	if err := s.ensureNotBlocked(ctx, req.ClientIP, abuse.FlowLogin); err != nil {
		return Outcome{}, err
	}

	user, err := s.users.FindByMobile(ctx, req.MobileNumber)
	if errors.Is(err, repository.ErrUserNotFound) {
		return Outcome{}, ErrNotFound
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to look up user: %w", err)
	}

	receipt, err := s.otps.Issue(ctx, otp.IssueRequest{
		MobileNumber: req.MobileNumber,
		UserID:       user.UserID,
		Purpose:      models.PurposeLogin,
	})
	if err != nil {
		return Outcome{}, err
	}

	s.emit(ctx, models.EventOTPIssued, abuse.FlowLogin, req.ClientIP, req.MobileNumber, user.UserID)
	return Outcome{Kind: OutcomeOTPSent, UserID: user.UserID, ExpiresAt: receipt.ExpiresAt, ExpiresIn: receipt.TTL}, nil
}

// VerifyLogin consumes a login code and stamps the user's last login.
func (s *AuthService) VerifyLogin(ctx context.Context, req VerifyRequest) (Outcome, error) {
	if err := s.validateVerify(req.MobileNumber, req.Code); err != nil {
		return Outcome{}, err
	}
	if err := s.ensureNotBlocked(ctx, req.ClientIP, abuse.FlowLogin); err != nil {
		return Outcome{}, err
	}

	ok, err := s.otps.Verify(ctx, req.MobileNumber, req.Code)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, s.recordFailure(ctx, req, abuse.FlowLogin)
	}

	var userID string
	user, err := s.users.FindByMobile(ctx, req.MobileNumber)
	if err == nil {
		userID = user.UserID
		if err := s.users.UpdateLastLogin(ctx, userID, s.clock.Now().UTC()); err != nil {
			s.logger.Warn("Failed to record last login", util.String("user_id", userID), zap.Error(err))
		}
	} else {
		// the code was valid, so the login stands
		s.logger.Warn("Login verified for unknown user", util.Mobile(req.MobileNumber), zap.Error(err))
	}

	s.logger.Info("Login successful", util.Mobile(req.MobileNumber), util.String("user_id", userID))
	s.emit(ctx, models.EventLoginSucceeded, abuse.FlowLogin, req.ClientIP, req.MobileNumber, userID)
	return Outcome{Kind: OutcomeLoginSuccessful, UserID: userID}, nil
}

// HealthCheck reports whether the user store is reachable.
func (s *AuthService) HealthCheck(ctx context.Context) error {
	return s.users.HealthCheck(ctx)
}

func (s *AuthService) ensureNotBlocked(ctx context.Context, ip string, flow abuse.Flow) error {
	blocked, err := s.guard.IsBlocked(ctx, ip)
	if err != nil {
		return err
	}
	if blocked {
		s.logger.Debug("Request from blocked address refused", util.IP(ip), util.String("flow", string(flow)))
		s.emit(ctx, models.EventBlockedRequest, flow, ip, "", "")
		return ErrBlocked
	}
	return nil
}

// recordFailure counts a wrong code and returns the error the caller sees.
func (s *AuthService) recordFailure(ctx context.Context, req VerifyRequest, flow abuse.Flow) error {
	escalated, count, err := s.guard.RecordFailure(ctx, req.ClientIP, flow)
	if err != nil {
		return err
	}

	s.logger.Info("OTP verification failed",
		util.Mobile(req.MobileNumber),
		util.IP(req.ClientIP),
		util.String("flow", string(flow)),
		util.Int64("failures", count))
	s.emit(ctx, models.EventOTPFailed, flow, req.ClientIP, req.MobileNumber, "")

	if escalated {
		s.emit(ctx, models.EventIPBlocked, flow, req.ClientIP, req.MobileNumber, "")
		return ErrTooManyFailures
	}
	return ErrInvalidCode
}

func (s *AuthService) createUser(ctx context.Context, mobile string, verified bool) (*models.User, error) {
	user := s.newUser(mobile, verified)
	if err := s.persistUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) newUser(mobile string, verified bool) *models.User {
	now := s.clock.Now().UTC()
	user := &models.User{
		UserID:       uuid.NewString(),
		MobileNumber: mobile,
		IsActive:     true,
		IsVerified:   verified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.buckets != nil {
		user.UserBucket = s.buckets.UserBucket(mobile)
	}
	return user
}

func (s *AuthService) persistUser(ctx context.Context, user *models.User) error {
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			return err
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User created",
		util.String("user_id", user.UserID),
		util.Mobile(user.MobileNumber),
		util.Int("user_bucket", user.UserBucket))
	return nil
}

// emit records a security event without letting sink failures reach the
// caller. The request context may already be cancelled by the time sinks run.
func (s *AuthService) emit(ctx context.Context, eventType string, flow abuse.Flow, ip, mobile, userID string) {
	event := models.SecurityEvent{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		UserID:       userID,
		MobileNumber: util.MaskMobile(mobile),
		IPAddress:    ip,
		Flow:         string(flow),
		OccurredAt:   s.clock.Now().UTC(),
	}
	if s.buckets != nil {
		event.EventBucket = s.buckets.EventBucket(ip)
		event.EventDate = s.buckets.DateBucket(event.OccurredAt)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.recorder.Record(ctx, event); err != nil {
		s.logger.Warn("Failed to record security event",
			util.String("event_type", eventType),
			zap.Error(err))
	}
}
