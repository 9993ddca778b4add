package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/bucketing"
	"otp-auth-service/internal/encryption"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/repository"
	"otp-auth-service/internal/util"
)

const claimGracePeriod = time.Minute

type UserRepository struct {
	client    *Client
	buckets   *bucketing.Manager
	encryptor *encryption.Manager
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository(client *Client, buckets *bucketing.Manager, encryptor *encryption.Manager) *UserRepository {
	return &UserRepository{client: client, buckets: buckets, encryptor: encryptor}
}

// Create claims the mobile number with a lightweight transaction, then writes
// the user row and its id locator in one logged batch. A claim whose batch
// failed is released; one left behind by a crash is taken over once it is
// older than claimGracePeriod.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	now := time.Now().UTC()
	stampCreated(user, now)
	user.UserBucket = r.buckets.UserBucket(user.MobileNumber)

	emailBlob, err := r.sealEmail(ctx, user.Email)
	if err != nil {
		return err
	}

	if err := r.claimMobile(ctx, user, now); err != nil {
		return err
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.stmts.insertUser,
		user.UserBucket, user.UserID, user.MobileNumber, user.FirstName, user.LastName, emailBlob,
		user.IsActive, user.IsVerified, user.CreatedAt, user.UpdatedAt, user.LastLoginAt)
	batch.Query(r.client.stmts.insertUserLocator, user.UserID, user.UserBucket)

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create user",
			util.Mobile(user.MobileNumber),
			zap.String("user_id", user.UserID),
			zap.Error(err))
		r.releaseMobile(ctx, user)
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		util.Mobile(user.MobileNumber),
		zap.String("user_id", user.UserID),
		zap.Int("user_bucket", user.UserBucket))
	return nil
}

func (r *UserRepository) claimMobile(ctx context.Context, user *models.User, now time.Time) error {
	existing := map[string]interface{}{}
	applied, err := r.client.query(ctx, r.client.stmts.claimMobile,
		user.MobileNumber, user.UserBucket, user.UserID, now).MapScanCAS(existing)
	if err != nil {
		util.Error("Failed to claim mobile number", util.Mobile(user.MobileNumber), zap.Error(err))
		return fmt.Errorf("failed to claim mobile number: %w", err)
	}
	if applied {
		return nil
	}

	owner, _ := existing["user_id"].(string)
	if !claimIsStale(existing, now) {
		return repository.ErrUserAlreadyExists
	}
	ownerBucket, _ := existing["user_bucket"].(int)
	if _, err := r.load(ctx, ownerBucket, owner); !errors.Is(err, repository.ErrUserNotFound) {
		if err != nil {
			return err
		}
		return repository.ErrUserAlreadyExists
	}

	// the owner row was never written
	applied, err = r.client.query(ctx, r.client.stmts.takeOverMobile,
		user.UserBucket, user.UserID, now, user.MobileNumber, owner).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to take over mobile claim: %w", err)
	}
	if !applied {
		return repository.ErrUserAlreadyExists
	}
	util.Warn("Took over orphaned mobile claim",
		util.Mobile(user.MobileNumber),
		zap.String("previous_user_id", owner),
		zap.String("user_id", user.UserID))
	return nil
}

// releaseMobile drops the claim only while it still names user.
func (r *UserRepository) releaseMobile(ctx context.Context, user *models.User) {
	_, err := r.client.query(ctx, r.client.stmts.releaseMobile,
		user.MobileNumber, user.UserID).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to release mobile claim",
			util.Mobile(user.MobileNumber),
			zap.String("user_id", user.UserID),
			zap.Error(err))
	}
}

// stampCreated fills only the timestamps the caller left unset.
func stampCreated(user *models.User, now time.Time) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
}

// claimIsStale reports whether a claim row read back from a failed LWT is
// old enough that its writer can no longer be mid-create.
func claimIsStale(existing map[string]interface{}, now time.Time) bool {
	createdAt, ok := existing["created_at"].(time.Time)
	if !ok || createdAt.IsZero() {
		return false
	}
	return now.Sub(createdAt) > claimGracePeriod
}

func (r *UserRepository) FindByMobile(ctx context.Context, mobile string) (*models.User, error) {
	var (
		bucket int
		userID string
	)
	q := r.client.query(ctx, r.client.stmts.getUserByMobile, mobile)
	if err := r.client.ScanWithRetry(ctx, q, &bucket, &userID); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrUserNotFound
		}
		util.Error("Failed to look up mobile number", util.Mobile(mobile), zap.Error(err))
		return nil, fmt.Errorf("failed to get user by mobile: %w", err)
	}
	return r.load(ctx, bucket, userID)
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	bucket, err := r.bucketOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.load(ctx, bucket, userID)
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID string, update models.ProfileUpdate) (*models.User, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	update.Apply(user)
	user.UpdatedAt = time.Now().UTC()

	emailBlob, err := r.sealEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}

	q := r.client.query(ctx, r.client.stmts.updateProfile,
		user.FirstName, user.LastName, emailBlob, user.UpdatedAt, user.UserBucket, user.UserID)
	if err := r.client.ExecuteWithRetry(ctx, q, defaultRetries); err != nil {
		util.Error("Failed to update profile", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}

	util.Info("User profile updated", zap.String("user_id", userID))
	return user, nil
}

func (r *UserRepository) MarkVerified(ctx context.Context, userID string) error {
	bucket, err := r.bucketOf(ctx, userID)
	if err != nil {
		return err
	}
	q := r.client.query(ctx, r.client.stmts.markVerified, time.Now().UTC(), bucket, userID)
	if err := r.client.ExecuteWithRetry(ctx, q, defaultRetries); err != nil {
		util.Error("Failed to mark user verified", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("failed to mark user verified: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	bucket, err := r.bucketOf(ctx, userID)
	if err != nil {
		return err
	}
	q := r.client.query(ctx, r.client.stmts.updateLastLogin, at.UTC(), bucket, userID)
	if err := r.client.ExecuteWithRetry(ctx, q, defaultRetries); err != nil {
		util.Error("Failed to update last login", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *UserRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

func (r *UserRepository) bucketOf(ctx context.Context, userID string) (int, error) {
	var bucket int
	q := r.client.query(ctx, r.client.stmts.getUserLocator, userID)
	if err := r.client.ScanWithRetry(ctx, q, &bucket); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return 0, repository.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to locate user: %w", err)
	}
	return bucket, nil
}

func (r *UserRepository) load(ctx context.Context, bucket int, userID string) (*models.User, error) {
	var (
		user      models.User
		emailBlob []byte
		lastLogin time.Time
	)
	q := r.client.query(ctx, r.client.stmts.getUser, bucket, userID)
	err := r.client.ScanWithRetry(ctx, q,
		&user.UserBucket, &user.UserID, &user.MobileNumber, &user.FirstName, &user.LastName, &emailBlob,
		&user.IsActive, &user.IsVerified, &user.CreatedAt, &user.UpdatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrUserNotFound
		}
		util.Error("Failed to load user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	if !lastLogin.IsZero() {
		user.LastLoginAt = &lastLogin
	}

	if user.Email, err = r.openEmail(ctx, emailBlob); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) sealEmail(ctx context.Context, email string) ([]byte, error) {
	if email == "" {
		return nil, nil
	}
	enc, err := r.encryptor.EncryptField(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt email: %w", err)
	}
	return enc.Marshal()
}

func (r *UserRepository) openEmail(ctx context.Context, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	enc, err := encryption.Unmarshal(blob)
	if err != nil {
		return "", err
	}
	email, err := r.encryptor.DecryptField(ctx, enc)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt email: %w", err)
	}
	return email, nil
}
