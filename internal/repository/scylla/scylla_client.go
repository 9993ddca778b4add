package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

const defaultRetries = 2

// statements holds every CQL string the repositories run. gocql prepares and
// caches them on first use.
type statements struct {
	insertUser        string
	insertUserLocator string
	claimMobile       string
	releaseMobile     string
	takeOverMobile    string
	getUserByMobile   string
	getUserLocator    string
	getUser           string
	updateProfile     string
	markVerified      string
	updateLastLogin   string
	insertChallenge   string
	recentChallenges  string
	markChallengeUsed string
}

func newStatements() statements {
	return statements{
		insertUser: `INSERT INTO users (
			user_bucket, user_id, mobile_number, first_name, last_name, email_encrypted,
			is_active, is_verified, created_at, updated_at, last_login_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insertUserLocator: `INSERT INTO user_locator (user_id, user_bucket) VALUES (?, ?)`,
		claimMobile: `INSERT INTO mobile_to_user (mobile_number, user_bucket, user_id, created_at)
			VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		releaseMobile: `DELETE FROM mobile_to_user WHERE mobile_number = ? IF user_id = ?`,
		takeOverMobile: `UPDATE mobile_to_user SET user_bucket = ?, user_id = ?, created_at = ?
			WHERE mobile_number = ? IF user_id = ?`,
		getUserByMobile: `SELECT user_bucket, user_id FROM mobile_to_user WHERE mobile_number = ?`,
		getUserLocator:  `SELECT user_bucket FROM user_locator WHERE user_id = ?`,
		getUser: `SELECT user_bucket, user_id, mobile_number, first_name, last_name, email_encrypted,
			is_active, is_verified, created_at, updated_at, last_login_at
			FROM users WHERE user_bucket = ? AND user_id = ?`,
		updateProfile: `UPDATE users SET first_name = ?, last_name = ?, email_encrypted = ?, updated_at = ?
			WHERE user_bucket = ? AND user_id = ?`,
		markVerified:    `UPDATE users SET is_verified = true, updated_at = ? WHERE user_bucket = ? AND user_id = ?`,
		updateLastLogin: `UPDATE users SET last_login_at = ? WHERE user_bucket = ? AND user_id = ?`,
		insertChallenge: `INSERT INTO otp_challenges (
			mobile_number, issued_at, challenge_id, user_id, code_hash, salt,
			pepper_version, purpose, is_used
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) USING TTL ?`,
		recentChallenges: `SELECT issued_at, challenge_id, user_id, code_hash, salt, pepper_version, purpose, is_used
			FROM otp_challenges
			WHERE mobile_number = ? LIMIT ?`,
		markChallengeUsed: `UPDATE otp_challenges USING TTL ? SET is_used = true, used_at = ?
			WHERE mobile_number = ? AND issued_at = ? AND challenge_id = ?`,
	}
}

type Client struct {
	Session *gocql.Session
	stmts   statements
}

func NewClient(cfg *config.Config) (*Client, error) {
	sc := cfg.Scylla

	cluster := gocql.NewCluster(sc.Nodes...)
	cluster.Keyspace = sc.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if caPath := util.GetEnv("SCYLLA_TLS_CA_FILE", ""); caPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 caPath,
			CertPath:               util.GetEnv("SCYLLA_TLS_CERT_FILE", ""),
			KeyPath:                util.GetEnv("SCYLLA_TLS_KEY_FILE", ""),
			EnableHostVerification: cfg.IsProduction(),
		}
	}

	if sc.Username != "" && sc.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: sc.Username,
			Password: sc.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", sc.Nodes),
		zap.String("keyspace", sc.Keyspace))

	return &Client{Session: session, stmts: newStatements()}, nil
}

func (c *Client) Close() {
	if c.Session != nil {
		c.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (c *Client) query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return c.Session.Query(stmt, values...).WithContext(ctx)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	if err := c.query(ctx, `SELECT cluster_name FROM system.local`).Scan(&clusterName); err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry runs q up to maxRetries+1 times with linear backoff.
func (c *Client) ExecuteWithRetry(ctx context.Context, q *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if lastErr = q.Exec(); lastErr == nil {
			return nil
		}
		if i < maxRetries {
			if err := sleepCtx(ctx, time.Duration(i+1)*100*time.Millisecond); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// ScanWithRetry retries transient failures; gocql.ErrNotFound is returned at
// once.
func (c *Client) ScanWithRetry(ctx context.Context, q *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i <= defaultRetries; i++ {
		lastErr = q.Scan(dest...)
		if lastErr == nil || lastErr == gocql.ErrNotFound {
			return lastErr
		}
		if i < defaultRetries {
			if err := sleepCtx(ctx, time.Duration(i+1)*100*time.Millisecond); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
