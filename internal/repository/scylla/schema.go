package scylla

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"otp-auth-service/internal/util"
)

// Schema is applied in order by EnsureSchema. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_bucket int,
		user_id text,
		mobile_number text,
		first_name text,
		last_name text,
		email_encrypted blob,
		is_active boolean,
		is_verified boolean,
		created_at timestamp,
		updated_at timestamp,
		last_login_at timestamp,
		PRIMARY KEY ((user_bucket), user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS mobile_to_user (
		mobile_number text PRIMARY KEY,
		user_bucket int,
		user_id text,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS user_locator (
		user_id text PRIMARY KEY,
		user_bucket int
	)`,
	`CREATE TABLE IF NOT EXISTS otp_challenges (
		mobile_number text,
		issued_at timestamp,
		challenge_id text,
		user_id text,
		code_hash text,
		salt text,
		pepper_version int,
		purpose text,
		is_used boolean,
		used_at timestamp,
		PRIMARY KEY ((mobile_number), issued_at, challenge_id)
	) WITH CLUSTERING ORDER BY (issued_at DESC, challenge_id ASC)`,
}

// EnsureSchema creates missing tables in the session keyspace.
func (c *Client) EnsureSchema(ctx context.Context) error {
	for i, stmt := range Schema {
		if err := c.query(ctx, stmt).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	util.Info("ScyllaDB schema ensured", zap.Int("statements", len(Schema)))
	return nil
}
