package models

import "time"

const (
	EventOTPIssued             = "otp_issued"
	EventOTPVerified           = "otp_verified"
	EventOTPFailed             = "otp_failed"
	EventIPBlocked             = "ip_blocked"
	EventRegistrationCompleted = "registration_completed"
	EventLoginSucceeded        = "login_succeeded"
	EventBlockedRequest        = "blocked_request"
)

type SecurityEvent struct {
	EventID      string    `db:"event_id" json:"event_id"`
	EventBucket  int       `db:"event_bucket" json:"event_bucket"`
	EventType    string    `db:"event_type" json:"event_type"`
	UserID       string    `db:"user_id" json:"user_id,omitempty"`
	MobileNumber string    `db:"mobile_number" json:"mobile_number,omitempty"`
	IPAddress    string    `db:"ip_address" json:"ip_address"`
	Flow         string    `db:"flow" json:"flow,omitempty"`
	OccurredAt   time.Time `db:"occurred_at" json:"occurred_at"`
	// EventDate is the UTC day of OccurredAt, used for daily index names.
	EventDate string `db:"-" json:"event_date,omitempty"`
}
