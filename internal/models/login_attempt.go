package models

import "time"

// LoginAttempt is a single, write-once entry in the attempt log
type LoginAttempt struct {
	ID string `db:"id" json:"id"`
	// Username is stored as submitted, never normalized
	Username  string    `db:"username" json:"username"`
	IPAddress *string   `db:"ip_address" json:"ip_address,omitempty"`
	Timestamp time.Time `db:"attempt_time" json:"timestamp"`
	Success   bool      `db:"success" json:"success"`
	// Reason is only set on failures
	Reason *string `db:"reason" json:"reason,omitempty"`
	// AccountID is set once the username resolved to an account
	AccountID *string `db:"account_id" json:"account_id,omitempty"`
}

// Failure reasons written to the attempt log
const (
	ReasonUserNotFound       = "User not found"
	ReasonNoPasswordSet      = "No password set"
	ReasonInvalidPassword    = "Invalid password"
	ReasonAccountDeactivated = "Account deactivated"
	ReasonRateLimitExceeded  = "Rate limit exceeded"
	ReasonAccountLocked      = "Account locked"
	ReasonInternalError      = "Internal error"
)

// AttemptTime truncates t to the millisecond precision the log stores
func AttemptTime(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}
