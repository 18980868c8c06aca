package models

import "time"

// RateLimitKind identifies which check blocked an attempt
type RateLimitKind string

const (
	RateLimitKindIP       RateLimitKind = "ip_rate_limit"
	RateLimitKindLocked   RateLimitKind = "account_locked"
	RateLimitKindUsername RateLimitKind = "username_rate_limit"
)

// RateLimitDecision is the verdict of a rate limit evaluation
type RateLimitDecision struct {
	Allowed        bool          `json:"allowed"`
	Kind           RateLimitKind `json:"kind,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Remaining      int           `json:"remaining"`
	FailedAttempts int           `json:"failed_attempts"` // failures counted by the check that decided
	LockoutExpires *time.Time    `json:"lockout_expires,omitempty"`
	// LockoutFailures is the username's failure count in the lockout window,
	// whichever check decided
	LockoutFailures int        `json:"lockout_failures"`
	OldestFailure   *time.Time `json:"oldest_failure,omitempty"`
}

// FailureKind classifies a failed verification for callers
type FailureKind string

const (
	FailureRateLimited        FailureKind = "rate_limited"
	FailureAccountLocked      FailureKind = "account_locked"
	FailureInvalidCredentials FailureKind = "invalid_credentials"
	FailureNoPasswordSet      FailureKind = "no_password_set"
	FailureAccountDeactivated FailureKind = "account_deactivated"
)
