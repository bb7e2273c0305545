package models

import "time"

// Outcome values recorded per login attempt.
const (
	AttemptAllowed          = "allowed"
	AttemptTwoFactorPending = "two_factor_pending"
	AttemptBlocked          = "blocked"
	AttemptFailed           = "failed" // bad credentials, captcha, lockout
)

// LoginAttempt represents a single login attempt in the system
type LoginAttempt struct {
	ID                string    `db:"id"`
	Email             string    `db:"email"`
	IPAddress         string    `db:"ip_address"`
	Device            string    `db:"device"`
	DeviceFingerprint string    `db:"device_fingerprint"`
	Outcome           string    `db:"outcome"`
	RiskScore         int       `db:"risk_score"`
	FailureReason     *string   `db:"failure_reason"`
	AttemptTime       time.Time `db:"attempt_time"`
}

// LoginAttemptStats aggregates attempt outcomes for one account over a
// window. Serves the admin stats endpoint.
type LoginAttemptStats struct {
	Email             string     `json:"email"`
	FailedCount       int        `json:"failed_count"`
	BlockedCount      int        `json:"blocked_count"`
	RecentFailureTime *time.Time `json:"recent_failure_time,omitempty"`
}
