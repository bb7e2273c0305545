package models

import (
	"crypto/subtle"
	"time"
)

// TokenStatus is the outcome of validating a stored token against a
// submitted value at a point in time.
type TokenStatus int

const (
	TokenFresh TokenStatus = iota
	TokenExpired
	TokenNotFound
)

// TokenPurpose distinguishes the verification-code slots on a user record.
type TokenPurpose string

const (
	PurposeEmailVerify TokenPurpose = "email_verify"
	PurposeTwoFactor   TokenPurpose = "two_factor"
)

// ResetReason records which flow issued the live reset token. Both flows
// share one slot, so issuing for one reason overwrites a pending token from
// the other.
type ResetReason string

const (
	ResetReasonNewDevice     ResetReason = "new_device"
	ResetReasonPasswordReset ResetReason = "password_reset"
)

// VerificationToken is a short-lived numeric code delivered out of band.
// Expiry is lazy: the stored value may outlive ExpiresAt, but Status never
// reports it Fresh afterward.
type VerificationToken struct {
	Code      string       `json:"-"` // Never expose the code
	ExpiresAt time.Time    `json:"expires_at"`
	Purpose   TokenPurpose `json:"purpose"`
}

// IsExpired checks if the token has expired at the given time
func (t *VerificationToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Status validates a submitted code against the slot. A missing slot or a
// non-matching code is NotFound; a matching code past its expiry is Expired,
// never Fresh.
func (t *VerificationToken) Status(code string, now time.Time) TokenStatus {
	if t == nil || t.Code == "" || code == "" {
		return TokenNotFound
	}
	if subtle.ConstantTimeCompare([]byte(t.Code), []byte(code)) != 1 {
		return TokenNotFound
	}
	if t.IsExpired(now) {
		return TokenExpired
	}
	return TokenFresh
}

// ResetToken is a single-use account re-securing token: 20 random bytes, hex
// encoded. One slot per user, shared by the new-device and forgot-password
// flows; Reason records which flow issued the live value.
type ResetToken struct {
	Token     string      `json:"-"` // Never expose the token
	ExpiresAt time.Time   `json:"expires_at"`
	Reason    ResetReason `json:"reason"`
}

// IsExpired checks if the token has expired at the given time
func (t *ResetToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Status validates a submitted token against the slot.
func (t *ResetToken) Status(token string, now time.Time) TokenStatus {
	if t == nil || t.Token == "" || token == "" {
		return TokenNotFound
	}
	if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) != 1 {
		return TokenNotFound
	}
	if t.IsExpired(now) {
		return TokenExpired
	}
	return TokenFresh
}
