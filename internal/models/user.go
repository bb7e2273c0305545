package models

import (
	"time"

	"github.com/EllisVaughan/bastion/internal/risk"
)

// User is the single durable record per account. Identity fields, the trust
// profile, and the live token slots are colocated because the decision policy
// and every token validation key off the same lookup.
type User struct {
	ID            string
	Email         string
	PasswordHash  string
	EmailVerified bool
	TokenKey      string // Per-user secret for composite token signing
	Role          string // "user", "admin"

	Trust risk.TrustProfile

	// Token slots. One live token per slot; issuing a new one overwrites the
	// previous value. nil means no live token.
	EmailVerifyToken *VerificationToken
	TwoFactorToken   *VerificationToken
	ResetToken       *ResetToken

	// Authenticator-app second factor, optional.
	TOTPSecretEncrypted []byte // AES-256-GCM encrypted TOTP secret
	TOTPSecretNonce     []byte // GCM nonce (12 bytes)
	TOTPEnabled         bool
	TOTPLastUsedAt      *time.Time // For replay prevention

	LastLogin *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VerificationTokenFor returns the live token slot for the given purpose, or
// nil when that purpose has no live token.
func (u *User) VerificationTokenFor(purpose TokenPurpose) *VerificationToken {
	switch purpose {
	case PurposeEmailVerify:
		return u.EmailVerifyToken
	case PurposeTwoFactor:
		return u.TwoFactorToken
	default:
		return nil
	}
}
