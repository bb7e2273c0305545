package services

import (
	"fmt"
	"time"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/models"
)

// TokenService manages the short-lived token slots on a user record. Each
// purpose holds at most one live token: issuing overwrites, never queues.
// Expiry is lazy, an expired value sits in its slot until the next issue or
// validation touches it.
//
// Methods mutate the passed user in memory only. Callers run them inside a
// locked repository update so the slot state they see is current.
type TokenService struct {
	emailVerifyTTL time.Duration
	twoFactorTTL   time.Duration
	resetTTL       time.Duration
}

// NewTokenService creates a TokenService with per-purpose lifetimes
func NewTokenService(emailVerifyTTL, twoFactorTTL, resetTTL time.Duration) *TokenService {
	return &TokenService{
		emailVerifyTTL: emailVerifyTTL,
		twoFactorTTL:   twoFactorTTL,
		resetTTL:       resetTTL,
	}
}

func (s *TokenService) verificationTTL(purpose models.TokenPurpose) time.Duration {
	if purpose == models.PurposeEmailVerify {
		return s.emailVerifyTTL
	}
	return s.twoFactorTTL
}

// IssueVerificationCode installs a fresh code for the purpose, overwriting
// any previous token in that slot. Returns the plaintext code for delivery.
func (s *TokenService) IssueVerificationCode(user *models.User, purpose models.TokenPurpose) (string, time.Time, error) {
	code, err := auth.GenerateVerificationCode()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate verification code: %w", err)
	}

	token := &models.VerificationToken{
		Code:      code,
		ExpiresAt: time.Now().Add(s.verificationTTL(purpose)),
		Purpose:   purpose,
	}

	switch purpose {
	case models.PurposeEmailVerify:
		user.EmailVerifyToken = token
	case models.PurposeTwoFactor:
		user.TwoFactorToken = token
	default:
		return "", time.Time{}, fmt.Errorf("unknown token purpose: %s", purpose)
	}

	return code, token.ExpiresAt, nil
}

// ConsumeVerificationCode validates a submitted code against the slot and
// clears it on success. An expired token is cleared too: it can never become
// valid again.
func (s *TokenService) ConsumeVerificationCode(user *models.User, purpose models.TokenPurpose, code string) error {
	slot := user.VerificationTokenFor(purpose)

	switch slot.Status(code, time.Now()) {
	case models.TokenFresh:
		s.clearVerification(user, purpose)
		return nil
	case models.TokenExpired:
		s.clearVerification(user, purpose)
		return models.ErrTokenExpired
	default:
		return models.ErrTokenNotFound
	}
}

// InvalidateVerificationCode clears the slot for the purpose
func (s *TokenService) InvalidateVerificationCode(user *models.User, purpose models.TokenPurpose) {
	s.clearVerification(user, purpose)
}

func (s *TokenService) clearVerification(user *models.User, purpose models.TokenPurpose) {
	switch purpose {
	case models.PurposeEmailVerify:
		user.EmailVerifyToken = nil
	case models.PurposeTwoFactor:
		user.TwoFactorToken = nil
	}
}

// IssueResetToken installs a fresh reset token tagged with the flow that
// requested it. The slot is shared: a new-device alert and a forgot-password
// request overwrite each other.
func (s *TokenService) IssueResetToken(user *models.User, reason models.ResetReason) (string, time.Time, error) {
	token, err := auth.GenerateResetToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate reset token: %w", err)
	}

	user.ResetToken = &models.ResetToken{
		Token:     token,
		ExpiresAt: time.Now().Add(s.resetTTL),
		Reason:    reason,
	}

	return token, user.ResetToken.ExpiresAt, nil
}

// ConsumeResetToken validates a submitted reset token and clears the slot on
// success. Tokens from either issuing flow are accepted.
func (s *TokenService) ConsumeResetToken(user *models.User, token string) error {
	switch user.ResetToken.Status(token, time.Now()) {
	case models.TokenFresh:
		user.ResetToken = nil
		return nil
	case models.TokenExpired:
		user.ResetToken = nil
		return models.ErrTokenExpired
	default:
		return models.ErrTokenNotFound
	}
}

// InvalidateResetToken clears the reset slot
func (s *TokenService) InvalidateResetToken(user *models.User) {
	user.ResetToken = nil
}
