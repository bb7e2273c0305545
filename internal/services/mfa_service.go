package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/models"
	pkgauth "github.com/EllisVaughan/bastion/pkg/auth"
	pkglogger "github.com/EllisVaughan/bastion/pkg/logger"
)

// MFAService manages the optional authenticator-app second factor. The
// encrypted secret lives on the user record; enabling it lets the user
// answer a two-factor challenge with an app code instead of the emailed one.
type MFAService struct {
	users       UserStore
	totpMgr     *auth.TOTPManager
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewMFAService creates a new MFA service
func NewMFAService(users UserStore, totpMgr *auth.TOTPManager, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *MFAService {
	return &MFAService{
		users:       users,
		totpMgr:     totpMgr,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// InitiateSetup generates a new TOTP secret for the account and stores it
// encrypted, pending activation. Repeating setup before activation replaces
// the pending secret.
func (s *MFAService) InitiateSetup(ctx context.Context, userID string) (*models.TOTPSetup, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to fetch user for TOTP setup", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.TOTPEnabled {
		return nil, models.ErrConflict
	}

	enrollment, err := s.totpMgr.GenerateEnrollment(user.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	_, err = s.users.UpdateWithLock(ctx, userID, func(u *models.User) error {
		if u.TOTPEnabled {
			return models.ErrConflict
		}
		u.TOTPSecretEncrypted = enrollment.EncryptedSecret
		u.TOTPSecretNonce = enrollment.Nonce
		u.TOTPLastUsedAt = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to store TOTP secret",
			slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("TOTP setup initiated", slog.String("user_id", userID))

	return &models.TOTPSetup{
		Secret: enrollment.Secret,
		QRCode: enrollment.QRCodeDataURL,
	}, nil
}

// Activate turns on the second factor once the user proves their app is
// provisioned by submitting a valid code.
func (s *MFAService) Activate(ctx context.Context, userID, code string) error {
	var tokenErr error
	_, err := s.users.UpdateWithLock(ctx, userID, func(u *models.User) error {
		if u.TOTPEnabled {
			return models.ErrConflict
		}
		if len(u.TOTPSecretEncrypted) == 0 {
			return models.ErrBadRequest
		}

		secret, err := s.totpMgr.DecryptSecret(u.TOTPSecretEncrypted, u.TOTPSecretNonce)
		if err != nil {
			return err
		}

		valid, err := s.totpMgr.ValidateTOTP(secret, code, nil)
		if err != nil || !valid {
			tokenErr = models.ErrTokenNotFound
			return tokenErr
		}

		now := time.Now()
		u.TOTPEnabled = true
		// Blocks the activation code from answering a login challenge in
		// the same window
		u.TOTPLastUsedAt = &now
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrBadRequest),
			errors.Is(err, models.ErrNotFound), tokenErr != nil:
			return err
		default:
			s.logger.Error("failed to activate TOTP",
				slog.String("user_id", userID), slog.Any("error", err))
			return models.ErrInternalServer
		}
	}

	s.logger.Info("TOTP enabled", slog.String("user_id", userID))
	s.auditLogger.LogAccountAction("totp_enabled", userID, "", nil)
	return nil
}

// Disable removes the second factor after re-verifying the password
func (s *MFAService) Disable(ctx context.Context, userID, password string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to fetch user for TOTP disable", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Warn("TOTP disable rejected: wrong password", slog.String("user_id", userID))
		return models.ErrUnauthorized
	}

	if !user.TOTPEnabled {
		return models.ErrBadRequest
	}

	_, err = s.users.UpdateWithLock(ctx, userID, func(u *models.User) error {
		u.TOTPSecretEncrypted = nil
		u.TOTPSecretNonce = nil
		u.TOTPEnabled = false
		u.TOTPLastUsedAt = nil
		return nil
	})
	if err != nil {
		s.logger.Error("failed to disable TOTP",
			slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("TOTP disabled", slog.String("user_id", userID))
	s.auditLogger.LogAccountAction("totp_disabled", userID, "", nil)
	return nil
}

// GetStatus reports whether the second factor is active
func (s *MFAService) GetStatus(ctx context.Context, userID string) (*models.TOTPStatus, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrInternalServer
	}

	return &models.TOTPStatus{Enabled: user.TOTPEnabled}, nil
}
