package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/EllisVaughan/bastion/internal/models"
	"github.com/EllisVaughan/bastion/internal/risk"
	"github.com/EllisVaughan/bastion/pkg/auth"
	pkglogger "github.com/EllisVaughan/bastion/pkg/logger"
)

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	EmailVerified bool    `json:"email_verified"`
	Role          string  `json:"role"`
	LastLogin     *string `json:"last_login,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// ProfileResponse is the account owner's view of their record, including the
// accumulated trust profile.
type ProfileResponse struct {
	User        *UserResponse     `json:"user"`
	Trust       risk.TrustProfile `json:"trust"`
	TOTPEnabled bool              `json:"totp_enabled"`
}

// UserService handles account lifecycle: signup, email verification, the
// password reset flows, and the profile surface.
type UserService struct {
	users       UserStore
	tokens      *TokenService
	emails      EmailService
	geo         GeoResolver
	captcha     BotChecker
	riskCfg     risk.Config
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewUserService creates a new UserService
func NewUserService(users UserStore, tokens *TokenService, emails EmailService, geo GeoResolver, captcha BotChecker, riskCfg risk.Config, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *UserService {
	return &UserService{
		users:       users,
		tokens:      tokens,
		emails:      emails,
		geo:         geo,
		captcha:     captcha,
		riskCfg:     riskCfg,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// SignupInput carries the registration form plus the context captured by the
// client at submission time.
type SignupInput struct {
	Email        string
	Password     string
	CaptchaToken string
	Context      risk.LoginContext
}

// Signup registers a new account. The signup context folds into the trust
// profile immediately with a zero score, so the user's first login from the
// same device and network is already nominal.
func (s *UserService) Signup(ctx context.Context, input SignupInput) (*UserResponse, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, models.ErrBadRequest
	}

	// Captcha comes first: registration is the cheapest endpoint for a bot
	// to farm accounts on, so nothing else runs until the challenge passes.
	if err := s.captcha.VerifyCaptcha(ctx, input.CaptchaToken, input.Context.IP); err != nil {
		s.logger.Info("signup rejected: captcha failed", slog.String("ip", input.Context.IP))
		return nil, models.ErrCaptchaFailed
	}

	if err := auth.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	signupCtx := input.Context
	if signupCtx.Timestamp.IsZero() {
		signupCtx.Timestamp = time.Now()
	}
	if err := signupCtx.Validate(); err != nil {
		s.logger.Info("signup rejected: invalid context", slog.Any("error", err))
		return nil, models.ErrBadRequest
	}

	hashedPassword, err := auth.HashPassword(input.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	locationName := s.geo.ResolveLocationName(ctx, signupCtx.Location)

	user := &models.User{
		Email:        email,
		PasswordHash: hashedPassword,
		Trust:        risk.Fold(risk.TrustProfile{}, signupCtx, 0, locationName, s.riskCfg),
	}

	code, expiresAt, err := s.tokens.IssueVerificationCode(user, models.PurposeEmailVerify)
	if err != nil {
		s.logger.Error("failed to issue verification code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	createdUser, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("signup failed: email already registered")
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.emails.SendVerificationEmail(ctx, createdUser.Email, code, expiresAt); err != nil {
		s.logger.Error("failed to send verification email",
			slog.String("user_id", createdUser.ID), slog.Any("error", err))
	}

	s.logger.Info("user registered", slog.String("user_id", createdUser.ID))
	s.auditLogger.LogAccountAction("user_registered", createdUser.ID, signupCtx.IP, nil)

	return userModelToResponse(createdUser), nil
}

// VerifyEmail confirms ownership of the address with the emailed code.
// Verifying an already-verified account is a no-op.
func (s *UserService) VerifyEmail(ctx context.Context, email, code string) error {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTokenNotFound
		}
		s.logger.Error("failed to get user for email verify", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.EmailVerified {
		return nil
	}

	var tokenErr error
	_, err = s.users.UpdateWithLock(ctx, user.ID, func(u *models.User) error {
		tokenErr = s.tokens.ConsumeVerificationCode(u, models.PurposeEmailVerify, code)
		if tokenErr != nil {
			return nil
		}
		u.EmailVerified = true
		return nil
	})
	if err != nil {
		s.logger.Error("failed to verify email",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if tokenErr != nil {
		return tokenErr
	}

	s.logger.Info("email verified", slog.String("user_id", user.ID))
	s.auditLogger.LogAccountAction("email_verified", user.ID, "", nil)
	return nil
}

// ResendVerification issues a replacement verification code, invalidating
// the previous one. Responds identically whether or not the account exists.
func (s *UserService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("verification resend for unknown email")
			return nil
		}
		s.logger.Error("failed to get user for verification resend", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.EmailVerified {
		return nil
	}

	var code string
	var expiresAt time.Time
	_, err = s.users.UpdateWithLock(ctx, user.ID, func(u *models.User) error {
		code, expiresAt, err = s.tokens.IssueVerificationCode(u, models.PurposeEmailVerify)
		return err
	})
	if err != nil {
		s.logger.Error("failed to reissue verification code",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.emails.SendVerificationEmail(ctx, user.Email, code, expiresAt); err != nil {
		s.logger.Error("failed to send verification email",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	return nil
}

// ForgotPassword issues a reset token for the account, overwriting any live
// one including a pending new-device token. Responds identically whether or
// not the account exists.
func (s *UserService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		s.logger.Error("failed to get user for password reset", slog.Any("error", err))
		return models.ErrInternalServer
	}

	var token string
	var expiresAt time.Time
	_, err = s.users.UpdateWithLock(ctx, user.ID, func(u *models.User) error {
		token, expiresAt, err = s.tokens.IssueResetToken(u, models.ResetReasonPasswordReset)
		return err
	})
	if err != nil {
		s.logger.Error("failed to issue reset token",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.emails.SendPasswordResetEmail(ctx, user.Email, token, expiresAt); err != nil {
		s.logger.Error("failed to send password reset email",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.auditLogger.LogAccountAction("password_reset_requested", user.ID, "", nil)
	return nil
}

// ResetPassword sets a new password against a live reset token. Tokens from
// both issuing flows are accepted: a user alerted about a new device resets
// with that token the same way as one who asked to reset. The token key
// rotates so every outstanding session signs out, and a pending two-factor
// challenge is dropped.
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTokenNotFound
		}
		s.logger.Error("failed to look up reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	hashedPassword, err := auth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	var tokenErr error
	_, err = s.users.UpdateWithLock(ctx, user.ID, func(u *models.User) error {
		tokenErr = s.tokens.ConsumeResetToken(u, token)
		if tokenErr != nil {
			return nil
		}

		tokenKey, err := auth.GenerateTokenKey()
		if err != nil {
			return err
		}

		u.PasswordHash = hashedPassword
		u.TokenKey = tokenKey
		s.tokens.InvalidateVerificationCode(u, models.PurposeTwoFactor)
		return nil
	})
	if err != nil {
		s.logger.Error("failed to reset password",
			slog.String("user_id", user.ID), slog.Any("error", err))
		s.auditLogger.LogPasswordChange(user.ID, "", false)
		return models.ErrInternalServer
	}
	if tokenErr != nil {
		return tokenErr
	}

	s.logger.Info("password reset", slog.String("user_id", user.ID))
	s.auditLogger.LogPasswordChange(user.ID, "", true)
	return nil
}

// GetProfile returns the account's own record with its trust profile
func (s *UserService) GetProfile(ctx context.Context, userID string) (*ProfileResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &ProfileResponse{
		User:        userModelToResponse(user),
		Trust:       user.Trust,
		TOTPEnabled: user.TOTPEnabled,
	}, nil
}

// ResetRiskScore acknowledges the recorded risk score back to zero. Resetting
// an already-zero score is reported as a conflict so clients can tell the
// acknowledgement did nothing.
func (s *UserService) ResetRiskScore(ctx context.Context, userID string) error {
	_, err := s.users.UpdateWithLock(ctx, userID, func(u *models.User) error {
		if u.Trust.RiskScore == 0 {
			return models.ErrRiskScoreZero
		}
		u.Trust.RiskScore = 0
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrRiskScoreZero) || errors.Is(err, models.ErrNotFound) {
			return err
		}
		s.logger.Error("failed to reset risk score",
			slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("risk score reset", slog.String("user_id", userID))
	s.auditLogger.LogAccountAction("risk_score_reset", userID, "", nil)
	return nil
}

// userModelToResponse converts a user model to its response DTO
func userModelToResponse(user *models.User) *UserResponse {
	resp := &UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Role:          user.Role,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     user.UpdatedAt.Format(time.RFC3339),
	}
	if user.LastLogin != nil {
		lastLogin := user.LastLogin.Format(time.RFC3339)
		resp.LastLogin = &lastLogin
	}
	return resp
}

