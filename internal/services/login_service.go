package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/models"
	"github.com/EllisVaughan/bastion/internal/risk"
	pkgauth "github.com/EllisVaughan/bastion/pkg/auth"
	pkglogger "github.com/EllisVaughan/bastion/pkg/logger"
)

// UserStore is the user persistence surface the authentication services need
type UserStore interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByResetToken(ctx context.Context, token string) (*models.User, error)
	UpdateWithLock(ctx context.Context, id string, fn func(user *models.User) error) (*models.User, error)
}

// LoginInput carries the credentials and the observed context of one attempt
type LoginInput struct {
	Email        string
	Password     string
	CaptchaToken string
	Context      risk.LoginContext
}

// TwoFactorInput completes a pending two-factor login. Method selects the
// emailed code (default) or an authenticator app code.
type TwoFactorInput struct {
	Email  string
	Code   string
	Method string // "email" or "totp"
}

// SessionResponse is returned whenever a session is established or renewed
type SessionResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
}

// LoginResult is the outcome of a scored login attempt. Session is only set
// when the decision is allowed.
type LoginResult struct {
	Decision  risk.Decision `json:"decision"`
	RiskScore int           `json:"risk_score"`
	Session   *SessionResponse
}

// LoginServiceDeps wires the collaborators the login flow orchestrates
type LoginServiceDeps struct {
	Users       UserStore
	Attempts    *RateLimitService
	Scorer      *risk.Scorer
	Tokens      *TokenService
	TOTP        *auth.TOTPManager
	TokenMgr    *auth.TokenManager
	Emails      EmailService
	Geo         GeoResolver
	Captcha     BotChecker
	Timing      *auth.TimingDelay
	Logger      *slog.Logger
	AuditLogger *pkglogger.AuditLogger
}

// LoginService runs the risk-scored login flow: every attempt is evaluated
// against the user's trust profile and either admitted, challenged with a
// second factor, or blocked.
type LoginService struct {
	users       UserStore
	attempts    *RateLimitService
	scorer      *risk.Scorer
	tokens      *TokenService
	totp        *auth.TOTPManager
	tm          *auth.TokenManager
	emails      EmailService
	geo         GeoResolver
	captcha     BotChecker
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewLoginService creates a new LoginService
func NewLoginService(deps LoginServiceDeps) *LoginService {
	return &LoginService{
		users:       deps.Users,
		attempts:    deps.Attempts,
		scorer:      deps.Scorer,
		tokens:      deps.Tokens,
		totp:        deps.TOTP,
		tm:          deps.TokenMgr,
		emails:      deps.Emails,
		geo:         deps.Geo,
		captcha:     deps.Captcha,
		timing:      deps.Timing,
		logger:      deps.Logger,
		auditLogger: deps.AuditLogger,
	}
}

// Login evaluates one attempt end to end.
//
// Order matters and is part of the contract: captcha, then credentials, then
// the lockout gate, then the new-device side channel, then scoring. The
// new-device reset token is issued regardless of what the score decides
// afterward. Trust folding for allowed and two-factor-pending outcomes
// happens atomically with the token slot writes under the user row lock; a
// pending second factor therefore folds before it is completed.
func (s *LoginService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	start := time.Now()

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, models.ErrUnauthorized
	}

	lc := input.Context
	lc.IP = strings.TrimSpace(lc.IP)
	if lc.Timestamp.IsZero() {
		lc.Timestamp = start
	}
	if err := lc.Validate(); err != nil {
		s.logger.Info("login rejected: invalid context", slog.Any("error", err))
		return nil, models.ErrBadRequest
	}

	// Bot check short-circuits everything else
	if err := s.captcha.VerifyCaptcha(ctx, input.CaptchaToken, lc.IP); err != nil {
		s.recordAttempt(ctx, email, lc, models.AttemptFailed, 0, "captcha_failed")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			Email:         email,
			IPAddress:     lc.IP,
			Device:        lc.Device,
			FailureReason: "captcha_failed",
			Success:       false,
		})
		return nil, models.ErrCaptchaFailed
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("login failed: invalid credentials")
			s.recordAttempt(ctx, email, lc, models.AttemptFailed, 0, "invalid_credentials")
			s.timing.WaitFrom(start, false)
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, input.Password); err != nil {
		s.logger.Info("login failed: invalid credentials")
		s.recordAttempt(ctx, email, lc, models.AttemptFailed, 0, "invalid_credentials")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			Email:         email,
			IPAddress:     lc.IP,
			FailureReason: "invalid_credentials",
			Success:       false,
		})
		s.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}

	if !user.EmailVerified {
		s.logger.Info("login blocked: email not verified", slog.String("user_id", user.ID))
		s.recordAttempt(ctx, email, lc, models.AttemptFailed, 0, "email_not_verified")
		return nil, models.ErrEmailNotVerified
	}

	allowed, lockout, err := s.attempts.CheckRateLimit(ctx, email, lc.IP, lc.Device)
	if err != nil || !allowed {
		if lockout != nil {
			s.logger.Warn("login rejected: account locked out",
				slog.String("user_id", user.ID),
				slog.Duration("lockout", *lockout))
		}
		s.recordAttempt(ctx, email, lc, models.AttemptFailed, 0, "rate_limited")
		return nil, models.ErrRateLimited
	}

	// Resolved before the critical section so no network call happens while
	// the row lock is held.
	locationName := s.geo.ResolveLocationName(ctx, lc.Location)

	var (
		assessment    risk.Assessment
		newDevice     bool
		resetToken    string
		twoFactorCode string
		twoFactorExp  time.Time
	)

	updated, err := s.users.UpdateWithLock(ctx, user.ID, func(u *models.User) error {
		newDevice = !u.Trust.HasDevice(lc.Device)
		if newDevice {
			token, _, err := s.tokens.IssueResetToken(u, models.ResetReasonNewDevice)
			if err != nil {
				return err
			}
			resetToken = token
		}

		assessment = s.scorer.Assess(lc, u.Trust)

		switch assessment.Decision {
		case risk.DecisionBlocked:
			// No folding: a blocked context must not enter the trust profile
			return nil

		case risk.DecisionTwoFactorPending:
			u.Trust = risk.Fold(u.Trust, lc, assessment.Score, locationName, s.scorer.Config())
			code, expiresAt, err := s.tokens.IssueVerificationCode(u, models.PurposeTwoFactor)
			if err != nil {
				return err
			}
			twoFactorCode = code
			twoFactorExp = expiresAt
			return nil

		default:
			u.Trust = risk.Fold(u.Trust, lc, assessment.Score, locationName, s.scorer.Config())
			now := time.Now()
			u.LastLogin = &now
			return nil
		}
	})
	if err != nil {
		s.logger.Error("failed to apply login decision",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	signalKinds := make([]string, 0, len(assessment.Signals))
	for _, sig := range assessment.Signals {
		signalKinds = append(signalKinds, string(sig.Kind))
	}
	s.auditLogger.LogLoginDecision(user.ID, email, lc.IP, lc.Device,
		assessment.Score, assessment.Decision.String(), signalKinds)

	// Alerts go out after the transaction commits so a rollback never
	// produces a dangling email. Send failures are logged, never returned.
	if newDevice {
		if err := s.emails.SendNewDeviceAlert(ctx, email, lc, resetToken); err != nil {
			s.logger.Error("failed to send new device alert",
				slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	switch assessment.Decision {
	case risk.DecisionBlocked:
		s.recordAttempt(ctx, email, lc, models.AttemptBlocked, assessment.Score, "")
		if err := s.emails.SendSuspiciousActivityAlert(ctx, email, lc, locationName, assessment.Score); err != nil {
			s.logger.Error("failed to send suspicious activity alert",
				slog.String("user_id", user.ID), slog.Any("error", err))
		}
		return nil, models.ErrLoginBlocked

	case risk.DecisionTwoFactorPending:
		s.recordAttempt(ctx, email, lc, models.AttemptTwoFactorPending, assessment.Score, "")
		if err := s.emails.SendTwoFactorCode(ctx, email, twoFactorCode, twoFactorExp); err != nil {
			s.logger.Error("failed to send two-factor code",
				slog.String("user_id", user.ID), slog.Any("error", err))
		}
		return &LoginResult{
			Decision:  assessment.Decision,
			RiskScore: assessment.Score,
		}, nil

	default:
		s.recordAttempt(ctx, email, lc, models.AttemptAllowed, assessment.Score, "")
		session, err := s.newSession(updated)
		if err != nil {
			return nil, err
		}
		s.timing.WaitFrom(start, true)
		return &LoginResult{
			Decision:  assessment.Decision,
			RiskScore: assessment.Score,
			Session:   session,
		}, nil
	}
}

// VerifyTwoFactor completes a login that scored into the two-factor band.
// The trust profile already folded when the challenge was issued; success
// here only clears the code slot and establishes the session.
func (s *LoginService) VerifyTwoFactor(ctx context.Context, input TwoFactorInput) (*SessionResponse, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Code == "" {
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for two-factor verify", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if input.Method == "totp" {
		return s.verifyTwoFactorTOTP(ctx, user, input.Code)
	}

	var tokenErr error
	updated, err := s.users.UpdateWithLock(ctx, user.ID, func(u *models.User) error {
		tokenErr = s.tokens.ConsumeVerificationCode(u, models.PurposeTwoFactor, input.Code)
		if tokenErr != nil {
			// Commit anyway so an expired slot's lazy cleanup persists
			return nil
		}
		now := time.Now()
		u.LastLogin = &now
		return nil
	})
	if err != nil {
		s.logger.Error("failed to verify two-factor code",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if tokenErr != nil {
		reason := "two_factor_invalid"
		if errors.Is(tokenErr, models.ErrTokenExpired) {
			reason = "two_factor_expired"
		}
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "two_factor_failed",
			UserID:        user.ID,
			Email:         email,
			FailureReason: reason,
			Success:       false,
		})
		return nil, tokenErr
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "two_factor_success",
		UserID:    user.ID,
		Email:     email,
		Success:   true,
	})

	return s.newSession(updated)
}

// verifyTwoFactorTOTP accepts an authenticator app code in place of the
// emailed one. Validation runs under the row lock so the replay timestamp
// is race-free; the emailed code slot is cleared on success.
func (s *LoginService) verifyTwoFactorTOTP(ctx context.Context, user *models.User, code string) (*SessionResponse, error) {
	if !user.TOTPEnabled {
		return nil, models.ErrBadRequest
	}

	var tokenErr error
	updated, err := s.users.UpdateWithLock(ctx, user.ID, func(u *models.User) error {
		secret, err := s.totp.DecryptSecret(u.TOTPSecretEncrypted, u.TOTPSecretNonce)
		if err != nil {
			return err
		}

		valid, err := s.totp.ValidateTOTP(secret, code, u.TOTPLastUsedAt)
		if err != nil || !valid {
			tokenErr = models.ErrTokenNotFound
			return nil
		}

		now := time.Now()
		u.TOTPLastUsedAt = &now
		u.LastLogin = &now
		s.tokens.InvalidateVerificationCode(u, models.PurposeTwoFactor)
		return nil
	})
	if err != nil {
		s.logger.Error("failed to verify TOTP code",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if tokenErr != nil {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "two_factor_failed",
			UserID:        user.ID,
			Email:         user.Email,
			FailureReason: "totp_invalid",
			Success:       false,
		})
		return nil, tokenErr
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "two_factor_success",
		UserID:    user.ID,
		Email:     user.Email,
		Metadata:  map[string]string{"method": "totp"},
		Success:   true,
	})

	return s.newSession(updated)
}

// RefreshToken exchanges a valid refresh token for a new session pair
func (s *LoginService) RefreshToken(ctx context.Context, refreshToken string) (*SessionResponse, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshToken)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if claims.Type != "refresh" {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh",
			slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))
	return s.newSession(user)
}

// Logout invalidates every outstanding session for the user by rotating the
// per-user token key. There is no per-session revocation: all devices sign
// out together.
func (s *LoginService) Logout(ctx context.Context, userID string) error {
	_, err := s.users.UpdateWithLock(ctx, userID, func(u *models.User) error {
		tokenKey, err := pkgauth.GenerateTokenKey()
		if err != nil {
			return err
		}
		u.TokenKey = tokenKey
		return nil
	})
	if err != nil {
		s.logger.Error("failed to rotate token key on logout",
			slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user logged out", slog.String("user_id", userID))
	s.auditLogger.LogAccountAction("logout", userID, "", nil)
	return nil
}

func (s *LoginService) newSession(user *models.User) (*SessionResponse, error) {
	tokens, err := s.tm.IssueSession(user)
	if err != nil {
		s.logger.Error("failed to issue session",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &SessionResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User:         userModelToResponse(user),
	}, nil
}

// recordAttempt persists the attempt outcome. Failures here are logged and
// swallowed: attempt tracking must not break authentication.
func (s *LoginService) recordAttempt(ctx context.Context, email string, lc risk.LoginContext, outcome string, score int, failureReason string) {
	var reason *string
	if failureReason != "" {
		reason = &failureReason
	}

	if err := s.attempts.RecordAttempt(ctx, email, lc.IP, lc.Device, outcome, score, reason); err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
	}
}
