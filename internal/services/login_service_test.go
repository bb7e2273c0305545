package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/models"
	"github.com/EllisVaughan/bastion/internal/risk"
)

// loginTestEnv wires a LoginService against in-memory mocks. The rate limit
// thresholds are high enough that tests trip them only on purpose.
type loginTestEnv struct {
	svc      *LoginService
	users    *MockUserStore
	attempts *MockAttemptRepository
	emails   *MockEmailService
	geo      *MockGeoResolver
	captcha  *MockBotChecker
	totpMgr  *auth.TOTPManager
	tm       *auth.TokenManager
}

func newLoginTestEnv(t *testing.T, user *models.User) *loginTestEnv {
	t.Helper()

	users := &MockUserStore{User: user}
	attempts := &MockAttemptRepository{}
	emails := &MockEmailService{}
	geo := &MockGeoResolver{Name: "New York, United States"}
	captcha := &MockBotChecker{}

	tm := auth.NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	tm.SetUserRepo(users)

	totpMgr, err := auth.NewTOTPManager(make([]byte, 32), "Bastion")
	require.NoError(t, err)

	rateLimits := NewRateLimitService(attempts, RateLimitConfig{
		MaxFailedPerEmail:  5,
		MaxFailedPerIP:     20,
		MaxFailedPerDevice: 10,
		LookbackWindow:     15 * time.Minute,
		LockoutDuration:    15 * time.Minute,
	}, testLogger())

	svc := NewLoginService(LoginServiceDeps{
		Users:       users,
		Attempts:    rateLimits,
		Scorer:      risk.NewScorer(risk.DefaultConfig()),
		Tokens:      NewTokenService(24*time.Hour, 5*time.Minute, time.Hour),
		TOTP:        totpMgr,
		TokenMgr:    tm,
		Emails:      emails,
		Geo:         geo,
		Captcha:     captcha,
		Timing:      auth.NewTimingDelay(auth.TimingConfig{}),
		Logger:      testLogger(),
		AuditLogger: testAuditLogger(),
	})

	return &loginTestEnv{
		svc:      svc,
		users:    users,
		attempts: attempts,
		emails:   emails,
		geo:      geo,
		captcha:  captcha,
		totpMgr:  totpMgr,
		tm:       tm,
	}
}

func lastAttempt(t *testing.T, env *loginTestEnv) *models.LoginAttempt {
	t.Helper()
	require.NotEmpty(t, env.attempts.Recorded)
	return env.attempts.Recorded[len(env.attempts.Recorded)-1]
}

// ============================================================================
// Login: decision outcomes
// ============================================================================

func TestLoginService_Login_TrustedContextAllowed(t *testing.T) {
	lc := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", lc)
	env := newLoginTestEnv(t, user)

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: TestPassword,
		Context:  lc,
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, risk.DecisionAllowed, result.Decision)
	assert.Equal(t, 0, result.RiskScore)

	require.NotNil(t, result.Session)
	assert.NotEmpty(t, result.Session.AccessToken)
	assert.NotEmpty(t, result.Session.RefreshToken)
	assert.Equal(t, "user123", result.Session.User.ID)

	require.NotNil(t, user.LastLogin)
	assert.WithinDuration(t, time.Now(), *user.LastLogin, 5*time.Second)

	// Allowed logins fold: the context log grows even when nothing is new
	require.Len(t, user.Trust.ContextLog, 1)
	assert.Equal(t, "New York, United States", user.Trust.ContextLog[0].LocationName)
	assert.Equal(t, 0, user.Trust.RiskScore)

	attempt := lastAttempt(t, env)
	assert.Equal(t, models.AttemptAllowed, attempt.Outcome)
	assert.Equal(t, 0, attempt.RiskScore)

	assert.Empty(t, env.emails.TwoFactorCodes)
	assert.Empty(t, env.emails.NewDeviceTokens)
	assert.Empty(t, env.emails.SuspiciousScores)
}

func TestLoginService_Login_MidScoreRequiresSecondFactor(t *testing.T) {
	trusted := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", trusted)
	env := newLoginTestEnv(t, user)

	// Unknown device (+3) and unknown IP (+2) land exactly on the challenge
	// threshold; location, hour, and typing stay nominal.
	lc := trusted
	lc.Device = "safari-macos"
	lc.IP = "198.51.100.7"

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: TestPassword,
		Context:  lc,
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, risk.DecisionTwoFactorPending, result.Decision)
	assert.Equal(t, 5, result.RiskScore)
	assert.Nil(t, result.Session, "no session until the second factor completes")

	// The challenge code is live on the record and was delivered
	require.NotNil(t, user.TwoFactorToken)
	assert.Len(t, user.TwoFactorToken.Code, 6)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), user.TwoFactorToken.ExpiresAt, 5*time.Second)
	require.Len(t, env.emails.TwoFactorCodes, 1)
	assert.Equal(t, user.TwoFactorToken.Code, env.emails.TwoFactorCodes[0])

	// Trust folded when the challenge was issued, not when it completes
	assert.True(t, user.Trust.HasDevice("safari-macos"))
	assert.True(t, user.Trust.HasIP("198.51.100.7"))
	assert.Equal(t, 5, user.Trust.RiskScore)
	assert.Nil(t, user.LastLogin, "last login waits for the second factor")

	// New device side channel fires independently of the decision
	require.NotNil(t, user.ResetToken)
	assert.Equal(t, models.ResetReasonNewDevice, user.ResetToken.Reason)
	assert.Len(t, user.ResetToken.Token, 40)
	require.Len(t, env.emails.NewDeviceTokens, 1)
	assert.Equal(t, user.ResetToken.Token, env.emails.NewDeviceTokens[0])

	assert.Equal(t, models.AttemptTwoFactorPending, lastAttempt(t, env).Outcome)
}

func TestLoginService_Login_HighScoreBlocked(t *testing.T) {
	trusted := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", trusted)
	env := newLoginTestEnv(t, user)

	// Everything anomalous at once: device +3, IP +2, far location +4,
	// unusual hour +2, typing deviation +2 = 13.
	lc := risk.LoginContext{
		IP:          "198.51.100.99",
		Device:      "headless-curl",
		Location:    risk.Coordinates{Lat: 35.6762, Lon: 139.6503}, // Tokyo
		TypingSpeed: 13.0,
		LoginHour:   3,
		Timestamp:   time.Now(),
	}

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: TestPassword,
		Context:  lc,
	})

	assert.ErrorIs(t, err, models.ErrLoginBlocked)
	assert.Nil(t, result)

	// A blocked context never folds
	assert.False(t, user.Trust.HasDevice("headless-curl"))
	assert.False(t, user.Trust.HasIP("198.51.100.99"))
	assert.Len(t, user.Trust.KnownLocations, 1)
	assert.Empty(t, user.Trust.ContextLog)
	assert.Nil(t, user.LastLogin)

	// The re-securing token still goes out: the real owner may need it
	require.NotNil(t, user.ResetToken)
	assert.Equal(t, models.ResetReasonNewDevice, user.ResetToken.Reason)
	require.Len(t, env.emails.NewDeviceTokens, 1)

	require.Len(t, env.emails.SuspiciousScores, 1)
	assert.Equal(t, 13, env.emails.SuspiciousScores[0])

	attempt := lastAttempt(t, env)
	assert.Equal(t, models.AttemptBlocked, attempt.Outcome)
	assert.Equal(t, 13, attempt.RiskScore)
}

func TestLoginService_Login_EmptyProfileScoresIdentityOnly(t *testing.T) {
	// An empty profile pays only the device and IP penalties; location, hour,
	// and typing checks need history to fire. Score 5 = challenge band.
	user := NewTestUser("user123", "user@example.com")
	env := newLoginTestEnv(t, user)

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: TestPassword,
		Context:  NewTestLoginContext(),
	})

	require.NoError(t, err)
	assert.Equal(t, risk.DecisionTwoFactorPending, result.Decision)
	assert.Equal(t, 5, result.RiskScore)
}

// ============================================================================
// Login: gates before scoring
// ============================================================================

func TestLoginService_Login_InvalidPassword(t *testing.T) {
	lc := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", lc)
	env := newLoginTestEnv(t, user)

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: "WrongPassword1!",
		Context:  lc,
	})

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Nil(t, result)

	attempt := lastAttempt(t, env)
	assert.Equal(t, models.AttemptFailed, attempt.Outcome)
	require.NotNil(t, attempt.FailureReason)
	assert.Equal(t, "invalid_credentials", *attempt.FailureReason)

	// Failed credentials never touch the profile
	assert.Empty(t, user.Trust.ContextLog)
}

func TestLoginService_Login_UnknownEmailSameError(t *testing.T) {
	env := newLoginTestEnv(t, nil)

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "nobody@example.com",
		Password: TestPassword,
		Context:  NewTestLoginContext(),
	})

	// Indistinguishable from a wrong password
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Nil(t, result)
}

func TestLoginService_Login_InvalidContextRejected(t *testing.T) {
	lc := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", lc)
	env := newLoginTestEnv(t, user)

	tests := []struct {
		name   string
		mutate func(*risk.LoginContext)
	}{
		{"missing ip", func(c *risk.LoginContext) { c.IP = "" }},
		{"missing device", func(c *risk.LoginContext) { c.Device = "" }},
		{"hour out of range", func(c *risk.LoginContext) { c.LoginHour = 24 }},
		{"negative typing speed", func(c *risk.LoginContext) { c.TypingSpeed = -1 }},
		{"latitude out of range", func(c *risk.LoginContext) { c.Location.Lat = 91 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := lc
			tt.mutate(&bad)

			result, err := env.svc.Login(context.Background(), LoginInput{
				Email:    "user@example.com",
				Password: TestPassword,
				Context:  bad,
			})
			assert.ErrorIs(t, err, models.ErrBadRequest)
			assert.Nil(t, result)
		})
	}
}

func TestLoginService_Login_CaptchaFailureShortCircuits(t *testing.T) {
	lc := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", lc)
	env := newLoginTestEnv(t, user)
	env.captcha.Err = models.ErrCaptchaFailed

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:        "user@example.com",
		Password:     TestPassword,
		CaptchaToken: "bad-token",
		Context:      lc,
	})

	assert.ErrorIs(t, err, models.ErrCaptchaFailed)
	assert.Nil(t, result)

	attempt := lastAttempt(t, env)
	require.NotNil(t, attempt.FailureReason)
	assert.Equal(t, "captcha_failed", *attempt.FailureReason)
	assert.Empty(t, user.Trust.ContextLog, "bot attempts never reach scoring")
}

func TestLoginService_Login_UnverifiedEmailRejected(t *testing.T) {
	lc := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", lc)
	user.EmailVerified = false
	env := newLoginTestEnv(t, user)

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: TestPassword,
		Context:  lc,
	})

	assert.ErrorIs(t, err, models.ErrEmailNotVerified)
	assert.Nil(t, result)
}

func TestLoginService_Login_LockedOutAfterRepeatedFailures(t *testing.T) {
	lc := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", lc)
	env := newLoginTestEnv(t, user)
	env.attempts.FailedByEmail = 5

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: TestPassword,
		Context:  lc,
	})

	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.Nil(t, result)
	require.NotNil(t, lastAttempt(t, env).FailureReason)
	assert.Equal(t, "rate_limited", *lastAttempt(t, env).FailureReason)
}

// ============================================================================
// Login: collaborator degradation
// ============================================================================

func TestLoginService_Login_GeoFailureDegradesToUnknown(t *testing.T) {
	lc := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", lc)
	env := newLoginTestEnv(t, user)
	env.geo.Name = "" // resolver default: Unknown

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: TestPassword,
		Context:  lc,
	})

	require.NoError(t, err)
	assert.Equal(t, risk.DecisionAllowed, result.Decision)
	require.Len(t, user.Trust.ContextLog, 1)
	assert.Equal(t, UnknownLocation, user.Trust.ContextLog[0].LocationName)
}

func TestLoginService_Login_AlertFailureDoesNotBlockLogin(t *testing.T) {
	trusted := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", trusted)
	env := newLoginTestEnv(t, user)
	env.emails.SendNewDeviceAlertFunc = func(ctx context.Context, email string, loginCtx risk.LoginContext, resetToken string) error {
		return errors.New("ses unavailable")
	}

	// New device alone (+3) stays under the challenge threshold
	lc := trusted
	lc.Device = "safari-macos"

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: TestPassword,
		Context:  lc,
	})

	require.NoError(t, err)
	assert.Equal(t, risk.DecisionAllowed, result.Decision)
	assert.Equal(t, 3, result.RiskScore)
	require.NotNil(t, result.Session)

	// The token was still installed even though the alert never went out
	require.NotNil(t, user.ResetToken)
	assert.Equal(t, models.ResetReasonNewDevice, user.ResetToken.Reason)
}

// ============================================================================
// Two-factor completion
// ============================================================================

// challengeUser drives a login into the two-factor band and returns the
// delivered code.
func challengeUser(t *testing.T, env *loginTestEnv, device, ip string) string {
	t.Helper()

	lc := NewTestLoginContext()
	lc.Device = device
	lc.IP = ip

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    env.users.User.Email,
		Password: TestPassword,
		Context:  lc,
	})
	require.NoError(t, err)
	require.Equal(t, risk.DecisionTwoFactorPending, result.Decision)
	require.NotEmpty(t, env.emails.TwoFactorCodes)
	return env.emails.TwoFactorCodes[len(env.emails.TwoFactorCodes)-1]
}

func TestLoginService_VerifyTwoFactor_Success(t *testing.T) {
	trusted := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", trusted)
	env := newLoginTestEnv(t, user)

	code := challengeUser(t, env, "safari-macos", "198.51.100.7")

	session, err := env.svc.VerifyTwoFactor(context.Background(), TwoFactorInput{
		Email: "user@example.com",
		Code:  code,
	})

	require.NoError(t, err)
	require.NotNil(t, session)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)

	assert.Nil(t, user.TwoFactorToken, "the code is single use")
	require.NotNil(t, user.LastLogin)
}

func TestLoginService_VerifyTwoFactor_WrongCode(t *testing.T) {
	trusted := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", trusted)
	env := newLoginTestEnv(t, user)

	code := challengeUser(t, env, "safari-macos", "198.51.100.7")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	session, err := env.svc.VerifyTwoFactor(context.Background(), TwoFactorInput{
		Email: "user@example.com",
		Code:  wrong,
	})

	assert.ErrorIs(t, err, models.ErrTokenNotFound)
	assert.Nil(t, session)
	assert.NotNil(t, user.TwoFactorToken, "a wrong guess does not burn the live code")
	assert.Nil(t, user.LastLogin)
}

func TestLoginService_VerifyTwoFactor_ExpiredCodeCleared(t *testing.T) {
	trusted := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", trusted)
	user.TwoFactorToken = &models.VerificationToken{
		Code:      "123456",
		ExpiresAt: time.Now().Add(-time.Minute),
		Purpose:   models.PurposeTwoFactor,
	}
	env := newLoginTestEnv(t, user)

	session, err := env.svc.VerifyTwoFactor(context.Background(), TwoFactorInput{
		Email: "user@example.com",
		Code:  "123456",
	})

	assert.ErrorIs(t, err, models.ErrTokenExpired)
	assert.Nil(t, session)
	assert.Nil(t, user.TwoFactorToken, "expired slots are lazily cleared on touch")
}

func TestLoginService_VerifyTwoFactor_NoPendingChallenge(t *testing.T) {
	trusted := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", trusted)
	env := newLoginTestEnv(t, user)

	session, err := env.svc.VerifyTwoFactor(context.Background(), TwoFactorInput{
		Email: "user@example.com",
		Code:  "123456",
	})

	assert.ErrorIs(t, err, models.ErrTokenNotFound)
	assert.Nil(t, session)
}

func TestLoginService_VerifyTwoFactor_ReissueInvalidatesPreviousCode(t *testing.T) {
	trusted := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", trusted)
	env := newLoginTestEnv(t, user)

	first := challengeUser(t, env, "safari-macos", "198.51.100.7")
	second := challengeUser(t, env, "edge-windows", "198.51.100.8")
	require.NotEqual(t, first, second)

	session, err := env.svc.VerifyTwoFactor(context.Background(), TwoFactorInput{
		Email: "user@example.com",
		Code:  first,
	})
	assert.ErrorIs(t, err, models.ErrTokenNotFound)
	assert.Nil(t, session)

	// The latest code still works
	session, err = env.svc.VerifyTwoFactor(context.Background(), TwoFactorInput{
		Email: "user@example.com",
		Code:  second,
	})
	require.NoError(t, err)
	assert.NotNil(t, session)
}

func TestLoginService_VerifyTwoFactor_TOTPMethod(t *testing.T) {
	trusted := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", trusted)
	env := newLoginTestEnv(t, user)

	enrollment, err := env.totpMgr.GenerateEnrollment(user.Email)
	require.NoError(t, err)
	user.TOTPSecretEncrypted = enrollment.EncryptedSecret
	user.TOTPSecretNonce = enrollment.Nonce
	user.TOTPEnabled = true

	challengeUser(t, env, "safari-macos", "198.51.100.7")

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)

	session, err := env.svc.VerifyTwoFactor(context.Background(), TwoFactorInput{
		Email:  "user@example.com",
		Code:   code,
		Method: "totp",
	})

	require.NoError(t, err)
	require.NotNil(t, session)
	assert.NotNil(t, user.TOTPLastUsedAt)
	assert.Nil(t, user.TwoFactorToken, "an app code also clears the emailed challenge")

	// Replaying the same code inside the window fails
	session, err = env.svc.VerifyTwoFactor(context.Background(), TwoFactorInput{
		Email:  "user@example.com",
		Code:   code,
		Method: "totp",
	})
	assert.ErrorIs(t, err, models.ErrTokenNotFound)
	assert.Nil(t, session)
}

func TestLoginService_VerifyTwoFactor_TOTPNotEnrolled(t *testing.T) {
	trusted := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", trusted)
	env := newLoginTestEnv(t, user)

	session, err := env.svc.VerifyTwoFactor(context.Background(), TwoFactorInput{
		Email:  "user@example.com",
		Code:   "123456",
		Method: "totp",
	})

	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.Nil(t, session)
}

// ============================================================================
// Sessions
// ============================================================================

func TestLoginService_RefreshToken(t *testing.T) {
	lc := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", lc)
	env := newLoginTestEnv(t, user)

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: TestPassword,
		Context:  lc,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Session)

	session, err := env.svc.RefreshToken(context.Background(), result.Session.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)

	// An access token is not a refresh token
	_, err = env.svc.RefreshToken(context.Background(), result.Session.AccessToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = env.svc.RefreshToken(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestLoginService_Logout_InvalidatesAllSessions(t *testing.T) {
	lc := NewTestLoginContext()
	user := NewTestUserWithTrust("user123", "user@example.com", lc)
	env := newLoginTestEnv(t, user)

	result, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: TestPassword,
		Context:  lc,
	})
	require.NoError(t, err)

	oldKey := user.TokenKey
	require.NoError(t, env.svc.Logout(context.Background(), "user123"))
	assert.NotEqual(t, oldKey, user.TokenKey)

	// The rotated key orphans every token signed with the old one
	_, err = env.svc.RefreshToken(context.Background(), result.Session.RefreshToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
