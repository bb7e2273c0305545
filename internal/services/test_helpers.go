package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/EllisVaughan/bastion/internal/models"
	"github.com/EllisVaughan/bastion/internal/risk"
	pkgauth "github.com/EllisVaughan/bastion/pkg/auth"
	pkglogger "github.com/EllisVaughan/bastion/pkg/logger"
)

// MockUserStore implements UserStore for testing. The zero value rejects every
// lookup; set User to back the defaults with a single account.
type MockUserStore struct {
	CreateFunc          func(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmailFunc      func(ctx context.Context, email string) (*models.User, error)
	GetByIDFunc         func(ctx context.Context, id string) (*models.User, error)
	GetByResetTokenFunc func(ctx context.Context, token string) (*models.User, error)
	UpdateWithLockFunc  func(ctx context.Context, id string, fn func(user *models.User) error) (*models.User, error)

	// User backs the default behaviors: lookups match against it and
	// UpdateWithLock mutates it in place.
	User    *models.User
	Created []*models.User
}

func (m *MockUserStore) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	if user.ID == "" {
		user.ID = fmt.Sprintf("user_%d", len(m.Created)+1)
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.Created = append(m.Created, user)
	return user, nil
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	if m.User != nil && m.User.Email == email {
		return m.User, nil
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	if m.User != nil && m.User.ID == id {
		return m.User, nil
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) GetByResetToken(ctx context.Context, token string) (*models.User, error) {
	if m.GetByResetTokenFunc != nil {
		return m.GetByResetTokenFunc(ctx, token)
	}
	if m.User != nil && m.User.ResetToken != nil && m.User.ResetToken.Token == token {
		return m.User, nil
	}
	return nil, models.ErrNotFound
}

// UpdateWithLock applies fn to a staged copy and commits only when fn returns
// nil, mirroring the transactional repository.
func (m *MockUserStore) UpdateWithLock(ctx context.Context, id string, fn func(user *models.User) error) (*models.User, error) {
	if m.UpdateWithLockFunc != nil {
		return m.UpdateWithLockFunc(ctx, id, fn)
	}
	if m.User == nil || m.User.ID != id {
		return nil, models.ErrNotFound
	}
	staged := *m.User
	if err := fn(&staged); err != nil {
		return nil, err
	}
	staged.UpdatedAt = time.Now()
	*m.User = staged
	return m.User, nil
}

// MockAttemptRepository implements AttemptRepository for testing
type MockAttemptRepository struct {
	RecordAttemptFunc                 func(ctx context.Context, attempt *models.LoginAttempt) error
	GetFailedAttemptCountFunc         func(ctx context.Context, email string, since time.Time) (int, error)
	GetRecentFailureTimeFunc          func(ctx context.Context, email string, since time.Time) (*time.Time, error)
	GetFailedAttemptCountByIPFunc     func(ctx context.Context, ipAddress string, since time.Time) (int, error)
	GetFailedAttemptCountByDeviceFunc func(ctx context.Context, fingerprint string, since time.Time) (int, error)
	GetStatsFunc                      func(ctx context.Context, email string, since time.Time) (*models.LoginAttemptStats, error)

	Recorded       []*models.LoginAttempt
	FailedByEmail  int
	FailedByIP     int
	FailedByDevice int
	Stats          *models.LoginAttemptStats
}

func (m *MockAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	m.Recorded = append(m.Recorded, attempt)
	return nil
}

func (m *MockAttemptRepository) GetFailedAttemptCount(ctx context.Context, email string, since time.Time) (int, error) {
	if m.GetFailedAttemptCountFunc != nil {
		return m.GetFailedAttemptCountFunc(ctx, email, since)
	}
	return m.FailedByEmail, nil
}

func (m *MockAttemptRepository) GetRecentFailureTime(ctx context.Context, email string, since time.Time) (*time.Time, error) {
	if m.GetRecentFailureTimeFunc != nil {
		return m.GetRecentFailureTimeFunc(ctx, email, since)
	}
	return nil, nil
}

func (m *MockAttemptRepository) GetFailedAttemptCountByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	if m.GetFailedAttemptCountByIPFunc != nil {
		return m.GetFailedAttemptCountByIPFunc(ctx, ipAddress, since)
	}
	return m.FailedByIP, nil
}

func (m *MockAttemptRepository) GetFailedAttemptCountByDevice(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	if m.GetFailedAttemptCountByDeviceFunc != nil {
		return m.GetFailedAttemptCountByDeviceFunc(ctx, fingerprint, since)
	}
	return m.FailedByDevice, nil
}

func (m *MockAttemptRepository) GetStats(ctx context.Context, email string, since time.Time) (*models.LoginAttemptStats, error) {
	if m.GetStatsFunc != nil {
		return m.GetStatsFunc(ctx, email, since)
	}
	if m.Stats != nil {
		return m.Stats, nil
	}
	return &models.LoginAttemptStats{Email: email}, nil
}

// MockEmailService implements EmailService for testing, recording every send
type MockEmailService struct {
	SendVerificationEmailFunc       func(ctx context.Context, email, code string, expiresAt time.Time) error
	SendTwoFactorCodeFunc           func(ctx context.Context, email, code string, expiresAt time.Time) error
	SendPasswordResetEmailFunc      func(ctx context.Context, email, token string, expiresAt time.Time) error
	SendNewDeviceAlertFunc          func(ctx context.Context, email string, loginCtx risk.LoginContext, resetToken string) error
	SendSuspiciousActivityAlertFunc func(ctx context.Context, email string, loginCtx risk.LoginContext, locationName string, score int) error

	VerificationCodes []string
	TwoFactorCodes    []string
	ResetTokens       []string
	NewDeviceTokens   []string // reset tokens carried by new-device alerts
	SuspiciousScores  []int
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	if m.SendVerificationEmailFunc != nil {
		return m.SendVerificationEmailFunc(ctx, email, code, expiresAt)
	}
	m.VerificationCodes = append(m.VerificationCodes, code)
	return nil
}

func (m *MockEmailService) SendTwoFactorCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	if m.SendTwoFactorCodeFunc != nil {
		return m.SendTwoFactorCodeFunc(ctx, email, code, expiresAt)
	}
	m.TwoFactorCodes = append(m.TwoFactorCodes, code)
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token, expiresAt)
	}
	m.ResetTokens = append(m.ResetTokens, token)
	return nil
}

func (m *MockEmailService) SendNewDeviceAlert(ctx context.Context, email string, loginCtx risk.LoginContext, resetToken string) error {
	if m.SendNewDeviceAlertFunc != nil {
		return m.SendNewDeviceAlertFunc(ctx, email, loginCtx, resetToken)
	}
	m.NewDeviceTokens = append(m.NewDeviceTokens, resetToken)
	return nil
}

func (m *MockEmailService) SendSuspiciousActivityAlert(ctx context.Context, email string, loginCtx risk.LoginContext, locationName string, score int) error {
	if m.SendSuspiciousActivityAlertFunc != nil {
		return m.SendSuspiciousActivityAlertFunc(ctx, email, loginCtx, locationName, score)
	}
	m.SuspiciousScores = append(m.SuspiciousScores, score)
	return nil
}

// MockGeoResolver implements GeoResolver for testing
type MockGeoResolver struct {
	ResolveLocationNameFunc func(ctx context.Context, coords risk.Coordinates) string

	Name string
}

func (m *MockGeoResolver) ResolveLocationName(ctx context.Context, coords risk.Coordinates) string {
	if m.ResolveLocationNameFunc != nil {
		return m.ResolveLocationNameFunc(ctx, coords)
	}
	if m.Name != "" {
		return m.Name
	}
	return UnknownLocation
}

// MockBotChecker implements BotChecker for testing. The zero value passes
// every token; set Err to simulate a failed check.
type MockBotChecker struct {
	VerifyCaptchaFunc func(ctx context.Context, token, remoteIP string) error

	Err error
}

func (m *MockBotChecker) VerifyCaptcha(ctx context.Context, token, remoteIP string) error {
	if m.VerifyCaptchaFunc != nil {
		return m.VerifyCaptchaFunc(ctx, token, remoteIP)
	}
	return m.Err
}

// ============================================================================
// Test Data Builders
// ============================================================================

// TestPassword satisfies the password policy and backs TestPasswordHash
const TestPassword = "CorrectHorse9!"

var (
	testHashOnce sync.Once
	testHash     string
)

// TestPasswordHash returns a bcrypt hash of TestPassword, computed once per
// test binary because of the high cost factor.
func TestPasswordHash() string {
	testHashOnce.Do(func() {
		hash, err := pkgauth.HashPassword(TestPassword)
		if err != nil {
			panic(err)
		}
		testHash = hash
	})
	return testHash
}

// NewTestUser creates a verified user with a hashed password and no trust
// history
func NewTestUser(id, email string) *models.User {
	now := time.Now()
	return &models.User{
		ID:            id,
		Email:         email,
		PasswordHash:  TestPasswordHash(),
		EmailVerified: true,
		TokenKey:      "test-token-key-" + id,
		Role:          "user",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewTestUserUnverified creates a user whose email is not yet verified
func NewTestUserUnverified(id, email string) *models.User {
	user := NewTestUser(id, email)
	user.EmailVerified = false
	return user
}

// NewTestUserWithTrust creates a verified user whose profile fully trusts the
// given context: its device, IP, location, hour, and typing speed all read as
// nominal.
func NewTestUserWithTrust(id, email string, lc risk.LoginContext) *models.User {
	user := NewTestUser(id, email)
	user.Trust = risk.TrustProfile{
		TrustedIPs:     []string{lc.IP},
		TrustedDevices: []string{lc.Device},
		KnownLocations: []risk.Coordinates{lc.Location},
		Baseline: risk.Baseline{
			TypingSpeed:       lc.TypingSpeed,
			TypicalLoginHours: []int{lc.LoginHour},
		},
	}
	return user
}

// NewTestLoginContext returns a complete, valid context for one attempt
func NewTestLoginContext() risk.LoginContext {
	return risk.LoginContext{
		IP:          "203.0.113.10",
		Device:      "firefox-linux-x11",
		Location:    risk.Coordinates{Lat: 40.7128, Lon: -74.0060}, // New York
		TypingSpeed: 6.5,
		LoginHour:   9,
		Timestamp:   time.Now(),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}
