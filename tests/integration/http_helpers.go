package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/database"
	"github.com/EllisVaughan/bastion/internal/handlers"
	middlewareCustom "github.com/EllisVaughan/bastion/internal/middleware"
	"github.com/EllisVaughan/bastion/internal/repositories"
	"github.com/EllisVaughan/bastion/internal/risk"
	"github.com/EllisVaughan/bastion/internal/routes"
	"github.com/EllisVaughan/bastion/internal/services"
	pkghttp "github.com/EllisVaughan/bastion/pkg/http"
	pkglogger "github.com/EllisVaughan/bastion/pkg/logger"
)

// SentEmail is one captured outbound message
type SentEmail struct {
	To   string
	Kind string // "verification", "two_factor", "password_reset", "new_device_alert", "suspicious_activity"
	Code string // code or token when the kind carries one
}

// MockEmailService captures sent emails for test assertions
type MockEmailService struct {
	mu   sync.Mutex
	Sent []SentEmail
}

func (m *MockEmailService) record(email SentEmail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, email)
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	m.record(SentEmail{To: email, Kind: "verification", Code: code})
	return nil
}

func (m *MockEmailService) SendTwoFactorCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	m.record(SentEmail{To: email, Kind: "two_factor", Code: code})
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record(SentEmail{To: email, Kind: "password_reset", Code: token})
	return nil
}

func (m *MockEmailService) SendNewDeviceAlert(ctx context.Context, email string, loginCtx risk.LoginContext, resetToken string) error {
	m.record(SentEmail{To: email, Kind: "new_device_alert", Code: resetToken})
	return nil
}

func (m *MockEmailService) SendSuspiciousActivityAlert(ctx context.Context, email string, loginCtx risk.LoginContext, locationName string, score int) error {
	m.record(SentEmail{To: email, Kind: "suspicious_activity"})
	return nil
}

// LastOfKind returns the most recent captured email of the given kind, or nil
func (m *MockEmailService) LastOfKind(kind string) *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.Sent) - 1; i >= 0; i-- {
		if m.Sent[i].Kind == kind {
			email := m.Sent[i]
			return &email
		}
	}
	return nil
}

// CountOfKind returns how many captured emails have the given kind
func (m *MockEmailService) CountOfKind(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, sent := range m.Sent {
		if sent.Kind == kind {
			count++
		}
	}
	return count
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server *httptest.Server
	DB     *database.DB
	Emails *MockEmailService
}

// NewTestServer initializes a complete HTTP server with real database and
// captured email. Timing delays are zeroed and the per-IP transport limit is
// widened so tests are not paced by production back pressure.
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)

	mockEmail := &MockEmailService{}

	tokenManager := auth.NewTokenManager(
		"test-secret-32-characters-long-for-testing",
		15*time.Minute,
		7*24*time.Hour,
	)
	tokenManager.SetUserRepo(userRepo)

	auditLogger := pkglogger.NewAuditLogger(logger)

	totpManager, err := auth.NewTOTPManager([]byte("test-totp-encryption-key-32bytes"), "BastionTest")
	if err != nil {
		panic("test TOTP manager: " + err.Error())
	}

	riskConfig := risk.DefaultConfig()
	scorer := risk.NewScorer(riskConfig)

	rateLimitService := services.NewRateLimitService(attemptRepo, services.RateLimitConfig{
		MaxFailedPerEmail:  5,
		MaxFailedPerIP:     20,
		MaxFailedPerDevice: 10,
		LookbackWindow:     15 * time.Minute,
		LockoutDuration:    15 * time.Minute,
	}, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})

	tokenService := services.NewTokenService(24*time.Hour, 5*time.Minute, time.Hour)

	userService := services.NewUserService(
		userRepo, tokenService, mockEmail,
		services.NewNoopGeoResolver(), services.NewAllowAllBotChecker(),
		riskConfig, logger, auditLogger,
	)
	loginService := services.NewLoginService(services.LoginServiceDeps{
		Users:       userRepo,
		Attempts:    rateLimitService,
		Scorer:      scorer,
		Tokens:      tokenService,
		TOTP:        totpManager,
		TokenMgr:    tokenManager,
		Emails:      mockEmail,
		Geo:         services.NewNoopGeoResolver(),
		Captcha:     services.NewAllowAllBotChecker(),
		Timing:      timingDelay,
		Logger:      logger,
		AuditLogger: auditLogger,
	})
	mfaService := services.NewMFAService(userRepo, totpManager, logger, auditLogger)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: []string{}}
	authHandler := handlers.NewAuthHandler(userService, loginService, ipConfig)
	profileHandler := handlers.NewProfileHandler(userService)
	mfaHandler := handlers.NewMFAHandler(mfaService)
	adminHandler := handlers.NewAdminHandler(rateLimitService)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, profileHandler, mfaHandler, adminHandler, tokenManager, userRepo,
		middlewareCustom.RateLimitConfig{RequestsPerMinute: 1000})

	return &TestServer{
		Server: httptest.NewServer(r),
		DB:     db,
		Emails: mockEmail,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// LoginOutcome is the decoded body of a login response
type LoginOutcome struct {
	Decision  string `json:"decision"`
	RiskScore int    `json:"risk_score"`
	Message   string `json:"message"`
	Session   *struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"session"`
}

// ParseLoginOutcome decodes a login response body
func ParseLoginOutcome(resp *http.Response) (*LoginOutcome, error) {
	var outcome LoginOutcome
	if err := ParseJSONResponse(resp, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// SessionTokens is the decoded body of a session-establishing response
type SessionTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ParseSessionTokens decodes a session response body
func ParseSessionTokens(resp *http.Response) (*SessionTokens, error) {
	var tokens SessionTokens
	if err := ParseJSONResponse(resp, &tokens); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// GetErrorCode extracts the machine-readable error code from an error response
func GetErrorCode(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if code, ok := errResp["error"].(string); ok {
		return code, nil
	}
	return "", nil
}
