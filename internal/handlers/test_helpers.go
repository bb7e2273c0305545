package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/models"
	"github.com/EllisVaughan/bastion/internal/risk"
	"github.com/EllisVaughan/bastion/internal/services"
	pkghttp "github.com/EllisVaughan/bastion/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to the request context, standing in for
// AuthMiddleware on authenticated endpoints.
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   "access",
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// ============================================================================
// Service Mocks
// ============================================================================

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	SignupFunc             func(ctx context.Context, input services.SignupInput) (*services.UserResponse, error)
	VerifyEmailFunc        func(ctx context.Context, email, code string) error
	ResendVerificationFunc func(ctx context.Context, email string) error
	ForgotPasswordFunc     func(ctx context.Context, email string) error
	ResetPasswordFunc      func(ctx context.Context, token, newPassword string) error
}

func (m *MockAccountService) Signup(ctx context.Context, input services.SignupInput) (*services.UserResponse, error) {
	if m.SignupFunc != nil {
		return m.SignupFunc(ctx, input)
	}
	return &services.UserResponse{ID: "user_1", Email: input.Email}, nil
}

func (m *MockAccountService) VerifyEmail(ctx context.Context, email, code string) error {
	if m.VerifyEmailFunc != nil {
		return m.VerifyEmailFunc(ctx, email, code)
	}
	return nil
}

func (m *MockAccountService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc != nil {
		return m.ResendVerificationFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountService) ForgotPassword(ctx context.Context, email string) error {
	if m.ForgotPasswordFunc != nil {
		return m.ForgotPasswordFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, token, newPassword)
	}
	return nil
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	LoginFunc           func(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	VerifyTwoFactorFunc func(ctx context.Context, input services.TwoFactorInput) (*services.SessionResponse, error)
	RefreshTokenFunc    func(ctx context.Context, refreshToken string) (*services.SessionResponse, error)
	LogoutFunc          func(ctx context.Context, userID string) error
}

func (m *MockLoginService) Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, input)
	}
	return &services.LoginResult{
		Decision: risk.DecisionAllowed,
		Session:  &services.SessionResponse{AccessToken: "access", RefreshToken: "refresh"},
	}, nil
}

func (m *MockLoginService) VerifyTwoFactor(ctx context.Context, input services.TwoFactorInput) (*services.SessionResponse, error) {
	if m.VerifyTwoFactorFunc != nil {
		return m.VerifyTwoFactorFunc(ctx, input)
	}
	return &services.SessionResponse{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *MockLoginService) RefreshToken(ctx context.Context, refreshToken string) (*services.SessionResponse, error) {
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx, refreshToken)
	}
	return &services.SessionResponse{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *MockLoginService) Logout(ctx context.Context, userID string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, userID)
	}
	return nil
}

// MockProfileService implements ProfileServiceInterface for testing
type MockProfileService struct {
	GetProfileFunc     func(ctx context.Context, userID string) (*services.ProfileResponse, error)
	ResetRiskScoreFunc func(ctx context.Context, userID string) error
}

func (m *MockProfileService) GetProfile(ctx context.Context, userID string) (*services.ProfileResponse, error) {
	if m.GetProfileFunc != nil {
		return m.GetProfileFunc(ctx, userID)
	}
	return &services.ProfileResponse{
		User: &services.UserResponse{ID: userID, Email: "user@example.com"},
	}, nil
}

func (m *MockProfileService) ResetRiskScore(ctx context.Context, userID string) error {
	if m.ResetRiskScoreFunc != nil {
		return m.ResetRiskScoreFunc(ctx, userID)
	}
	return nil
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	InitiateSetupFunc func(ctx context.Context, userID string) (*models.TOTPSetup, error)
	ActivateFunc      func(ctx context.Context, userID, code string) error
	DisableFunc       func(ctx context.Context, userID, password string) error
	GetStatusFunc     func(ctx context.Context, userID string) (*models.TOTPStatus, error)
}

func (m *MockMFAService) InitiateSetup(ctx context.Context, userID string) (*models.TOTPSetup, error) {
	if m.InitiateSetupFunc != nil {
		return m.InitiateSetupFunc(ctx, userID)
	}
	return &models.TOTPSetup{Secret: "SECRET", QRCode: "data:image/png;base64,AAAA"}, nil
}

func (m *MockMFAService) Activate(ctx context.Context, userID, code string) error {
	if m.ActivateFunc != nil {
		return m.ActivateFunc(ctx, userID, code)
	}
	return nil
}

func (m *MockMFAService) Disable(ctx context.Context, userID, password string) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, userID, password)
	}
	return nil
}

func (m *MockMFAService) GetStatus(ctx context.Context, userID string) (*models.TOTPStatus, error) {
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, userID)
	}
	return &models.TOTPStatus{Enabled: false}, nil
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	LoginStatsFunc func(ctx context.Context, email string, window time.Duration) (*models.LoginAttemptStats, error)
}

func (m *MockAdminService) LoginStats(ctx context.Context, email string, window time.Duration) (*models.LoginAttemptStats, error) {
	if m.LoginStatsFunc != nil {
		return m.LoginStatsFunc(ctx, email, window)
	}
	return &models.LoginAttemptStats{Email: email}, nil
}
