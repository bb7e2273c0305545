package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/models"
	"github.com/EllisVaughan/bastion/internal/risk"
	"github.com/EllisVaughan/bastion/internal/services"
	pkgauth "github.com/EllisVaughan/bastion/pkg/auth"
	pkghttp "github.com/EllisVaughan/bastion/pkg/http"
)

// AccountServiceInterface defines the account lifecycle surface
type AccountServiceInterface interface {
	Signup(ctx context.Context, input services.SignupInput) (*services.UserResponse, error)
	VerifyEmail(ctx context.Context, email, code string) error
	ResendVerification(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// LoginServiceInterface defines the scored login surface
type LoginServiceInterface interface {
	Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	VerifyTwoFactor(ctx context.Context, input services.TwoFactorInput) (*services.SessionResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.SessionResponse, error)
	Logout(ctx context.Context, userID string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	accounts AccountServiceInterface
	logins   LoginServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(accounts AccountServiceInterface, logins LoginServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		logins:   logins,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginContextRequest carries the client-observed half of the login context.
// The server fills in network origin and capture time itself; none of these
// fields are trusted beyond their influence on the risk score.
type LoginContextRequest struct {
	DeviceFingerprint string  `json:"device_fingerprint" validate:"required,max=256"`
	Latitude          float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude         float64 `json:"longitude" validate:"gte=-180,lte=180"`
	TypingSpeed       float64 `json:"typing_speed" validate:"gte=0"`
}

// SignupRequest represents the request body for registration
type SignupRequest struct {
	Email        string              `json:"email" validate:"required,email"`
	Password     string              `json:"password" validate:"required"`
	CaptchaToken string              `json:"captcha_token"`
	Context      LoginContextRequest `json:"context"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email        string              `json:"email" validate:"required,email"`
	Password     string              `json:"password" validate:"required"`
	CaptchaToken string              `json:"captcha_token"`
	Context      LoginContextRequest `json:"context"`
}

// VerifyTwoFactorRequest completes a pending second-factor challenge
type VerifyTwoFactorRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Code   string `json:"code" validate:"required,len=6,numeric"`
	Method string `json:"method" validate:"omitempty,oneof=email totp"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// ResendVerificationRequest represents the request body for resending verification email
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ForgotPasswordRequest represents the request body for requesting a reset token
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for redeeming a reset token
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required,len=40"`
	NewPassword string `json:"new_password" validate:"required"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LoginResponse reports the decision for an attempt. Session is present only
// when the attempt was admitted directly.
type LoginResponse struct {
	Decision  risk.Decision             `json:"decision"`
	RiskScore int                       `json:"risk_score"`
	Session   *services.SessionResponse `json:"session,omitempty"`
	Message   string                    `json:"message,omitempty"`
}

// MessageResponse is a generic acknowledgement body
type MessageResponse struct {
	Message string `json:"message"`
}

// buildLoginContext merges client-supplied evidence with what the server
// observes directly. IP and timestamp always come from the server side so a
// client cannot claim a different network origin or login hour. UTC keeps the
// learned typical-hours histogram consistent across deployments.
func (h *AuthHandler) buildLoginContext(r *http.Request, c LoginContextRequest) risk.LoginContext {
	now := time.Now().UTC()
	return risk.LoginContext{
		IP:          pkghttp.ExtractClientIP(r, h.ipConfig),
		Device:      strings.TrimSpace(c.DeviceFingerprint),
		Location:    risk.Coordinates{Lat: c.Latitude, Lon: c.Longitude},
		TypingSpeed: c.TypingSpeed,
		LoginHour:   now.Hour(),
		Timestamp:   now,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Signup handles user registration
// @Summary Register a new account
// @Accept json
// @Param request body SignupRequest true "Signup request"
// @Produce json
// @Success 202 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/signup [post]
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_, err := h.accounts.Signup(r.Context(), services.SignupInput{
		Email:        req.Email,
		Password:     req.Password,
		CaptchaToken: req.CaptchaToken,
		Context:      h.buildLoginContext(r, req.Context),
	})
	if err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.Is(err, models.ErrCaptchaFailed):
			pkghttp.WriteBadRequest(w, "Captcha verification failed")
			return
		case errors.As(err, &pwErr):
			pkghttp.WriteBadRequest(w, "Password does not meet the security requirements")
			return
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid signup request")
			return
		case errors.Is(err, models.ErrConflict):
			// Fall through to the generic acknowledgement so an existing
			// address is indistinguishable from a fresh registration.
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{
		Message: "Registration received. If the address is new, a verification email is on its way.",
	})
}

// Login handles a risk-scored login attempt
// @Summary Log in
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Success 202 {object} LoginResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.logins.Login(r.Context(), services.LoginInput{
		Email:        req.Email,
		Password:     req.Password,
		CaptchaToken: req.CaptchaToken,
		Context:      h.buildLoginContext(r, req.Context),
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrCaptchaFailed):
			pkghttp.WriteBadRequest(w, "Captcha verification failed")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid login request")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrEmailNotVerified):
			pkghttp.WriteForbidden(w, "Email address not verified. Check your inbox for the verification code.")
		case errors.Is(err, models.ErrRateLimited):
			pkghttp.WriteTooManyRequests(w, "Too many failed login attempts. Please try again later.")
		case errors.Is(err, models.ErrLoginBlocked):
			pkghttp.WriteError(w, http.StatusForbidden, "login_blocked",
				"This login attempt was blocked. Check your email for a link to secure your account.")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	if result.Decision == risk.DecisionTwoFactorPending {
		writeJSON(w, http.StatusAccepted, LoginResponse{
			Decision:  result.Decision,
			RiskScore: result.RiskScore,
			Message:   "A verification code has been sent to your email.",
		})
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Decision:  result.Decision,
		RiskScore: result.RiskScore,
		Session:   result.Session,
	})
}

// VerifyTwoFactor completes a pending second-factor challenge
// @Summary Complete a two-factor challenge
// @Accept json
// @Param request body VerifyTwoFactorRequest true "Verify request"
// @Produce json
// @Success 200 {object} services.SessionResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/verify-2fa [post]
func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifyTwoFactorRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.logins.VerifyTwoFactor(r.Context(), services.TwoFactorInput{
		Email:  req.Email,
		Code:   req.Code,
		Method: req.Method,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenNotFound),
			errors.Is(err, models.ErrTokenExpired),
			errors.Is(err, models.ErrUnauthorized):
			// Wrong, expired, and absent codes all read the same from outside.
			pkghttp.WriteUnauthorized(w, "Invalid or expired verification code")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid verification request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// VerifyEmail confirms ownership of an email address with the mailed code
// @Summary Verify email address
// @Accept json
// @Param request body VerifyEmailRequest true "Verify email request"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.accounts.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrTokenNotFound), errors.Is(err, models.ErrTokenExpired):
			pkghttp.WriteUnauthorized(w, "Invalid or expired verification code")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "Email verified successfully. Please log in.",
	})
}

// ResendVerification reissues the email verification code
// @Summary Resend verification email
// @Accept json
// @Param request body ResendVerificationRequest true "Resend verification request"
// @Produce json
// @Success 202 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// Always 202 with a generic message to prevent enumeration.
	_ = h.accounts.ResendVerification(r.Context(), req.Email)

	writeJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If an account exists with this email, a verification email will be sent.",
	})
}

// ForgotPassword issues a password reset token
// @Summary Request a password reset
// @Accept json
// @Param request body ForgotPasswordRequest true "Forgot password request"
// @Produce json
// @Success 202 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// Always 202 with a generic message to prevent enumeration.
	_ = h.accounts.ForgotPassword(r.Context(), req.Email)

	writeJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If an account exists with this email, a reset link will be sent.",
	})
}

// ResetPassword redeems a reset token and installs a new password
// @Summary Reset password
// @Accept json
// @Param request body ResetPasswordRequest true "Reset password request"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pwErr):
			pkghttp.WriteBadRequest(w, "Password does not meet the security requirements")
		case errors.Is(err, models.ErrTokenNotFound), errors.Is(err, models.ErrTokenExpired):
			pkghttp.WriteUnauthorized(w, "Invalid or expired reset token")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "Password updated. All existing sessions have been signed out.",
	})
}

// RefreshToken handles token refresh
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest true "Refresh token request"
// @Produce json
// @Success 200 {object} services.SessionResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.logins.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Authentication failed")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Logout signs the user out of every session
// @Summary Log out everywhere
// @Security BearerAuth
// @Produce json
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	// Rotating the user's token key invalidates every token signed with it,
	// so one logout covers all devices without a revocation table.
	if err := h.logins.Logout(r.Context(), claims.UserID); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
