package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrEmailNotVerified = errors.New("email address not verified")
	ErrRateLimited      = errors.New("too many attempts, try again later")

	// Login policy errors
	ErrCaptchaFailed     = errors.New("captcha verification failed")
	ErrLoginBlocked      = errors.New("login blocked, check your email")
	ErrTwoFactorRequired = errors.New("two-factor verification required")

	// Token lifecycle errors
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")

	// Trust profile errors
	ErrRiskScoreZero = errors.New("risk score is already zero")
)
