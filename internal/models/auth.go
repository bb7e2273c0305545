package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the session JWT claims issued once a login reaches Allowed.
type TokenClaims struct {
	Type   string `json:"type"` // "access" or "refresh"
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionTokens is the credential pair attached to an allowed login.
type SessionTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
