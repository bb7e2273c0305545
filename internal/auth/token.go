package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/EllisVaughan/bastion/internal/models"
)

// UserTokenKeyFetcher defines interface for retrieving user's TokenKey
type UserTokenKeyFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TokenManager issues and validates session JWTs. Signing uses a composite
// key (server secret + per-user token key) so rotating one user's key
// invalidates that user's outstanding sessions.
type TokenManager struct {
	secret             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	userRepo           UserTokenKeyFetcher
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
	}
}

// SetUserRepo enables composite signing with per-user token keys. Without a
// repo the manager signs with the global secret alone.
func (tm *TokenManager) SetUserRepo(repo UserTokenKeyFetcher) {
	tm.userRepo = repo
}

// getSigningKey returns composite key (global secret + user token key) or the
// global secret when no repo is wired or the user cannot be fetched.
func (tm *TokenManager) getSigningKey(userID string) []byte {
	if tm.userRepo == nil {
		return []byte(tm.secret)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	user, err := tm.userRepo.GetByID(ctx, userID)
	if err != nil {
		return []byte(tm.secret)
	}

	return []byte(tm.secret + user.TokenKey)
}

// IssueSession generates the access/refresh token pair for a user. Called
// only once a login attempt reaches Allowed, directly or after the second
// factor.
func (tm *TokenManager) IssueSession(user *models.User) (*models.SessionTokens, error) {
	access, err := tm.generateToken("access", user, tm.accessTokenExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := tm.generateToken("refresh", user, tm.refreshTokenExpiry)
	if err != nil {
		return nil, err
	}
	return &models.SessionTokens{AccessToken: access, RefreshToken: refresh}, nil
}

func (tm *TokenManager) generateToken(tokenType string, user *models.User, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(tm.getSigningKey(user.ID))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return signed, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		// The composite key depends on the user, so the claims drive the
		// key lookup.
		if tmpClaims, ok := token.Claims.(*models.TokenClaims); ok && tmpClaims.UserID != "" {
			return tm.getSigningKey(tmpClaims.UserID), nil
		}

		return []byte(tm.secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type == "" {
		return nil, fmt.Errorf("invalid token: missing type")
	}

	return claims, nil
}
