package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EllisVaughan/bastion/internal/models"
)

// MockUserRepository serves a single user for middleware tests
type MockUserRepository struct {
	user *models.User
	err  error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return m.user, m.err
}

func testUser() *models.User {
	return &models.User{
		ID:       "user-123",
		Email:    "user@example.com",
		Role:     "user",
		TokenKey: "token-key-v1",
	}
}

func TestAuthMiddleware_MissingAuthorizationHeader(t *testing.T) {
	tm := NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	middleware := AuthMiddleware(tm)

	req := httptest.NewRequest("GET", "/users/me", nil)
	w := httptest.NewRecorder()

	nextCalled := false
	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
	if nextCalled {
		t.Errorf("expected next handler not to be called")
	}
}

func TestAuthMiddleware_MalformedAuthorizationHeader(t *testing.T) {
	tm := NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	middleware := AuthMiddleware(tm)

	tests := []string{
		"Basic dXNlcjpwYXNz",
		"Bearer",
		"token-without-scheme",
	}

	for _, header := range tests {
		req := httptest.NewRequest("GET", "/users/me", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()

		middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("next handler called for header %q", header)
		})).ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected status 401, got %d", header, w.Code)
		}
	}
}

func TestAuthMiddleware_ValidAccessToken_InjectsClaims(t *testing.T) {
	tm := NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	user := testUser()

	tokens, err := tm.IssueSession(user)
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}

	req := httptest.NewRequest("GET", "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w := httptest.NewRecorder()

	var gotClaims *models.TokenClaims
	AuthMiddleware(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = GetUserFromContext(r)
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if gotClaims == nil {
		t.Fatalf("expected claims in request context")
	}
	if gotClaims.UserID != "user-123" {
		t.Errorf("expected UserID user-123, got %s", gotClaims.UserID)
	}
	if gotClaims.Type != "access" {
		t.Errorf("expected token type access, got %s", gotClaims.Type)
	}
}

func TestAuthMiddleware_RejectsRefreshToken(t *testing.T) {
	tm := NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	user := testUser()

	tokens, err := tm.IssueSession(user)
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}

	req := httptest.NewRequest("GET", "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.RefreshToken)
	w := httptest.NewRecorder()

	AuthMiddleware(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("next handler called with refresh token")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

// Rotating a user's token key must invalidate sessions issued under the old
// key. This is the only session revocation mechanism.
func TestAuthMiddleware_TokenKeyRotationInvalidatesSession(t *testing.T) {
	user := testUser()
	repo := &MockUserRepository{user: user}

	tm := NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	tm.SetUserRepo(repo)

	tokens, err := tm.IssueSession(user)
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}

	// Sanity: token validates before rotation
	if _, err := tm.ValidateToken(tokens.AccessToken); err != nil {
		t.Fatalf("expected token to validate before rotation: %v", err)
	}

	// Rotate the per-user key
	rotated := *user
	rotated.TokenKey = "token-key-v2"
	repo.user = &rotated

	req := httptest.NewRequest("GET", "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w := httptest.NewRecorder()

	AuthMiddleware(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("next handler called with token signed under rotated key")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 after key rotation, got %d", w.Code)
	}
}

func TestRequireRole_AllowsMatchingRole(t *testing.T) {
	admin := testUser()
	admin.Role = "admin"
	repo := &MockUserRepository{user: admin}

	claims := &models.TokenClaims{Type: "access", UserID: admin.ID, Email: admin.Email, Role: "admin"}
	req := httptest.NewRequest("GET", "/admin/stats", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserContextKey, claims))
	w := httptest.NewRecorder()

	nextCalled := false
	RequireRole(repo, "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(w, req)

	if !nextCalled {
		t.Errorf("expected next handler to be called")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestRequireRole_ChecksCurrentRoleNotClaim(t *testing.T) {
	// Claims say admin but the stored user was demoted
	demoted := testUser()
	demoted.Role = "user"
	repo := &MockUserRepository{user: demoted}

	claims := &models.TokenClaims{Type: "access", UserID: demoted.ID, Email: demoted.Email, Role: "admin"}
	req := httptest.NewRequest("GET", "/admin/stats", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserContextKey, claims))
	w := httptest.NewRecorder()

	RequireRole(repo, "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("next handler called for demoted user")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", w.Code)
	}
}

func TestRequireRole_MissingClaims(t *testing.T) {
	repo := &MockUserRepository{user: testUser()}

	req := httptest.NewRequest("GET", "/admin/stats", nil)
	w := httptest.NewRecorder()

	RequireRole(repo, "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("next handler called without claims")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestRequireRole_UserNotFound(t *testing.T) {
	repo := &MockUserRepository{err: models.ErrNotFound}

	claims := &models.TokenClaims{Type: "access", UserID: "ghost", Role: "admin"}
	req := httptest.NewRequest("GET", "/admin/stats", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserContextKey, claims))
	w := httptest.NewRecorder()

	RequireRole(repo, "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("next handler called for missing user")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestGetUserFromContext_NoClaims(t *testing.T) {
	req := httptest.NewRequest("GET", "/users/me", nil)
	if claims := GetUserFromContext(req); claims != nil {
		t.Errorf("expected nil claims, got %+v", claims)
	}
}
