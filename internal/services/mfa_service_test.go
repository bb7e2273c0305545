package services

import (
	"context"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/models"
)

func newMFATestEnv(t *testing.T, user *models.User) (*MFAService, *MockUserStore) {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	totpMgr, err := auth.NewTOTPManager(key, "Bastion")
	require.NoError(t, err)

	users := &MockUserStore{User: user}
	svc := NewMFAService(users, totpMgr, testLogger(), testAuditLogger())
	return svc, users
}

// enrollTOTP runs setup and activation end to end, returning the plaintext
// provisioning secret.
func enrollTOTP(t *testing.T, svc *MFAService, userID string) string {
	t.Helper()

	setup, err := svc.InitiateSetup(context.Background(), userID)
	require.NoError(t, err)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.Activate(context.Background(), userID, code))
	return setup.Secret
}

// ============================================================================
// InitiateSetup
// ============================================================================

func TestMFAService_InitiateSetup_Success(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	svc, _ := newMFATestEnv(t, user)

	setup, err := svc.InitiateSetup(context.Background(), "user123")

	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.True(t, strings.HasPrefix(setup.QRCode, "data:image/png;base64,"))

	// Only the encrypted secret lands on the record; enrollment stays off
	// until the first code proves the app is provisioned
	assert.NotEmpty(t, user.TOTPSecretEncrypted)
	assert.Len(t, user.TOTPSecretNonce, 12)
	assert.False(t, user.TOTPEnabled)
	assert.NotContains(t, string(user.TOTPSecretEncrypted), setup.Secret)
}

func TestMFAService_InitiateSetup_AlreadyEnabled(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	svc, _ := newMFATestEnv(t, user)
	enrollTOTP(t, svc, "user123")

	setup, err := svc.InitiateSetup(context.Background(), "user123")

	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Nil(t, setup)
}

func TestMFAService_InitiateSetup_ReplacesPendingSecret(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	svc, _ := newMFATestEnv(t, user)

	first, err := svc.InitiateSetup(context.Background(), "user123")
	require.NoError(t, err)
	second, err := svc.InitiateSetup(context.Background(), "user123")
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	// Only the latest pending secret activates
	staleCode, err := totp.GenerateCode(first.Secret, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Activate(context.Background(), "user123", staleCode), models.ErrTokenNotFound)

	code, err := totp.GenerateCode(second.Secret, time.Now())
	require.NoError(t, err)
	assert.NoError(t, svc.Activate(context.Background(), "user123", code))
}

func TestMFAService_InitiateSetup_UnknownUser(t *testing.T) {
	svc, _ := newMFATestEnv(t, nil)

	setup, err := svc.InitiateSetup(context.Background(), "ghost")

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Nil(t, setup)
}

// ============================================================================
// Activate
// ============================================================================

func TestMFAService_Activate_Success(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	svc, _ := newMFATestEnv(t, user)

	setup, err := svc.InitiateSetup(context.Background(), "user123")
	require.NoError(t, err)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)

	require.NoError(t, svc.Activate(context.Background(), "user123", code))
	assert.True(t, user.TOTPEnabled)
	assert.NotNil(t, user.TOTPLastUsedAt, "the activation code cannot answer a login challenge")
}

func TestMFAService_Activate_WrongCode(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	svc, _ := newMFATestEnv(t, user)

	_, err := svc.InitiateSetup(context.Background(), "user123")
	require.NoError(t, err)

	err = svc.Activate(context.Background(), "user123", "000000")

	assert.ErrorIs(t, err, models.ErrTokenNotFound)
	assert.False(t, user.TOTPEnabled)
}

func TestMFAService_Activate_WithoutSetup(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	svc, _ := newMFATestEnv(t, user)

	err := svc.Activate(context.Background(), "user123", "123456")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestMFAService_Activate_AlreadyEnabled(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	svc, _ := newMFATestEnv(t, user)
	secret := enrollTOTP(t, svc, "user123")

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	err = svc.Activate(context.Background(), "user123", code)
	assert.ErrorIs(t, err, models.ErrConflict)
}

// ============================================================================
// Disable
// ============================================================================

func TestMFAService_Disable_Success(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	svc, _ := newMFATestEnv(t, user)
	enrollTOTP(t, svc, "user123")

	require.NoError(t, svc.Disable(context.Background(), "user123", TestPassword))

	assert.False(t, user.TOTPEnabled)
	assert.Nil(t, user.TOTPSecretEncrypted)
	assert.Nil(t, user.TOTPSecretNonce)
	assert.Nil(t, user.TOTPLastUsedAt)
}

func TestMFAService_Disable_WrongPassword(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	svc, _ := newMFATestEnv(t, user)
	enrollTOTP(t, svc, "user123")

	err := svc.Disable(context.Background(), "user123", "WrongPassword1!")

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.True(t, user.TOTPEnabled, "a wrong password leaves enrollment intact")
	assert.NotEmpty(t, user.TOTPSecretEncrypted)
}

func TestMFAService_Disable_NotEnrolled(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	svc, _ := newMFATestEnv(t, user)

	err := svc.Disable(context.Background(), "user123", TestPassword)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

// ============================================================================
// GetStatus
// ============================================================================

func TestMFAService_GetStatus(t *testing.T) {
	user := NewTestUser("user123", "user@example.com")
	svc, _ := newMFATestEnv(t, user)

	status, err := svc.GetStatus(context.Background(), "user123")
	require.NoError(t, err)
	assert.False(t, status.Enabled)

	enrollTOTP(t, svc, "user123")

	status, err = svc.GetStatus(context.Background(), "user123")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
}

func TestMFAService_GetStatus_UnknownUser(t *testing.T) {
	svc, _ := newMFATestEnv(t, nil)

	status, err := svc.GetStatus(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Nil(t, status)
}
