package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EllisVaughan/bastion/internal/models"
	"github.com/EllisVaughan/bastion/internal/services"
)

func testRateLimitConfig() services.RateLimitConfig {
	return services.RateLimitConfig{
		MaxFailedPerEmail:  5,
		MaxFailedPerIP:     20,
		MaxFailedPerDevice: 10,
		LookbackWindow:     15 * time.Minute,
		LockoutDuration:    15 * time.Minute,
	}
}

func newRateLimitService(repo *services.MockAttemptRepository) *services.RateLimitService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return services.NewRateLimitService(repo, testRateLimitConfig(), logger)
}

func TestRateLimitService_AllowsInitialAttempt(t *testing.T) {
	repo := &services.MockAttemptRepository{}
	svc := newRateLimitService(repo)

	allowed, lockout, err := svc.CheckRateLimit(context.Background(), "test@example.com", "192.168.1.1", "firefox-linux")

	assert.NoError(t, err)
	assert.True(t, allowed)
	assert.Nil(t, lockout)
}

func TestRateLimitService_LocksAccountAfterMaxFailed(t *testing.T) {
	repo := &services.MockAttemptRepository{FailedByEmail: 5}
	svc := newRateLimitService(repo)

	allowed, lockout, err := svc.CheckRateLimit(context.Background(), "test@example.com", "192.168.1.1", "firefox-linux")

	assert.NoError(t, err)
	assert.False(t, allowed)
	require.NotNil(t, lockout)
	assert.Equal(t, 15*time.Minute, *lockout)
}

func TestRateLimitService_LimitsByIP(t *testing.T) {
	repo := &services.MockAttemptRepository{FailedByIP: 20}
	svc := newRateLimitService(repo)

	allowed, lockout, err := svc.CheckRateLimit(context.Background(), "test@example.com", "192.168.1.1", "firefox-linux")

	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.False(t, allowed)
	assert.Nil(t, lockout)
}

func TestRateLimitService_LimitsByDevice(t *testing.T) {
	repo := &services.MockAttemptRepository{FailedByDevice: 10}
	svc := newRateLimitService(repo)

	allowed, _, err := svc.CheckRateLimit(context.Background(), "test@example.com", "192.168.1.1", "firefox-linux")

	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.False(t, allowed)
}

func TestRateLimitService_FailsOpenOnStoreError(t *testing.T) {
	repo := &services.MockAttemptRepository{
		GetFailedAttemptCountFunc: func(ctx context.Context, email string, since time.Time) (int, error) {
			return 0, errors.New("connection refused")
		},
	}
	svc := newRateLimitService(repo)

	// A storage outage must not lock out legitimate users
	allowed, lockout, err := svc.CheckRateLimit(context.Background(), "test@example.com", "192.168.1.1", "firefox-linux")

	assert.NoError(t, err)
	assert.True(t, allowed)
	assert.Nil(t, lockout)
}

func TestRateLimitService_RecordAttempt(t *testing.T) {
	repo := &services.MockAttemptRepository{}
	svc := newRateLimitService(repo)

	reason := "invalid_credentials"
	err := svc.RecordAttempt(context.Background(), "test@example.com", "192.168.1.1", "firefox-linux", models.AttemptFailed, 0, &reason)

	require.NoError(t, err)
	require.Len(t, repo.Recorded, 1)

	attempt := repo.Recorded[0]
	assert.Equal(t, "test@example.com", attempt.Email)
	assert.Equal(t, "192.168.1.1", attempt.IPAddress)
	assert.Equal(t, "firefox-linux", attempt.Device)
	assert.Equal(t, models.AttemptFailed, attempt.Outcome)
	assert.Equal(t, &reason, attempt.FailureReason)
	assert.Len(t, attempt.DeviceFingerprint, 32)
	assert.False(t, attempt.AttemptTime.IsZero())
}

func TestDeviceFingerprint(t *testing.T) {
	a := services.DeviceFingerprint("192.168.1.1", "firefox-linux")
	b := services.DeviceFingerprint("192.168.1.1", "firefox-linux")
	c := services.DeviceFingerprint("192.168.1.2", "firefox-linux")
	d := services.DeviceFingerprint("192.168.1.1", "chrome-windows")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 32)
}
