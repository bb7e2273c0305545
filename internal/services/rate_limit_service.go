package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/EllisVaughan/bastion/internal/models"
)

// AttemptRepository defines the interface for login attempt tracking
type AttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	GetFailedAttemptCount(ctx context.Context, email string, since time.Time) (int, error)
	GetRecentFailureTime(ctx context.Context, email string, since time.Time) (*time.Time, error)
	GetFailedAttemptCountByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
	GetFailedAttemptCountByDevice(ctx context.Context, fingerprint string, since time.Time) (int, error)
	GetStats(ctx context.Context, email string, since time.Time) (*models.LoginAttemptStats, error)
}

// RateLimitConfig holds configuration for lockout behavior
type RateLimitConfig struct {
	MaxFailedPerEmail  int
	MaxFailedPerIP     int
	MaxFailedPerDevice int
	LookbackWindow     time.Duration
	LockoutDuration    time.Duration
}

// RateLimitService enforces the failed-attempt lockout gate that runs before
// any credential or risk evaluation
type RateLimitService struct {
	repo   AttemptRepository
	config RateLimitConfig
	logger *slog.Logger
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(repo AttemptRepository, config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// CheckRateLimit decides whether a login attempt may proceed to credential
// checking. The account budget is checked first and is the only one that
// reports a lockout duration; IP and device budgets catch spraying across
// accounts. Counting errors fail open: a database hiccup must not lock every
// user out.
func (s *RateLimitService) CheckRateLimit(ctx context.Context, email, ipAddress, device string) (bool, *time.Duration, error) {
	since := time.Now().Add(-s.config.LookbackWindow)

	emailFailures, err := s.repo.GetFailedAttemptCount(ctx, email, since)
	if err != nil {
		s.logger.Error("email lockout count unavailable", slog.Any("error", err))
		return true, nil, nil
	}
	if emailFailures >= s.config.MaxFailedPerEmail {
		lockout := s.config.LockoutDuration
		s.logger.Warn("account rate limited",
			slog.String("email", email),
			slog.Int("failed_attempts", emailFailures),
			slog.Duration("lockout_duration", lockout))
		return false, &lockout, nil
	}

	ipFailures, err := s.repo.GetFailedAttemptCountByIP(ctx, ipAddress, since)
	if err != nil {
		s.logger.Error("ip lockout count unavailable", slog.Any("error", err))
		return true, nil, nil
	}
	if ipFailures >= s.config.MaxFailedPerIP {
		s.logger.Warn("IP rate limited",
			slog.String("ip_address", ipAddress),
			slog.Int("failed_attempts", ipFailures))
		return false, nil, models.ErrRateLimited
	}

	fingerprint := DeviceFingerprint(ipAddress, device)
	deviceFailures, err := s.repo.GetFailedAttemptCountByDevice(ctx, fingerprint, since)
	if err != nil {
		s.logger.Error("device lockout count unavailable", slog.Any("error", err))
		return true, nil, nil
	}
	if deviceFailures >= s.config.MaxFailedPerDevice {
		s.logger.Warn("device rate limited",
			slog.String("device_fingerprint", fingerprint),
			slog.Int("failed_attempts", deviceFailures))
		return false, nil, models.ErrRateLimited
	}

	return true, nil, nil
}

// RecordAttempt records the outcome of a login attempt
func (s *RateLimitService) RecordAttempt(ctx context.Context, email, ipAddress, device, outcome string, riskScore int, failureReason *string) error {
	attempt := &models.LoginAttempt{
		Email:             email,
		IPAddress:         ipAddress,
		Device:            device,
		DeviceFingerprint: DeviceFingerprint(ipAddress, device),
		Outcome:           outcome,
		RiskScore:         riskScore,
		FailureReason:     failureReason,
		AttemptTime:       time.Now(),
	}

	return s.repo.RecordAttempt(ctx, attempt)
}

// LoginStats aggregates an account's attempt outcomes over the given window.
func (s *RateLimitService) LoginStats(ctx context.Context, email string, window time.Duration) (*models.LoginAttemptStats, error) {
	return s.repo.GetStats(ctx, email, time.Now().Add(-window))
}

// DeviceFingerprint correlates attempts from the same client without storing
// the raw identifier pair. First 32 hex chars of sha256(ip:device).
func DeviceFingerprint(ipAddress, device string) string {
	hash := sha256.Sum256([]byte(ipAddress + ":" + device))
	return fmt.Sprintf("%x", hash)[:32]
}
