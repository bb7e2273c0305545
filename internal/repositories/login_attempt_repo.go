package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/EllisVaughan/bastion/internal/database"
	"github.com/EllisVaughan/bastion/internal/models"
)

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt records a login attempt with its outcome and risk score
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (email, ip_address, device, device_fingerprint, outcome, risk_score, failure_reason, attempt_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if attempt.AttemptTime.IsZero() {
		attempt.AttemptTime = time.Now()
	}

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.Email,
		attempt.IPAddress,
		attempt.Device,
		attempt.DeviceFingerprint,
		attempt.Outcome,
		attempt.RiskScore,
		attempt.FailureReason,
		attempt.AttemptTime,
	)

	return database.MapPostgresError(err)
}

// GetFailedAttemptCount returns the number of failed attempts for an email within a time window
func (r *LoginAttemptRepository) GetFailedAttemptCount(ctx context.Context, email string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE email = $1 AND outcome = $2 AND attempt_time >= $3
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, email, models.AttemptFailed, since).Scan(&count)
	return count, err
}

// GetRecentFailureTime returns the timestamp of the most recent failed attempt for an email
func (r *LoginAttemptRepository) GetRecentFailureTime(ctx context.Context, email string, since time.Time) (*time.Time, error) {
	query := `
		SELECT attempt_time FROM login_attempts
		WHERE email = $1 AND outcome = $2 AND attempt_time >= $3
		ORDER BY attempt_time DESC
		LIMIT 1
	`

	var failureTime time.Time
	err := r.db.Pool.QueryRow(ctx, query, email, models.AttemptFailed, since).Scan(&failureTime)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &failureTime, nil
}

// GetFailedAttemptCountByIP returns the number of failed attempts from an IP within a time window
func (r *LoginAttemptRepository) GetFailedAttemptCountByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND outcome = $2 AND attempt_time >= $3
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, models.AttemptFailed, since).Scan(&count)
	return count, err
}

// GetFailedAttemptCountByDevice returns the number of failed attempts from a device within a time window
func (r *LoginAttemptRepository) GetFailedAttemptCountByDevice(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE device_fingerprint = $1 AND outcome = $2 AND attempt_time >= $3
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, fingerprint, models.AttemptFailed, since).Scan(&count)
	return count, err
}

// GetStats aggregates attempt outcomes for an email within a time window
func (r *LoginAttemptRepository) GetStats(ctx context.Context, email string, since time.Time) (*models.LoginAttemptStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE outcome = $2),
			COUNT(*) FILTER (WHERE outcome = $3),
			MAX(attempt_time) FILTER (WHERE outcome = $2)
		FROM login_attempts
		WHERE email = $1 AND attempt_time >= $4
	`

	stats := &models.LoginAttemptStats{Email: email}
	err := r.db.Pool.QueryRow(ctx, query, email, models.AttemptFailed, models.AttemptBlocked, since).Scan(
		&stats.FailedCount,
		&stats.BlockedCount,
		&stats.RecentFailureTime,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return stats, nil
}

// DeleteOlderThan removes attempts recorded before the cutoff. Returns the
// number of rows removed.
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM login_attempts WHERE attempt_time < $1`

	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
