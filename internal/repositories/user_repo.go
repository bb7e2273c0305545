package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/EllisVaughan/bastion/internal/database"
	"github.com/EllisVaughan/bastion/internal/models"
	"github.com/EllisVaughan/bastion/internal/risk"
	"github.com/EllisVaughan/bastion/pkg/auth"
)

// userColumns is the full column list for the users table. Identity, trust
// profile, token slots, and TOTP state live on one row so a single lookup
// feeds both authentication and risk scoring.
const userColumns = `id, email, password_hash, email_verified, token_key, role,
	trusted_ips, trusted_devices, known_locations, baseline, context_log, risk_score,
	email_verify_code, email_verify_expires_at,
	two_factor_code, two_factor_expires_at,
	reset_token, reset_token_expires_at, reset_token_reason,
	totp_secret_enc, totp_secret_nonce, totp_enabled, totp_last_used_at,
	last_login, created_at, updated_at`

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// rowScanner interface for scanning user rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var knownLocations, baseline, contextLog []byte
	var emailVerifyCode, twoFactorCode, resetToken, resetReason *string
	var emailVerifyExpires, twoFactorExpires, resetExpires *time.Time

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.EmailVerified,
		&user.TokenKey, &user.Role,
		pq.Array(&user.Trust.TrustedIPs), pq.Array(&user.Trust.TrustedDevices),
		&knownLocations, &baseline, &contextLog, &user.Trust.RiskScore,
		&emailVerifyCode, &emailVerifyExpires,
		&twoFactorCode, &twoFactorExpires,
		&resetToken, &resetExpires, &resetReason,
		&user.TOTPSecretEncrypted, &user.TOTPSecretNonce,
		&user.TOTPEnabled, &user.TOTPLastUsedAt,
		&user.LastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if len(knownLocations) > 0 {
		if err := json.Unmarshal(knownLocations, &user.Trust.KnownLocations); err != nil {
			return nil, fmt.Errorf("failed to decode known locations: %w", err)
		}
	}
	if len(baseline) > 0 {
		if err := json.Unmarshal(baseline, &user.Trust.Baseline); err != nil {
			return nil, fmt.Errorf("failed to decode baseline: %w", err)
		}
	}
	if len(contextLog) > 0 {
		if err := json.Unmarshal(contextLog, &user.Trust.ContextLog); err != nil {
			return nil, fmt.Errorf("failed to decode context log: %w", err)
		}
	}

	if emailVerifyCode != nil && emailVerifyExpires != nil {
		user.EmailVerifyToken = &models.VerificationToken{
			Code:      *emailVerifyCode,
			ExpiresAt: *emailVerifyExpires,
			Purpose:   models.PurposeEmailVerify,
		}
	}
	if twoFactorCode != nil && twoFactorExpires != nil {
		user.TwoFactorToken = &models.VerificationToken{
			Code:      *twoFactorCode,
			ExpiresAt: *twoFactorExpires,
			Purpose:   models.PurposeTwoFactor,
		}
	}
	if resetToken != nil && resetExpires != nil && resetReason != nil {
		user.ResetToken = &models.ResetToken{
			Token:     *resetToken,
			ExpiresAt: *resetExpires,
			Reason:    models.ResetReason(*resetReason),
		}
	}

	return &user, nil
}

// trustColumns marshals the trust profile into its column values. Arrays are
// normalized to empty rather than NULL.
func trustColumns(t risk.TrustProfile) ([]string, []string, []byte, []byte, []byte, error) {
	ips := t.TrustedIPs
	if ips == nil {
		ips = []string{}
	}
	devices := t.TrustedDevices
	if devices == nil {
		devices = []string{}
	}

	locations := t.KnownLocations
	if locations == nil {
		locations = []risk.Coordinates{}
	}
	locationsJSON, err := json.Marshal(locations)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode known locations: %w", err)
	}

	baselineJSON, err := json.Marshal(t.Baseline)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode baseline: %w", err)
	}

	log := t.ContextLog
	if log == nil {
		log = []risk.ContextEntry{}
	}
	logJSON, err := json.Marshal(log)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode context log: %w", err)
	}

	return ips, devices, locationsJSON, baselineJSON, logJSON, nil
}

// verificationColumns splits a token slot into its nullable column values.
func verificationColumns(t *models.VerificationToken) (*string, *time.Time) {
	if t == nil {
		return nil, nil
	}
	return &t.Code, &t.ExpiresAt
}

// resetColumns splits the reset slot into its nullable column values.
func resetColumns(t *models.ResetToken) (*string, *time.Time, *string) {
	if t == nil {
		return nil, nil, nil
	}
	reason := string(t.Reason)
	return &t.Token, &t.ExpiresAt, &reason
}

// Create stores a new user. The caller seeds the trust profile; ID, token
// key, and timestamps are assigned here. A duplicate email maps to
// ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}
	user.TokenKey = tokenKey

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = "user"
	}

	ips, devices, locationsJSON, baselineJSON, logJSON, err := trustColumns(user.Trust)
	if err != nil {
		return nil, err
	}
	emailVerifyCode, emailVerifyExpires := verificationColumns(user.EmailVerifyToken)

	query := `
		INSERT INTO users (id, email, password_hash, email_verified, token_key, role,
			trusted_ips, trusted_devices, known_locations, baseline, context_log, risk_score,
			email_verify_code, email_verify_expires_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING ` + userColumns

	createdUser, err := scanUserRow(r.db.Pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.EmailVerified, user.TokenKey, user.Role,
		pq.Array(ips), pq.Array(devices), locationsJSON, baselineJSON, logJSON, user.Trust.RiskScore,
		emailVerifyCode, emailVerifyExpires,
		user.CreatedAt, user.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}

	return createdUser, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUserRow(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUserRow(r.db.Pool.QueryRow(ctx, query, email))
	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetByResetToken finds the user holding a live reset token value. The
// token is random enough to be unique; expiry is checked by the caller, not
// here.
func (r *UserRepository) GetByResetToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE reset_token = $1`

	user, err := scanUserRow(r.db.Pool.QueryRow(ctx, query, token))
	if err != nil {
		return nil, err
	}

	return user, nil
}

// getForUpdate loads a user row with a row lock inside a transaction.
func getForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`

	return scanUserRow(tx.QueryRow(ctx, query, id))
}

// saveLocked writes back every mutable column. Only called while the row
// lock from getForUpdate is held.
func saveLocked(ctx context.Context, tx pgx.Tx, user *models.User) error {
	user.UpdatedAt = time.Now()

	ips, devices, locationsJSON, baselineJSON, logJSON, err := trustColumns(user.Trust)
	if err != nil {
		return err
	}
	emailVerifyCode, emailVerifyExpires := verificationColumns(user.EmailVerifyToken)
	twoFactorCode, twoFactorExpires := verificationColumns(user.TwoFactorToken)
	resetToken, resetExpires, resetReason := resetColumns(user.ResetToken)

	query := `
		UPDATE users SET
			email = $1, password_hash = $2, email_verified = $3, token_key = $4, role = $5,
			trusted_ips = $6, trusted_devices = $7, known_locations = $8, baseline = $9, context_log = $10, risk_score = $11,
			email_verify_code = $12, email_verify_expires_at = $13,
			two_factor_code = $14, two_factor_expires_at = $15,
			reset_token = $16, reset_token_expires_at = $17, reset_token_reason = $18,
			totp_secret_enc = $19, totp_secret_nonce = $20, totp_enabled = $21, totp_last_used_at = $22,
			last_login = $23, updated_at = $24
		WHERE id = $25
	`

	result, err := tx.Exec(ctx, query,
		user.Email, user.PasswordHash, user.EmailVerified, user.TokenKey, user.Role,
		pq.Array(ips), pq.Array(devices), locationsJSON, baselineJSON, logJSON, user.Trust.RiskScore,
		emailVerifyCode, emailVerifyExpires,
		twoFactorCode, twoFactorExpires,
		resetToken, resetExpires, resetReason,
		user.TOTPSecretEncrypted, user.TOTPSecretNonce, user.TOTPEnabled, user.TOTPLastUsedAt,
		user.LastLogin, user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// UpdateWithLock runs fn against the current user row under a row lock and
// persists the mutations in the same transaction. Concurrent attempts for
// the same user serialize here, so fn always sees the latest trust profile
// and token slots. fn returning an error rolls everything back.
func (r *UserRepository) UpdateWithLock(ctx context.Context, id string, fn func(user *models.User) error) (*models.User, error) {
	var updated *models.User

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		user, err := getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := fn(user); err != nil {
			return err
		}

		if err := saveLocked(ctx, tx, user); err != nil {
			return err
		}

		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}
