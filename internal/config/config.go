package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/EllisVaughan/bastion/internal/risk"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Risk     RiskConfig
	Email    EmailConfig
	Captcha  CaptchaConfig
	Geo      GeoConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string // CIDR blocks or addresses allowed to set forwarding headers
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration

	TwoFactorCodeTTL time.Duration // 5 minutes: brute-force exposure bound for 6-digit codes
	ResetTokenTTL    time.Duration
	EmailVerifyTTL   time.Duration

	TOTPEncryptionKey string // 32 bytes for AES-256, empty disables authenticator setup
	TOTPIssuer        string

	MaxFailedAttempts int           // lockout threshold inside the window
	AttemptWindow     time.Duration // lookback for lockout counting
	AttemptRetention  time.Duration // background purge horizon
	CleanupInterval   time.Duration

	AdminEmail    string
	AdminPassword string
}

// RiskConfig holds the scoring policy knobs. Materialize() turns it into the
// risk.Config injected into the scorer; nothing reads these from the
// environment after startup.
type RiskConfig struct {
	DeviceWeight          int
	IPWeight              int
	HourWeight            int
	TypingWeight          int
	LocationDistantWeight int
	LocationFarWeight     int
	MFAThreshold          int
	BlockThreshold        int
	KnownDistanceKm       float64
	FarDistanceKm         float64
	TypingTolerance       float64
	MaxKnownLocations     int
	MaxContextLog         int
	BaselineAlpha         float64
}

type EmailConfig struct {
	Enabled    bool
	Region     string
	Sender     string
	ReplyTo    string
	AppBaseURL string // base for verification/reset links in emails
}

type CaptchaConfig struct {
	Enabled   bool
	VerifyURL string
	Secret    string
	Timeout   time.Duration
}

type GeoConfig struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			TwoFactorCodeTTL:   getEnvAsDuration("TWO_FACTOR_CODE_TTL", 5*time.Minute),
			ResetTokenTTL:      getEnvAsDuration("RESET_TOKEN_TTL", 1*time.Hour),
			EmailVerifyTTL:     getEnvAsDuration("EMAIL_VERIFY_TTL", 24*time.Hour),
			TOTPEncryptionKey:  getEnv("TOTP_ENCRYPTION_KEY", ""),
			TOTPIssuer:         getEnv("TOTP_ISSUER", "bastion"),
			MaxFailedAttempts:  getEnvAsInt("MAX_FAILED_ATTEMPTS", 5),
			AttemptWindow:      getEnvAsDuration("ATTEMPT_WINDOW", 15*time.Minute),
			AttemptRetention:   getEnvAsDuration("ATTEMPT_RETENTION", 90*24*time.Hour),
			CleanupInterval:    getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			AdminEmail:         getEnv("ADMIN_EMAIL", ""),
			AdminPassword:      getEnv("ADMIN_PASSWORD", ""),
		},
		Risk: RiskConfig{
			DeviceWeight:          getEnvAsInt("RISK_DEVICE_WEIGHT", risk.DefaultDeviceWeight),
			IPWeight:              getEnvAsInt("RISK_IP_WEIGHT", risk.DefaultIPWeight),
			HourWeight:            getEnvAsInt("RISK_HOUR_WEIGHT", risk.DefaultHourWeight),
			TypingWeight:          getEnvAsInt("RISK_TYPING_WEIGHT", risk.DefaultTypingWeight),
			LocationDistantWeight: getEnvAsInt("RISK_LOCATION_DISTANT_WEIGHT", risk.DefaultLocationDistantWeight),
			LocationFarWeight:     getEnvAsInt("RISK_LOCATION_FAR_WEIGHT", risk.DefaultLocationFarWeight),
			MFAThreshold:          getEnvAsInt("RISK_MFA_THRESHOLD", risk.DefaultMFAThreshold),
			BlockThreshold:        getEnvAsInt("RISK_BLOCK_THRESHOLD", risk.DefaultBlockThreshold),
			KnownDistanceKm:       getEnvAsFloat("RISK_KNOWN_DISTANCE_KM", risk.DefaultKnownDistanceKm),
			FarDistanceKm:         getEnvAsFloat("RISK_FAR_DISTANCE_KM", risk.DefaultFarDistanceKm),
			TypingTolerance:       getEnvAsFloat("RISK_TYPING_TOLERANCE", risk.DefaultTypingTolerance),
			MaxKnownLocations:     getEnvAsInt("RISK_MAX_KNOWN_LOCATIONS", risk.DefaultMaxKnownLocations),
			MaxContextLog:         getEnvAsInt("RISK_MAX_CONTEXT_LOG", risk.DefaultMaxContextLog),
			BaselineAlpha:         getEnvAsFloat("RISK_BASELINE_ALPHA", risk.DefaultBaselineAlpha),
		},
		Email: EmailConfig{
			Enabled:    getEnvAsBool("EMAIL_ENABLED", false),
			Region:     getEnv("AWS_REGION", "us-east-1"),
			Sender:     getEnv("EMAIL_SENDER", ""),
			ReplyTo:    getEnv("EMAIL_REPLY_TO", ""),
			AppBaseURL: getEnv("APP_BASE_URL", "http://localhost:8080"),
		},
		Captcha: CaptchaConfig{
			Enabled:   getEnvAsBool("CAPTCHA_ENABLED", false),
			VerifyURL: getEnv("CAPTCHA_VERIFY_URL", "https://hcaptcha.com/siteverify"),
			Secret:    getEnv("CAPTCHA_SECRET", ""),
			Timeout:   getEnvAsDuration("CAPTCHA_TIMEOUT", 5*time.Second),
		},
		Geo: GeoConfig{
			Enabled:  getEnvAsBool("GEO_ENABLED", false),
			Endpoint: getEnv("GEO_ENDPOINT", "https://api.bigdatacloud.net/data/reverse-geocode-client"),
			Timeout:  getEnvAsDuration("GEO_TIMEOUT", 3*time.Second),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Risk.validate(); err != nil {
		return nil, err
	}

	if cfg.Auth.TOTPEncryptionKey != "" && len(cfg.Auth.TOTPEncryptionKey) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(cfg.Auth.TOTPEncryptionKey))
	}

	if cfg.Email.Enabled && cfg.Email.Sender == "" {
		return nil, fmt.Errorf("EMAIL_SENDER is required when EMAIL_ENABLED=true")
	}

	if cfg.Captcha.Enabled && cfg.Captcha.Secret == "" {
		return nil, fmt.Errorf("CAPTCHA_SECRET is required when CAPTCHA_ENABLED=true")
	}

	return cfg, nil
}

// Materialize converts the loaded values into the policy configuration the
// scorer and fold consume.
func (r *RiskConfig) Materialize() risk.Config {
	return risk.Config{
		DeviceWeight:          r.DeviceWeight,
		IPWeight:              r.IPWeight,
		HourWeight:            r.HourWeight,
		TypingWeight:          r.TypingWeight,
		LocationDistantWeight: r.LocationDistantWeight,
		LocationFarWeight:     r.LocationFarWeight,
		MFAThreshold:          r.MFAThreshold,
		BlockThreshold:        r.BlockThreshold,
		KnownDistanceKm:       r.KnownDistanceKm,
		FarDistanceKm:         r.FarDistanceKm,
		TypingTolerance:       r.TypingTolerance,
		MaxKnownLocations:     r.MaxKnownLocations,
		MaxContextLog:         r.MaxContextLog,
		BaselineAlpha:         r.BaselineAlpha,
	}
}

func (r *RiskConfig) validate() error {
	if r.MFAThreshold <= 0 {
		return fmt.Errorf("RISK_MFA_THRESHOLD must be positive (got %d)", r.MFAThreshold)
	}
	if r.BlockThreshold <= r.MFAThreshold {
		return fmt.Errorf("RISK_BLOCK_THRESHOLD (%d) must exceed RISK_MFA_THRESHOLD (%d)",
			r.BlockThreshold, r.MFAThreshold)
	}
	if r.DeviceWeight < 0 || r.IPWeight < 0 || r.HourWeight < 0 || r.TypingWeight < 0 ||
		r.LocationDistantWeight < 0 || r.LocationFarWeight < 0 {
		return fmt.Errorf("risk weights cannot be negative")
	}
	if r.FarDistanceKm <= r.KnownDistanceKm {
		return fmt.Errorf("RISK_FAR_DISTANCE_KM (%.0f) must exceed RISK_KNOWN_DISTANCE_KM (%.0f)",
			r.FarDistanceKm, r.KnownDistanceKm)
	}
	if r.BaselineAlpha <= 0 || r.BaselineAlpha > 1 {
		return fmt.Errorf("RISK_BASELINE_ALPHA must be in (0, 1] (got %.2f)", r.BaselineAlpha)
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		return parseList(originsStr)
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
