package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost follows the OWASP 2026 work-factor guidance.
	BcryptCost = 14

	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt rejects longer input outright

	tokenKeyBytes = 32 // 256-bit per-user signing secret
)

// PasswordValidationError carries the specific policy failures. Error()
// deliberately reports none of them: callers log or discard the details and
// the client only ever sees a generic message.
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	return "invalid password"
}

// deniedPasswords lists passwords common enough in breach corpora to reject
// even when they satisfy the class rules.
var deniedPasswords = map[string]bool{
	"password":     true,
	"password1":    true,
	"password123":  true,
	"password123!": true,
	"passw0rd":     true,
	"12345678":     true,
	"123456789":    true,
	"qwerty123":    true,
	"letmein":      true,
	"iloveyou":     true,
	"sunshine":     true,
	"princess":     true,
	"dragon":       true,
	"monkey":       true,
	"baseball":     true,
	"football":     true,
	"starwars":     true,
	"trustno1":     true,
	"welcome1":     true,
	"changeme":     true,
}

// HashPassword runs bcrypt at the configured cost
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// ComparePassword checks a candidate against a stored hash
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// GenerateTokenKey returns a fresh per-user signing secret. Rotating this
// value invalidates every session token the user holds.
func GenerateTokenKey() (string, error) {
	bytes := make([]byte, tokenKeyBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes), nil
}

// ValidatePassword checks a candidate against the account policy: length
// bounds, all four character classes, and the denylist.
func ValidatePassword(password string) error {
	var failures []string

	if len(password) < minPasswordLen {
		failures = append(failures, fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	if len(password) > maxPasswordLen {
		failures = append(failures, fmt.Sprintf("must be at most %d characters", maxPasswordLen))
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	if !upper {
		failures = append(failures, "must contain an uppercase letter")
	}
	if !lower {
		failures = append(failures, "must contain a lowercase letter")
	}
	if !digit {
		failures = append(failures, "must contain a digit")
	}
	if !special {
		failures = append(failures, "must contain a special character")
	}

	if deniedPasswords[strings.ToLower(password)] {
		failures = append(failures, "is too common, choose something more unique")
	}

	if len(failures) > 0 {
		return &PasswordValidationError{Errors: failures}
	}

	return nil
}
