package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	VerificationCodeDigits = 6
	ResetTokenBytes        = 20
)

// GenerateVerificationCode returns a zero-padded numeric code drawn from a
// CSPRNG. Codes are deliberately short: their short TTL and single-use slot
// bound the brute-force exposure.
func GenerateVerificationCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < VerificationCodeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}

	return fmt.Sprintf("%0*d", VerificationCodeDigits, n), nil
}

// GenerateResetToken returns a hex-encoded random token (20 bytes, 40
// characters) for account re-securing links.
func GenerateResetToken() (string, error) {
	b := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
