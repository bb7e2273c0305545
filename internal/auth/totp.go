package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod     = 30 // seconds per time step
	totpSecretSize = 32
	qrImageSize    = 200
)

// ErrCodeReplayed rejects a code submitted twice inside its validity window.
var ErrCodeReplayed = errors.New("totp code already used")

// TOTPEnrollment is the output of provisioning a new authenticator secret.
// Secret is the base32 plaintext, shown to the user exactly once.
type TOTPEnrollment struct {
	EncryptedSecret []byte
	Nonce           []byte
	Secret          string
	QRCodeDataURL   string
}

// TOTPManager generates, encrypts, and validates authenticator-app secrets.
// Secrets are stored AES-256-GCM encrypted; the plaintext only exists during
// setup and validation.
type TOTPManager struct {
	encryptionKey []byte
	issuer        string
}

// NewTOTPManager requires a 32-byte key for AES-256.
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// GenerateEnrollment provisions a fresh secret for the account and renders
// the otpauth URL as a PNG data URL for the setup screen.
func (tm *TOTPManager) GenerateEnrollment(accountEmail string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountEmail,
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	encrypted, nonce, err := tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}

	qrImage, err := qrcode.Encode(key.URL(), qrcode.Highest, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}

	return &TOTPEnrollment{
		EncryptedSecret: encrypted,
		Nonce:           nonce,
		Secret:          key.Secret(),
		QRCodeDataURL:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// EncryptSecret seals a secret under a fresh random nonce.
func (tm *TOTPManager) EncryptSecret(secretBytes []byte) ([]byte, []byte, error) {
	aead, err := tm.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nil, nonce, secretBytes, nil), nonce, nil
}

// DecryptSecret opens a stored secret with the nonce it was sealed under.
func (tm *TOTPManager) DecryptSecret(encryptedBytes, nonce []byte) ([]byte, error) {
	aead, err := tm.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, encryptedBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}

	return plaintext, nil
}

// ValidateTOTP checks a code against the secret, accepting one time step of
// clock drift either side. lastUsedAt guards against replaying a code while
// it is still inside that drift window.
func (tm *TOTPManager) ValidateTOTP(secretBytes []byte, code string, lastUsedAt *time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(code, string(secretBytes), time.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("validate totp: %w", err)
	}
	if !valid {
		return false, nil
	}

	if lastUsedAt != nil && time.Since(*lastUsedAt) < 3*totpPeriod*time.Second {
		return false, ErrCodeReplayed
	}

	return true, nil
}
