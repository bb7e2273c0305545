package auth_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EllisVaughan/bastion/internal/auth"
)

func TestGenerateVerificationCode_Format(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := auth.GenerateVerificationCode()
		require.NoError(t, err)
		require.Len(t, code, auth.VerificationCodeDigits)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9', "code %q contains non-digit", code)
		}
	}
}

func TestGenerateVerificationCode_Varies(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := auth.GenerateVerificationCode()
		require.NoError(t, err)
		seen[code] = true
	}
	// 100 draws from a million-value space colliding down to a handful would
	// mean a broken generator.
	assert.Greater(t, len(seen), 90)
}

func TestGenerateResetToken_Format(t *testing.T) {
	token, err := auth.GenerateResetToken()
	require.NoError(t, err)
	assert.Len(t, token, auth.ResetTokenBytes*2)

	decoded, err := hex.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, decoded, auth.ResetTokenBytes)
}

func TestGenerateResetToken_Unique(t *testing.T) {
	a, err := auth.GenerateResetToken()
	require.NoError(t, err)
	b, err := auth.GenerateResetToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
