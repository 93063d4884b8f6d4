package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken(TokenSize256)
	require.NoError(t, err)
	assert.Len(t, tok, 43) // 32 bytes base64url, no padding

	other, err := GenerateToken(TokenSize256)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}

func TestGenerateTokenRejectsNonPositiveSize(t *testing.T) {
	_, err := GenerateToken(0)
	assert.Error(t, err)
	_, err = GenerateToken(-1)
	assert.Error(t, err)
}

func TestGenerateNumericCode(t *testing.T) {
	for range 50 {
		code, err := GenerateNumericCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6, "codes must be zero padded")
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', "code %q contains non digit", code)
		}
	}
}

func TestFingerprintTokenDeterministic(t *testing.T) {
	fp1 := FingerprintToken("some-recovery-code")
	fp2 := FingerprintToken("some-recovery-code")
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 43)

	assert.NotEqual(t, fp1, FingerprintToken("other-code"))
}
