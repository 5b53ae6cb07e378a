package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", "plume", time.Hour)

	token, err := issuer.Issue(42, "alice@example.com", "admin")
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
}

func TestTokenWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", "plume", time.Hour)
	other := NewTokenIssuer("other-secret", "plume", time.Hour)

	token, err := issuer.Issue(1, "a@b.c", "user")
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestTokenExpired(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", "plume", -time.Minute)

	token, err := issuer.Issue(1, "a@b.c", "user")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.Error(t, err)
}

func TestTokenWrongIssuer(t *testing.T) {
	a := NewTokenIssuer("test-secret", "plume", time.Hour)
	b := NewTokenIssuer("test-secret", "someone-else", time.Hour)

	token, err := a.Issue(1, "a@b.c", "user")
	require.NoError(t, err)

	_, err = b.Verify(token)
	assert.Error(t, err)
}

func TestSecretBoxRoundTrip(t *testing.T) {
	box, err := NewSecretBox("master-key")
	require.NoError(t, err)

	ciphertext, err := box.Encrypt("imap-password")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ciphertext, "ENC:"))
	assert.NotContains(t, ciphertext, "imap-password")

	plaintext, err := box.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "imap-password", plaintext)

	// two encryptions of the same value must differ (fresh nonce)
	other, err := box.Encrypt("imap-password")
	require.NoError(t, err)
	assert.NotEqual(t, ciphertext, other)
}

func TestSecretBoxLegacyPlaintext(t *testing.T) {
	box, err := NewSecretBox("master-key")
	require.NoError(t, err)

	plaintext, err := box.Decrypt("stored-before-encryption")
	require.NoError(t, err)
	assert.Equal(t, "stored-before-encryption", plaintext)
}

func TestSecretBoxWrongKey(t *testing.T) {
	box, err := NewSecretBox("master-key")
	require.NoError(t, err)
	other, err := NewSecretBox("wrong-key")
	require.NoError(t, err)

	ciphertext, err := box.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestNewRefreshToken(t *testing.T) {
	a, err := NewRefreshToken()
	require.NoError(t, err)
	b, err := NewRefreshToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestGenerateTOTPSecret(t *testing.T) {
	key, err := GenerateTOTPSecret("Plume", "alice@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, key.Secret())
	assert.Contains(t, key.URL(), "otpauth://totp/")
}
