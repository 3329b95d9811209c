package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialCipher_RoundTrip(t *testing.T) {
	c, err := NewCredentialCipher("0123456789abcdef")
	require.NoError(t, err)

	enc, err := c.Encrypt("sk-live-123")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(enc))
	assert.NotContains(t, enc, "sk-live")

	plain, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", plain)

	// 不带前缀也能解密
	plain, err = c.Decrypt(enc[len(EncryptedPrefix):])
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", plain)
}

func TestCredentialCipher_Errors(t *testing.T) {
	_, err := NewCredentialCipher("too-short")
	assert.Error(t, err)

	c, _ := NewCredentialCipher("0123456789abcdef")
	other, _ := NewCredentialCipher("fedcba9876543210")
	enc, _ := c.Encrypt("secret")

	_, err = other.Decrypt(enc)
	assert.Error(t, err)

	_, err = c.Decrypt("enc:!!not-base64")
	assert.Error(t, err)

	_, err = c.Decrypt("enc:AAAA")
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}
