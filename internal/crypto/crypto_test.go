package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	c, err := New([]byte("32-byte-key-for-aes-encryption!!"))
	require.NoError(t, err)

	ciphertext, nonce, err := c.Encrypt("owner@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext)
	assert.NotEmpty(t, nonce)
	assert.NotContains(t, string(ciphertext), "owner@example.com")

	plaintext, err := c.Decrypt(ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", plaintext)
}

func TestCipher_InvalidKeyLength(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}

func TestCipher_TamperedCiphertext(t *testing.T) {
	c, err := New([]byte("32-byte-key-for-aes-encryption!!"))
	require.NoError(t, err)

	ciphertext, nonce, err := c.Encrypt("owner@example.com")
	require.NoError(t, err)
	ciphertext[0] ^= 0xff

	_, err = c.Decrypt(ciphertext, nonce)
	assert.Error(t, err)
}
