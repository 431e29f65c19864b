package keycrypt

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := New("test-secret")
	require.NoError(t, err)

	token, err := c.Encrypt("my-api-key")
	require.NoError(t, err)

	plain, err := c.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, "my-api-key", plain)
}

func TestEncryptIsRandomized(t *testing.T) {
	t.Parallel()

	c, err := New("test-secret")
	require.NoError(t, err)

	a, err := c.Encrypt("same-key")
	require.NoError(t, err)

	b, err := c.Encrypt("same-key")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	for _, token := range []string{a, b} {
		plain, derr := c.Decrypt(token)
		require.NoError(t, derr)
		assert.Equal(t, "same-key", plain)
	}
}

func TestDecryptRejectsBadInput(t *testing.T) {
	t.Parallel()

	c, err := New("test-secret")
	require.NoError(t, err)

	token, err := c.Encrypt("my-api-key")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"truncated", token[:8]},
		{"empty", ""},
		{"garbage", base64.URLEncoding.EncodeToString(make([]byte, 80))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, derr := c.Decrypt(tc.token)
			require.ErrorIs(t, derr, ErrInvalidToken)
		})
	}
}

func TestDecryptRejectsTamperedToken(t *testing.T) {
	t.Parallel()

	c, err := New("test-secret")
	require.NoError(t, err)

	token, err := c.Encrypt("my-api-key")
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(token)
	require.NoError(t, err)

	raw[len(raw)/2] ^= 0xff

	_, derr := c.Decrypt(base64.URLEncoding.EncodeToString(raw))
	require.ErrorIs(t, derr, ErrInvalidToken)
}

func TestDecryptWithWrongSecret(t *testing.T) {
	t.Parallel()

	a, err := New("secret-a")
	require.NoError(t, err)

	b, err := New("secret-b")
	require.NoError(t, err)

	token, err := a.Encrypt("my-api-key")
	require.NoError(t, err)

	_, derr := b.Decrypt(token)
	require.ErrorIs(t, derr, ErrInvalidToken)
}

func TestNewRequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.ErrorIs(t, err, ErrSecretRequired)
}

func TestHashKeyIsDeterministic(t *testing.T) {
	t.Parallel()

	// Lookups depend on the digest being stable across processes while
	// encryption stays randomized.
	assert.Equal(t, HashKey("my-api-key"), HashKey("my-api-key"))
	assert.NotEqual(t, HashKey("my-api-key"), HashKey("other-key"))
}

func TestGenerateKey(t *testing.T) {
	t.Parallel()

	a, err := GenerateKey(32)
	require.NoError(t, err)

	b, err := GenerateKey(32)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	raw, err := base64.URLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
