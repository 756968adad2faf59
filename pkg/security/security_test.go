package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateServerIdentityIsSelfSignedAndValid(t *testing.T) {
	cert, err := GenerateServerIdentity("flux-admin", []string{"localhost"}, nil)
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	require.False(t, NeedsRotation(cert))
}

func TestSecretsManagerRoundTrip(t *testing.T) {
	sm, err := NewSecretsManagerFromPassphrase("correct horse battery staple")
	require.NoError(t, err)

	ciphertext, err := sm.EncryptSecret([]byte("admin-token-value"))
	require.NoError(t, err)
	require.NotEqual(t, "admin-token-value", string(ciphertext))

	plaintext, err := sm.DecryptSecret(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "admin-token-value", string(plaintext))
}

func TestSecretsManagerRejectsShortKey(t *testing.T) {
	_, err := NewSecretsManager([]byte("too-short"))
	require.Error(t, err)
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	sm, err := NewSecretsManagerFromPassphrase("another passphrase")
	require.NoError(t, err)

	ciphertext, err := sm.EncryptSecret([]byte("secret"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = sm.DecryptSecret(ciphertext)
	require.Error(t, err)
}
