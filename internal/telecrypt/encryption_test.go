package telecrypt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prontivus/telecare/pkg/crypto"
)

func testParams() crypto.Argon2Parameters {
	return crypto.Argon2Parameters{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLength: 32}
}

func TestChannelCipherRoundTrip(t *testing.T) {
	cipher, err := NewChannelCipher([]byte("deployment-key"), WithArgon2Parameters(testParams()))
	require.NoError(t, err)

	encrypted, err := cipher.Encrypt([]byte("patient reports mild symptoms"))
	require.NoError(t, err)
	require.NotEqual(t, "patient reports mild symptoms", encrypted)

	decrypted, err := cipher.Decrypt(encrypted)
	require.NoError(t, err)
	require.Equal(t, "patient reports mild symptoms", string(decrypted))
}

func TestChannelCipherDeterministicDerivation(t *testing.T) {
	first, err := NewChannelCipher([]byte("deployment-key"), WithArgon2Parameters(testParams()))
	require.NoError(t, err)
	second, err := NewChannelCipher([]byte("deployment-key"), WithArgon2Parameters(testParams()))
	require.NoError(t, err)

	encrypted, err := first.Encrypt([]byte("hello"))
	require.NoError(t, err)

	decrypted, err := second.Decrypt(encrypted)
	require.NoError(t, err)
	require.Equal(t, "hello", string(decrypted))
}

func TestChannelCipherWrongKey(t *testing.T) {
	cipher, err := NewChannelCipher([]byte("deployment-key"), WithArgon2Parameters(testParams()))
	require.NoError(t, err)
	other, err := NewChannelCipher([]byte("different-key"), WithArgon2Parameters(testParams()))
	require.NoError(t, err)

	encrypted, err := cipher.Encrypt([]byte("hello"))
	require.NoError(t, err)

	_, err = other.Decrypt(encrypted)
	require.Error(t, err)
	require.True(t, errors.Is(err, crypto.ErrCiphertextInvalid))
}

func TestChannelCipherRejectsEmptyKey(t *testing.T) {
	_, err := NewChannelCipher(nil)
	require.Error(t, err)
}

func TestChannelCipherRejectsShortSalt(t *testing.T) {
	_, err := NewChannelCipher([]byte("deployment-key"), WithSalt([]byte("short")))
	require.Error(t, err)
}
