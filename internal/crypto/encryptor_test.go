package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	return key
}

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	e, err := NewEncryptor(testKey(t))
	require.NoError(t, err)
	return e
}

func TestNewEncryptor_WrongKeyLength(t *testing.T) {
	_, err := NewEncryptor([]byte("too-short"))
	require.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	e := newTestEncryptor(t)
	for _, plaintext := range []string{
		"x",
		"my-secret-token",
		"eyJhbGciOiJIUzI1NiJ9.payload.signature",
		strings.Repeat("long-", 500),
		"unicode: é ü 日本語",
	} {
		blob, err := e.Encrypt(plaintext)
		require.NoError(t, err)

		got, err := e.Decrypt(blob)
		require.NoError(t, err)
		require.Equal(t, plaintext, got)
	}
}

func TestEncrypt_EmptyPlaintext(t *testing.T) {
	e := newTestEncryptor(t)
	_, err := e.Encrypt("")
	require.ErrorIs(t, err, ErrEmptyPlaintext)
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	e := newTestEncryptor(t)
	a, err := e.Encrypt("same-plaintext")
	require.NoError(t, err)
	b, err := e.Encrypt("same-plaintext")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.NotEqual(t, strings.Split(a, ":")[0], strings.Split(b, ":")[0])
}

func TestDecrypt_BlobFormat(t *testing.T) {
	e := newTestEncryptor(t)
	valid, err := e.Encrypt("payload")
	require.NoError(t, err)
	parts := strings.Split(valid, ":")

	bad := []string{
		"",
		"nothing",
		"one:two",
		"a:b:c:d",
		// wrong IV length
		"abcd:" + parts[1] + ":" + parts[2],
		// wrong tag length
		parts[0] + ":abcd:" + parts[2],
		// non-hex segments of the right length
		strings.Repeat("zz", 16) + ":" + parts[1] + ":" + parts[2],
		parts[0] + ":" + strings.Repeat("zz", 16) + ":" + parts[2],
		parts[0] + ":" + parts[1] + ":zz",
	}
	for _, blob := range bad {
		_, err := e.Decrypt(blob)
		require.ErrorIs(t, err, ErrDecrypt, "blob %q should fail", blob)
	}
}

// Flipping any single hex character of the tag or ciphertext must be
// detected; GCM must never silently return altered plaintext.
func TestDecrypt_TamperDetection(t *testing.T) {
	e := newTestEncryptor(t)
	blob, err := e.Encrypt("tamper-me")
	require.NoError(t, err)
	parts := strings.Split(blob, ":")

	flip := func(s string, i int) string {
		b := []byte(s)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		return string(b)
	}

	for seg := 1; seg <= 2; seg++ {
		for i := 0; i < len(parts[seg]); i++ {
			mutated := make([]string, 3)
			copy(mutated, parts)
			mutated[seg] = flip(parts[seg], i)
			_, err := e.Decrypt(strings.Join(mutated, ":"))
			require.ErrorIs(t, err, ErrDecrypt, "segment %d position %d", seg, i)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	e := newTestEncryptor(t)
	blob, err := e.Encrypt("secret")
	require.NoError(t, err)

	otherKey := bytes.Repeat([]byte{0x42}, 32)
	other, err := NewEncryptor(otherKey)
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestHashSHA256(t *testing.T) {
	// deterministic, 64 hex chars
	h1 := HashSHA256("hello")
	h2 := HashSHA256("hello")
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
	require.NotEqual(t, h1, HashSHA256("hello!"))
	// known vector
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h1)
}

func TestGenerateSecureToken(t *testing.T) {
	tok, err := GenerateSecureToken(32)
	require.NoError(t, err)
	require.Len(t, tok, 64)
	_, err = hex.DecodeString(tok)
	require.NoError(t, err)

	// default size on non-positive input
	tok2, err := GenerateSecureToken(0)
	require.NoError(t, err)
	require.Len(t, tok2, 64)

	require.NotEqual(t, tok, tok2)
}

func TestNewSessionID_CanonicalUUID(t *testing.T) {
	id := NewSessionID()
	require.Len(t, id, 36)
	require.Equal(t, 4, strings.Count(id, "-"))
	require.NotEqual(t, id, NewSessionID())
}
