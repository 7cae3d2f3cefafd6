package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	ivLength  = 16 // bytes
	tagLength = 16 // bytes
	keyLength = 32 // AES-256
)

// ErrDecrypt is returned for every decryption failure: wrong blob shape,
// wrong segment lengths, or tag verification failure. A single generic
// error keeps the failure mode from acting as an oracle.
var ErrDecrypt = errors.New("decrypt failed: corrupted data or invalid key")

// ErrEmptyPlaintext is returned when there is nothing to encrypt.
var ErrEmptyPlaintext = errors.New("plaintext must not be empty")

// Encryptor provides authenticated symmetric encryption (AES-256-GCM) for
// credentials persisted by the session store, plus hashing and secure
// random generation. Stateless and safe for concurrent use.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a raw 32-byte key. Key validation
// belongs to startup (config); a wrong-length key here is a programmer
// error surfaced as an error anyway.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random 128-bit IV and returns the
// blob as "iv:authTag:ciphertext", each segment hex-encoded.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	// Seal appends the auth tag to the ciphertext; split it back out to
	// match the iv:tag:ct wire format.
	sealed := e.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure mode returns
// ErrDecrypt without detail.
func (e *Encryptor) Decrypt(blob string) (string, error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return "", ErrDecrypt
	}
	if len(parts[0]) != ivLength*2 || len(parts[1]) != tagLength*2 {
		return "", ErrDecrypt
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", ErrDecrypt
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrDecrypt
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrDecrypt
	}

	plaintext, err := e.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// HashSHA256 returns the hex-encoded SHA-256 digest of text. Used to store
// a verifiable-but-irreversible representation of single-use tokens.
func HashSHA256(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// GenerateSecureToken returns n cryptographically random bytes hex-encoded
// (2n characters).
func GenerateSecureToken(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewSessionID returns a fresh random session identifier in canonical
// UUID form.
func NewSessionID() string {
	return uuid.NewString()
}
