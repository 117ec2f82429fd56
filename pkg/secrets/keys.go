package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the required size for both app and user keys.
	KeySize = 32 // 256 bits for AES-256

	// saltInfo provides HKDF domain separation so keys derived here can
	// never collide with keys derived elsewhere in the same app.
	saltInfo = "onboardkit-secrets-v1"
)

// ValidateKeys checks that both keys have the correct length.
func ValidateKeys(appKey, userKey []byte) error {
	validApp := len(appKey) == KeySize
	validUser := len(userKey) == KeySize

	if !validApp {
		return ErrInvalidAppKey
	}
	if !validUser {
		return ErrInvalidUserKey
	}
	return nil
}

// deriveKey combines the app and user keys with HKDF-SHA256 so that a
// leaked user key alone cannot decrypt stored secrets.
func deriveKey(appKey, userKey []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, appKey, userKey, []byte(saltInfo))

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, errors.Join(ErrKeyDerivationFailed, err)
	}

	return key, nil
}

// clearBytes zeros out key material once it is no longer needed.
func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateKey creates a new random 32-byte key suitable for encryption.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
