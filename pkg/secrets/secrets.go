package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

// EncryptString encrypts a string using a compound key derived from the
// app key and a per-user key. Returns base64-encoded ciphertext.
func EncryptString(appKey, userKey []byte, plaintext string) (string, error) {
	ciphertext, err := EncryptBytes(appKey, userKey, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString decrypts a base64-encoded ciphertext back to string.
func DecryptString(appKey, userKey []byte, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Join(ErrInvalidCiphertext, err)
	}

	plaintext, err := DecryptBytes(appKey, userKey, raw)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// EncryptBytes encrypts raw bytes with AES-256-GCM.
// Ciphertext layout: nonce + encrypted data + tag.
func EncryptBytes(appKey, userKey, data []byte) ([]byte, error) {
	if err := ValidateKeys(appKey, userKey); err != nil {
		return nil, err
	}

	key, err := deriveKey(appKey, userKey)
	if err != nil {
		return nil, err
	}
	defer clearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}

	// Nonce is prepended so the ciphertext is self-contained in storage.
	return aesGCM.Seal(nonce, nonce, data, nil), nil
}

// DecryptBytes decrypts ciphertext produced by EncryptBytes.
func DecryptBytes(appKey, userKey, ciphertext []byte) ([]byte, error) {
	if err := ValidateKeys(appKey, userKey); err != nil {
		return nil, err
	}

	key, err := deriveKey(appKey, userKey)
	if err != nil {
		return nil, err
	}
	defer clearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}

	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}

	return plaintext, nil
}
