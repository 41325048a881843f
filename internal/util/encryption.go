package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const encryptionKeyBytes = 32

// DeriveKey stretches a configured secret into a 32-byte AES key via
// HKDF-SHA256. The same secret always yields the same key, so records
// written by one process remain readable by the next.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret is empty")
	}
	key := make([]byte, encryptionKeyBytes)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("session-record-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with AES-256-GCM. The nonce is prefixed to the
// returned ciphertext.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != encryptionKeyBytes {
		return nil, fmt.Errorf("encryption key must be %d bytes", encryptionKeyBytes)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce-prefixed AES-256-GCM ciphertext.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	if len(key) != encryptionKeyBytes {
		return nil, fmt.Errorf("encryption key must be %d bytes", encryptionKeyBytes)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}
