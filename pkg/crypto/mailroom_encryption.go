package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Errors
var (
	ErrInvalidKey        = errors.New("encryption key must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor handles AES-256-GCM encryption with associated data.
// Ciphertext layout: 12-byte random nonce prefixed to the sealed
// payload (ciphertext + 16-byte tag).
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates an encryptor from a raw 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// NewEncryptorFromBase64 creates an encryptor from a base64-encoded 32-byte key.
func NewEncryptorFromBase64(encoded string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	return NewEncryptor(key)
}

// Encrypt seals plaintext, binding it to aad.
func (e *Encryptor) Encrypt(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return e.gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt opens ciphertext produced by Encrypt with the same aad.
func (e *Encryptor) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	nonceSize := e.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := e.gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// EncryptString is a convenience wrapper for token material.
func (e *Encryptor) EncryptString(plaintext string, aad []byte) ([]byte, error) {
	return e.Encrypt([]byte(plaintext), aad)
}

// DecryptString is a convenience wrapper for token material.
func (e *Encryptor) DecryptString(ciphertext, aad []byte) (string, error) {
	plaintext, err := e.Decrypt(ciphertext, aad)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// CredentialAAD builds the associated-data string that binds an
// encrypted token to its owning credential row.
func CredentialAAD(organizationID, provider, subject string) []byte {
	return []byte(fmt.Sprintf("oauth_credentials:%s:%s:%s", organizationID, provider, subject))
}
