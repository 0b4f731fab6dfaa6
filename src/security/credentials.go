package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// CredentialCipher encrypts plugin and connector credentials at rest.
// Plaintext lives in memory only for the duration of a connector call.
type CredentialCipher struct {
	aead cipher.AEAD
}

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// scrypt parameters follow the interactive-use recommendation.
const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// NewCredentialCipher derives an AES-256-GCM key from the master key. The
// salt is fixed per deployment by hashing the master key itself; rotating
// the master key rotates the derived key.
func NewCredentialCipher(masterKey string) (*CredentialCipher, error) {
	if masterKey == "" {
		return nil, errors.New("credential master key not configured")
	}

	salt := sha256.Sum256([]byte("credential-cipher-salt:" + masterKey))
	key, err := scrypt.Key([]byte(masterKey), salt[:16], scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("deriving credential key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing credential cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing credential cipher: %w", err)
	}
	return &CredentialCipher{aead: aead}, nil
}

// Encrypt seals the plaintext and returns a base64 token with the nonce
// prepended.
func (c *CredentialCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A tampered or foreign token returns
// ErrInvalidCiphertext.
func (c *CredentialCipher) Decrypt(token string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}
