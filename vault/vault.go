// Package vault seals tenant credentials (edge-platform tokens, LLM API
// keys) for storage at rest. Entities store only ciphertext; callers that
// need plaintext pass the entity through an explicit Sealer, so decryption
// never happens as a hidden side effect of field access.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/edgegeo/aicache/netguard"
)

// ErrCiphertextTooShort is returned when a stored blob is shorter than a nonce.
var ErrCiphertextTooShort = errors.New("vault: ciphertext too short")

// Sealer encrypts and decrypts credential strings.
type Sealer interface {
	Seal(plaintext string) ([]byte, error)
	Open(ciphertext []byte) (string, error)
}

// ChaCha implements Sealer with XChaCha20-Poly1305. The AEAD key is derived
// from the master key via HKDF-SHA256 with a fixed domain-separation label,
// so the raw master key is never used directly as cipher key material.
type ChaCha struct {
	aead cipher.AEAD
}

// NewChaCha creates a Sealer from a master key of at least
// netguard.MinSecretLen bytes.
func NewChaCha(masterKey []byte) (*ChaCha, error) {
	if err := netguard.ValidateSecret(masterKey); err != nil {
		return nil, err
	}
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte("aicache/vault/v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new aead: %w", err)
	}
	return &ChaCha{aead: aead}, nil
}

// NewChaChaFromString creates a Sealer from an operator-supplied master
// key string. A value that base64-decodes (standard or URL-safe) to at
// least netguard.MinSecretLen bytes is treated as an encoded key;
// everything else is used as raw bytes. Decoded length gates the
// interpretation so a plain 32-char key that happens to be valid base64
// is not silently shortened into different key material.
func NewChaChaFromString(masterKey string) (*ChaCha, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		if decoded, err := enc.DecodeString(masterKey); err == nil && len(decoded) >= netguard.MinSecretLen {
			return NewChaCha(decoded)
		}
	}
	return NewChaCha([]byte(masterKey))
}

// Seal encrypts plaintext. The random nonce is prepended to the ciphertext.
func (c *ChaCha) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a blob produced by Seal.
func (c *ChaCha) Open(ciphertext []byte) (string, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return "", ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("vault: open: %w", err)
	}
	return string(plain), nil
}
