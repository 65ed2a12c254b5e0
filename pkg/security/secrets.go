package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// sealedPrefix marks a passphrase file written by Seal
var sealedPrefix = []byte("SBE-SEALED:v1:")

// Sealer encrypts local passphrase copies with AES-256-GCM
type Sealer struct {
	key []byte // 32 bytes for AES-256
}

// NewSealer creates a sealer with a 32-byte key
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	k := make([]byte, 32)
	copy(k, key)
	return &Sealer{key: k}, nil
}

// NewSealerFromPassword derives the key from a password with SHA-256
func NewSealerFromPassword(password string) (*Sealer, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	hash := sha256.Sum256([]byte(password))
	return NewSealer(hash[:])
}

func (s *Sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext and returns the armored form
// (prefix + base64 of nonce||ciphertext)
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, len(sealedPrefix)+base64.StdEncoding.EncodedLen(len(sealed)))
	copy(out, sealedPrefix)
	base64.StdEncoding.Encode(out[len(sealedPrefix):], sealed)
	return out, nil
}

// Open decrypts data produced by Seal
func (s *Sealer) Open(armored []byte) ([]byte, error) {
	if !IsSealed(armored) {
		return nil, fmt.Errorf("data is not sealed")
	}

	body := bytes.TrimSpace(armored[len(sealedPrefix):])
	sealed := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(sealed, body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed data: %w", err)
	}
	sealed = sealed[:n]

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether data carries the sealed prefix
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealedPrefix)
}
