// Package cryptutil encrypts and decrypts SNMP credentials at rest
// using ChaCha20-Poly1305 AEAD, so community strings and v3 auth/priv
// keys never sit in the relational store in plaintext (spec §9
// "Encryption at rest").
package cryptutil

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCiphertextTooShort is returned when a stored ciphertext is
// shorter than the AEAD nonce, indicating corruption or a bug in the
// caller.
var ErrCiphertextTooShort = errors.New("cryptutil: ciphertext shorter than nonce")

// Box encrypts and decrypts credential fields with a single derived
// key. The engine holds exactly one Box, built once from the
// config-supplied encryption_key at startup.
type Box struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
}

// NewBox derives a 32-byte ChaCha20-Poly1305 key from the supplied
// passphrase via SHA-256, so operators can supply any sufficiently
// long secret rather than a raw 32-byte key.
func NewBox(passphrase string) (*Box, error) {
	if len(passphrase) < 32 {
		return nil, fmt.Errorf("cryptutil: passphrase must be at least 32 bytes, got %d", len(passphrase))
	}
	key := sha256.Sum256([]byte(passphrase))
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptutil: building aead: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext, binding it to additionalData (typically the
// device ID, so a ciphertext can't be copied onto a different device
// record undetected) and prepending the random nonce to the output.
func (b *Box) Seal(plaintext, additionalData []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptutil: generating nonce: %w", err)
	}
	out := b.aead.Seal(nil, nonce, plaintext, additionalData)
	return append(nonce, out...), nil
}

// Open decrypts a ciphertext produced by Seal with the matching
// additionalData.
func (b *Box) Open(ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	nonceSize := b.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: decryption failed: %w", err)
	}
	return plaintext, nil
}
