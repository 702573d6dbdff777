// Package cryptobox seals and opens small secrets with a symmetric key.
// Credentials and authorization state are always sealed before they reach
// the datastore.
package cryptobox

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"jiractl/internal/apperrors"
)

const (
	// KeySize is the required key length in bytes.
	KeySize = 32

	nonceSize = 24
)

// Box encrypts with XSalsa20 and authenticates with Poly1305. It keeps no
// per-record state; the random nonce travels with the ciphertext.
type Box struct {
	key [KeySize]byte
}

// New creates a Box from a raw 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// Seal encrypts and authenticates plaintext. A fresh random nonce is
// generated per call and prepended to the returned ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %v", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Open authenticates and decrypts a sealed record. Ciphertext produced
// under a different key, or modified in any way, fails with
// apperrors.ErrDecryptFailed before any plaintext is released.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, apperrors.ErrDecryptFailed
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, apperrors.ErrDecryptFailed
	}
	return plaintext, nil
}
