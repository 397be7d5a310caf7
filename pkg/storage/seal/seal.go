// Package seal provides optional at-rest sealing of context payloads.
// Capture sources record window titles, file paths, and URLs; deployments
// that share a disk can keep those unreadable outside the engine.
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

// ErrInvalidBlob is returned when a sealed payload is too short or fails
// authentication.
var ErrInvalidBlob = errors.New("seal: invalid sealed payload")

// Sealer seals and opens payloads with XChaCha20-Poly1305. The nonce is
// random and prefixed to each sealed blob, so a Sealer is safe for
// concurrent use and unbounded message counts.
type Sealer struct {
	aead cipher.AEAD
}

// New creates a Sealer from a 32-byte key.
func New(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("seal: key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plain and returns nonce || ciphertext.
func (s *Sealer) Seal(plain []byte) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plain)+chacha20poly1305.Overhead)
	if _, err := rand.Read(nonce); err != nil {
		// crypto/rand failure means the process environment is broken
		panic(fmt.Sprintf("seal: rand: %v", err))
	}
	return s.aead.Seal(nonce, nonce, plain, nil)
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, ErrInvalidBlob
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidBlob
	}
	return plain, nil
}
