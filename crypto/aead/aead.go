// Package aead wraps the ChaCha20-Poly1305 constructions used on the wire
// and the small amount of randomness and comparison plumbing around them.
package aead

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the symmetric key size for every AEAD in the protocol.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the IETF ChaCha20-Poly1305 nonce size.
	NonceSize = chacha20poly1305.NonceSize
	// XNonceSize is the XChaCha20-Poly1305 nonce size used by connect tokens.
	XNonceSize = chacha20poly1305.NonceSizeX
	// TagSize is the Poly1305 authenticator size.
	TagSize = chacha20poly1305.Overhead
)

var (
	// ErrOpen signals AEAD authentication failure. Callers must not
	// distinguish why an open failed.
	ErrOpen = errors.New("aead open failed")
	// ErrRandom signals the system randomness source failed.
	ErrRandom = errors.New("randomness source failed")
)

// New returns an IETF ChaCha20-Poly1305 AEAD for the key.
func New(key *[KeySize]byte) (cipher.AEAD, error) {
	return chacha20poly1305.New(key[:])
}

// NewX returns an XChaCha20-Poly1305 AEAD for the key.
func NewX(key *[KeySize]byte) (cipher.AEAD, error) {
	return chacha20poly1305.NewX(key[:])
}

// Seal encrypts plaintext in place into dst (which may alias plaintext)
// and returns ciphertext||tag.
func Seal(key *[KeySize]byte, nonce, dst, plaintext, additional []byte) ([]byte, error) {
	a, err := New(key)
	if err != nil {
		return nil, err
	}
	return a.Seal(dst, nonce, plaintext, additional), nil
}

// Open authenticates and decrypts ciphertext||tag. The plaintext is written
// into dst (which may alias the ciphertext). On failure no plaintext is
// revealed.
func Open(key *[KeySize]byte, nonce, dst, sealed, additional []byte) ([]byte, error) {
	a, err := New(key)
	if err != nil {
		return nil, err
	}
	out, err := a.Open(dst, nonce, sealed, additional)
	if err != nil {
		return nil, ErrOpen
	}
	return out, nil
}

// SealX is Seal with the XChaCha20 construction and a 24-byte nonce.
func SealX(key *[KeySize]byte, nonce, dst, plaintext, additional []byte) ([]byte, error) {
	a, err := NewX(key)
	if err != nil {
		return nil, err
	}
	return a.Seal(dst, nonce, plaintext, additional), nil
}

// OpenX is Open with the XChaCha20 construction and a 24-byte nonce.
func OpenX(key *[KeySize]byte, nonce, dst, sealed, additional []byte) ([]byte, error) {
	a, err := NewX(key)
	if err != nil {
		return nil, err
	}
	out, err := a.Open(dst, nonce, sealed, additional)
	if err != nil {
		return nil, ErrOpen
	}
	return out, nil
}

// Keygen returns a fresh random key.
func Keygen() ([KeySize]byte, error) {
	var k [KeySize]byte
	if err := RandomBytes(k[:]); err != nil {
		return [KeySize]byte{}, err
	}
	return k, nil
}

// RandomBytes fills b from the system randomness source.
func RandomBytes(b []byte) error {
	if _, err := rand.Read(b); err != nil {
		return ErrRandom
	}
	return nil
}

// Equal compares two slices in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
