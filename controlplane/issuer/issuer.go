// Package issuer holds the long-term private key shared between the trusted
// token issuer and the servers, and mints public connect tokens with it.
package issuer

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/oniproject/tto/controlplane/token"
	"github.com/oniproject/tto/crypto/aead"
	"github.com/oniproject/tto/netcode"
)

var (
	ErrInvalidKey    = errors.New("issuer: invalid private key")
	ErrMissingAddrs  = errors.New("issuer: no server addresses")
	ErrInvalidExpire = errors.New("issuer: expire must be positive")
)

// Keyset owns the issuer's long-term private key. The key is read-only for
// minting; Rotate swaps it for key-rollover deployments.
type Keyset struct {
	mu  sync.RWMutex
	key [netcode.KeySize]byte
}

// Generate creates a keyset with a fresh random key.
func Generate() (*Keyset, error) {
	key, err := aead.Keygen()
	if err != nil {
		return nil, err
	}
	return New(key), nil
}

// New wraps an existing long-term key.
func New(key [netcode.KeySize]byte) *Keyset {
	return &Keyset{key: key}
}

// Key returns a copy of the current private key for handing to a server.
func (k *Keyset) Key() [netcode.KeySize]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key
}

// Rotate replaces the private key. Tokens minted before the rotation stop
// verifying on servers that pick up the new key.
func (k *Keyset) Rotate(key [netcode.KeySize]byte) {
	k.mu.Lock()
	k.key = key
	k.mu.Unlock()
}

// MintParams describes one connect token.
type MintParams struct {
	ClientID    uint64
	Protocol    uint64
	Expire      time.Duration
	TimeoutSecs uint32
	Addrs       []netip.AddrPort
	Data        *[token.DataLen]byte
	User        *[token.UserLen]byte
}

// Mint issues a public connect token for one client.
func (k *Keyset) Mint(p MintParams) (*token.PublicToken, error) {
	if p.Expire <= 0 {
		return nil, ErrInvalidExpire
	}
	if len(p.Addrs) == 0 {
		return nil, ErrMissingAddrs
	}
	key := k.Key()
	return token.Generate(p.ClientID, p.Protocol, p.Expire, p.TimeoutSecs, p.Addrs, p.Data, p.User, &key)
}
