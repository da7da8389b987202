// Package token implements the three layered connect-token credentials: the
// public token handed to a client by the issuer, the private token only the
// server can open, and the challenge cookie the server hands back during the
// handshake.
package token

import (
	"errors"
	"net/netip"

	"github.com/oniproject/tto/crypto/aead"
	"github.com/oniproject/tto/internal/bin"
	"github.com/oniproject/tto/netcode"
)

const (
	// UserLen is the opaque user data carried inside private and
	// challenge tokens.
	UserLen = 256
	// PrivateLen is the sealed private-token blob size.
	PrivateLen = 1024

	privatePlainLen = PrivateLen - aead.TagSize
)

var (
	ErrTokenSize = errors.New("token: bad token size")
	// ErrOpen mirrors the AEAD failure; callers must treat it as opaque.
	ErrOpen = aead.ErrOpen
)

// PrivateToken is the server-decryptable inner credential. It lives sealed
// inside a PublicToken and is recovered only by a server holding the
// issuer's long-term key.
type PrivateToken struct {
	ClientID    uint64
	TimeoutSecs uint32
	Addrs       []netip.AddrPort
	// ClientKey encrypts client-to-server traffic.
	ClientKey [netcode.KeySize]byte
	// ServerKey encrypts server-to-client traffic.
	ServerKey [netcode.KeySize]byte
	User      [UserLen]byte
}

// Plaintext layout (little-endian): client id u64, timeout u32, address
// list, client key, server key, user data, zero padding to privatePlainLen.
func (p *PrivateToken) marshal() (out [privatePlainLen]byte, err error) {
	bin.PutU64LE(out[0:], p.ClientID)
	bin.PutU32LE(out[8:], p.TimeoutSecs)
	if err := writeAddrs(out[12:12+addrsLen], p.Addrs); err != nil {
		return out, err
	}
	off := 12 + addrsLen
	copy(out[off:], p.ClientKey[:])
	copy(out[off+netcode.KeySize:], p.ServerKey[:])
	copy(out[off+2*netcode.KeySize:], p.User[:])
	return out, nil
}

func (p *PrivateToken) unmarshal(src []byte) error {
	if len(src) != privatePlainLen {
		return ErrTokenSize
	}
	p.ClientID = bin.U64LE(src[0:])
	p.TimeoutSecs = bin.U32LE(src[8:])
	addrs, err := readAddrs(src[12 : 12+addrsLen])
	if err != nil {
		return err
	}
	p.Addrs = addrs
	off := 12 + addrsLen
	copy(p.ClientKey[:], src[off:])
	copy(p.ServerKey[:], src[off+netcode.KeySize:])
	copy(p.User[:], src[off+2*netcode.KeySize:])
	return nil
}

// privateAd binds the sealed blob to the deployment and its expiry, so a
// blob cannot be replayed under a different protocol or past its lifetime.
func privateAd(protocol, expire uint64) [netcode.VersionLen + 8 + 8]byte {
	var ad [netcode.VersionLen + 8 + 8]byte
	copy(ad[:], netcode.Version[:])
	bin.PutU64LE(ad[netcode.VersionLen:], protocol)
	bin.PutU64LE(ad[netcode.VersionLen+8:], expire)
	return ad
}

// Seal encrypts the private token under the issuer's long-term key with the
// 24-byte token nonce.
func (p *PrivateToken) Seal(protocol, expire uint64, nonce []byte, key *[netcode.KeySize]byte) (out [PrivateLen]byte, err error) {
	if len(nonce) != netcode.XNonceSize {
		return out, ErrTokenSize
	}
	plain, err := p.marshal()
	if err != nil {
		return out, err
	}
	ad := privateAd(protocol, expire)
	if _, err := aead.SealX(key, nonce, out[:0], plain[:], ad[:]); err != nil {
		return out, err
	}
	return out, nil
}

// OpenPrivate authenticates and decodes a sealed private-token blob. The
// failure is constant-time with respect to the blob contents and reveals
// nothing about the plaintext.
func OpenPrivate(sealed []byte, protocol, expire uint64, nonce []byte, key *[netcode.KeySize]byte) (*PrivateToken, error) {
	if len(sealed) != PrivateLen || len(nonce) != netcode.XNonceSize {
		return nil, ErrTokenSize
	}
	ad := privateAd(protocol, expire)
	var plain [privatePlainLen]byte
	out, err := aead.OpenX(key, nonce, plain[:0], sealed, ad[:])
	if err != nil {
		return nil, err
	}
	var p PrivateToken
	if err := p.unmarshal(out); err != nil {
		return nil, err
	}
	return &p, nil
}
