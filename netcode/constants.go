// Package netcode implements the datagram wire format: the prefix-byte packet
// codec with variable-length sequences, the connection-request packet, the
// AEAD binding of every sealed packet to version, protocol id, and prefix,
// and the replay window.
//
// Overview:
//
//	Client  →      request      →  Server ×10 ≡ 10hz
//	Client  ←  challenge/close  ←  Server
//	Client  →      response     →  Server ×10 ≡ 10hz
//	Client  ↔   payload/close   ↔  Server
package netcode

import (
	"time"

	"github.com/oniproject/tto/crypto/aead"
)

const (
	// KeySize is the symmetric key size used everywhere on the wire.
	KeySize = aead.KeySize
	// TagSize is the AEAD authenticator appended to every sealed packet.
	TagSize = aead.TagSize
	// NonceSize is the per-packet AEAD nonce size.
	NonceSize = aead.NonceSize
	// XNonceSize is the connect-token nonce size.
	XNonceSize = aead.XNonceSize

	// VersionLen is the length of the version magic.
	VersionLen = 4

	// MTU is the fixed maximum datagram size.
	MTU = 1200
	// header is the worst-case prefix+sequence size budgeted for payload
	// packets: the full 9-byte form.
	header = 9
	// Overhead is the per-payload-packet wire overhead.
	Overhead = header + TagSize
	// MaxPayload is the largest application payload carried by one packet.
	MaxPayload = MTU - Overhead

	// MinPacket is the smallest decodable sealed packet: prefix, one
	// sequence byte, and the tag.
	MinPacket = 2 + TagSize

	// RequestLen is the exact size of a connection-request packet.
	RequestLen = MTU

	// NumDisconnectPackets is the size of the best-effort close burst.
	NumDisconnectPackets = 10

	// PacketSendRate is the keep-alive and handshake retransmit rate in Hz.
	PacketSendRate = 10
	// PacketSendDelta is the interval between paced sends.
	PacketSendDelta = time.Second / PacketSendRate

	// ReplayWindow is the default replay-protection window size.
	ReplayWindow = 256
)

// Version is the wire version magic. A packet carrying anything else is
// silently dropped.
var Version = [VersionLen]byte{'O', 'N', 'I', 0}
