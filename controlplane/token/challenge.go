package token

import (
	"github.com/oniproject/tto/crypto/aead"
	"github.com/oniproject/tto/internal/bin"
	"github.com/oniproject/tto/netcode"
)

const (
	// ChallengeLen is the sealed challenge-token size.
	ChallengeLen = 300
	// ChallengePacketLen is the challenge/response packet body: the
	// challenge sequence followed by the sealed token. The client echoes
	// it back verbatim.
	ChallengePacketLen = 8 + ChallengeLen

	challengePlainLen = ChallengeLen - aead.TagSize
)

// ChallengeToken is the server-minted handshake cookie. It is opaque to the
// client: only the server's process-lifetime challenge key opens it.
type ChallengeToken struct {
	ClientID uint64
	User     [UserLen]byte
}

// SealPacket encodes the token under the server's challenge key and the
// given challenge sequence, producing the packet body sent inside a
// Handshake packet.
func (c *ChallengeToken) SealPacket(seq uint64, key *[netcode.KeySize]byte) (out [ChallengePacketLen]byte, err error) {
	var plain [challengePlainLen]byte
	bin.PutU64LE(plain[0:], c.ClientID)
	copy(plain[8:], c.User[:])

	bin.PutU64LE(out[0:], seq)
	nonce := challengeNonce(seq)
	if _, err := aead.Seal(key, nonce[:], out[8:8], plain[:], nil); err != nil {
		return out, err
	}
	return out, nil
}

// OpenPacket authenticates a challenge packet body echoed by a client and
// recovers the token.
func OpenPacket(buf []byte, key *[netcode.KeySize]byte) (*ChallengeToken, error) {
	if len(buf) != ChallengePacketLen {
		return nil, ErrTokenSize
	}
	seq := bin.U64LE(buf[0:8])
	nonce := challengeNonce(seq)
	var plain [challengePlainLen]byte
	out, err := aead.Open(key, nonce[:], plain[:0], buf[8:], nil)
	if err != nil {
		return nil, err
	}
	var c ChallengeToken
	c.ClientID = bin.U64LE(out[0:])
	copy(c.User[:], out[8:])
	return &c, nil
}

func challengeNonce(seq uint64) [netcode.NonceSize]byte {
	var n [netcode.NonceSize]byte
	bin.PutU64LE(n[:8], seq)
	return n
}
