package endpoint

import (
	"errors"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/oniproject/tto/controlplane/token"
	"github.com/oniproject/tto/crypto/aead"
	"github.com/oniproject/tto/netcode"
)

var (
	errNoPending = errors.New("endpoint: no pending handshake")
)

// pending is one half-open handshake, keyed by peer address. Its keys come
// from the private token; the entry dies with the token's expiry.
type pending struct {
	expire      uint64
	timeoutSecs uint32
	sendKey     [netcode.KeySize]byte
	recvKey     [netcode.KeySize]byte
	created     time.Time
}

type tokenBinding struct {
	addr   netip.AddrPort
	expire uint64
}

// Incoming is the server's admission state: the long-term private key, the
// process-lifetime challenge key, the pending table, and the token-replay
// history that pins each private token to its first peer address.
type Incoming struct {
	protocol uint64
	private  [netcode.KeySize]byte
	// challenge is the server-only challenge-token key, rotated at
	// process start and never exposed.
	challenge    [netcode.KeySize]byte
	challengeSeq atomic.Uint64

	pending map[netip.AddrPort]*pending
	history map[[netcode.TagSize]byte]tokenBinding
}

// NewIncoming draws a fresh challenge key and an empty table set.
func NewIncoming(protocol uint64, private [netcode.KeySize]byte) (*Incoming, error) {
	challenge, err := aead.Keygen()
	if err != nil {
		return nil, err
	}
	return &Incoming{
		protocol:  protocol,
		private:   private,
		challenge: challenge,
		pending:   make(map[netip.AddrPort]*pending),
		history:   make(map[[netcode.TagSize]byte]tokenBinding),
	}, nil
}

// OpenRequest validates a request packet and recovers its private token.
func (in *Incoming) OpenRequest(r netcode.RequestPacket, timestamp uint64) (*token.PrivateToken, error) {
	if !r.Valid(in.protocol, timestamp) {
		return nil, token.ErrOpen
	}
	return token.OpenPrivate(r.SealedToken(), in.protocol, r.Expire(), r.Nonce(), &in.private)
}

// GenChallenge mints a challenge token for the client and encodes the
// handshake packet into dst, sealed under the token's server key.
func (in *Incoming) GenChallenge(dst []byte, seq uint64, t *token.PrivateToken) (int, error) {
	challengeSeq := in.challengeSeq.Add(1) - 1
	ct := token.ChallengeToken{ClientID: t.ClientID, User: t.User}
	m, err := ct.SealPacket(challengeSeq, &in.challenge)
	if err != nil {
		return 0, err
	}
	return netcode.EncodeHandshake(in.protocol, dst, seq, &t.ServerKey, m[:])
}

// OpenResponse authenticates a response from addr against its pending entry
// and recovers the echoed challenge token.
func (in *Incoming) OpenResponse(p *netcode.Packet, addr netip.AddrPort) (*pending, *token.ChallengeToken, error) {
	e, ok := in.pending[addr]
	if !ok {
		return nil, nil, errNoPending
	}
	m, err := p.Open(in.protocol, &e.recvKey)
	if err != nil {
		return nil, nil, err
	}
	ct, err := token.OpenPacket(m, &in.challenge)
	if err != nil {
		return nil, nil, err
	}
	return e, ct, nil
}

// Insert records a half-open handshake; a retransmitted request keeps the
// first entry.
func (in *Incoming) Insert(addr netip.AddrPort, expire uint64, t *token.PrivateToken, now time.Time) {
	if _, ok := in.pending[addr]; ok {
		return
	}
	in.pending[addr] = &pending{
		expire:      expire,
		timeoutSecs: t.TimeoutSecs,
		sendKey:     t.ServerKey,
		recvKey:     t.ClientKey,
		created:     now,
	}
}

// Remove pops the pending entry for addr, if any.
func (in *Incoming) Remove(addr netip.AddrPort) *pending {
	e, ok := in.pending[addr]
	if !ok {
		return nil
	}
	delete(in.pending, addr)
	return e
}

// BoundElsewhere reports whether the token tag is already pinned to a peer
// other than addr.
func (in *Incoming) BoundElsewhere(tag [netcode.TagSize]byte, addr netip.AddrPort) bool {
	b, ok := in.history[tag]
	return ok && b.addr != addr
}

// Bind pins the token tag to addr until the token would expire anyway. The
// first binding wins.
func (in *Incoming) Bind(tag [netcode.TagSize]byte, addr netip.AddrPort, expire uint64) {
	if _, ok := in.history[tag]; ok {
		return
	}
	in.history[tag] = tokenBinding{addr: addr, expire: expire}
}

// Expire purges pending entries and token bindings past the timestamp.
func (in *Incoming) Expire(timestamp uint64) {
	for addr, e := range in.pending {
		if e.expire <= timestamp {
			delete(in.pending, addr)
		}
	}
	for tag, b := range in.history {
		if b.expire <= timestamp {
			delete(in.history, tag)
		}
	}
}

// Sequence draws a fresh handshake-side sequence, shared by challenges and
// denied packets.
func (in *Incoming) Sequence() uint64 {
	return in.challengeSeq.Add(1) - 1
}
