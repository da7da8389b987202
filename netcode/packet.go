package netcode

import (
	"errors"
	"math/bits"

	"github.com/oniproject/tto/crypto/aead"
	"github.com/oniproject/tto/internal/bin"
)

// Prefix byte format (LSB first):
//
//	[vvvvvvv0] [sequence 1-8 bytes] [ciphertext] [tag] - payload packet
//	[xxxxxx10] 14 bits sequence in 2 bytes (including prefix)
//	[xxxxx100] 21 bits sequence in 3 bytes
//	[xxxx1000] 28 bits sequence in 4 bytes
//	[xxx10000] 35 bits sequence in 5 bytes
//	[xx100000] 42 bits sequence in 6 bytes
//	[x1000000] 49 bits sequence in 7 bytes
//	[10000000] 56 bits sequence in 8 bytes
//	[00000000] 64 bits sequence in 9 bytes
//	[00000001] [content ...] - request packet, exactly MTU bytes
//	[0010sss1] [sequence 1-8 bytes] [ciphertext] [tag] - challenge / response
//	[0011sss1] [sequence 1-8 bytes] [ciphertext] [tag] - disconnect / denied
//	     sss   - sequence length in bytes, minus one
//	everything else - invalid
var (
	// ErrShortBuffer signals the caller's scratch buffer cannot hold the
	// encoded packet.
	ErrShortBuffer = errors.New("netcode: short buffer")
	// ErrPayloadTooLarge signals the message exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("netcode: payload too large")
	// ErrNotSealed signals Open was called on a packet kind that carries no
	// ciphertext.
	ErrNotSealed = errors.New("netcode: packet is not sealed")
)

// Kind discriminates decoded packets.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindPayload
	KindHandshake
	KindClose
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindPayload:
		return "payload"
	case KindHandshake:
		return "handshake"
	case KindClose:
		return "close"
	case KindRequest:
		return "request"
	}
	return "invalid"
}

const (
	prefixRequest   = 0x01
	prefixHandshake = 0b0010_0001
	prefixClose     = 0b0011_0001
)

// Packet is a decoded view into the caller's buffer. Nothing is copied;
// Sealed aliases the datagram and is decrypted in place by Open.
type Packet struct {
	Kind Kind
	// Prefix is the byte bound into the AEAD additional data. Zero for
	// payload packets regardless of the wire prefix.
	Prefix byte
	Seq    uint64
	// Sealed is ciphertext||tag for sealed kinds, and the whole datagram
	// for KindRequest.
	Sealed []byte
}

// Decode classifies a datagram. It never panics, never reads past buf, and
// does not allocate; malformed input yields KindInvalid.
func Decode(buf []byte) Packet {
	if len(buf) < MinPacket {
		return Packet{Kind: KindInvalid}
	}
	prefix := buf[0]

	if prefix&1 == 0 {
		// Payload: the number of trailing zero bits selects the
		// sequence encoding; a zero prefix byte is the 9-byte form.
		z := bits.TrailingZeros8(prefix) + 1
		if len(buf) < z+TagSize {
			return Packet{Kind: KindInvalid}
		}
		var seq uint64
		if z == 9 {
			seq = bin.U64LE(buf[1:9])
		} else {
			seq = bin.UintLE(buf, z) >> uint(z)
		}
		return Packet{Kind: KindPayload, Seq: seq, Sealed: buf[z:]}
	}

	if prefix&0b1100_0000 != 0 {
		return Packet{Kind: KindInvalid}
	}
	if prefix&0b0010_0000 != 0 {
		n := int(prefix>>1&0b111) + 1
		if len(buf) < 1+n+TagSize {
			return Packet{Kind: KindInvalid}
		}
		seq := bin.UintLE(buf[1:], n)
		kind := KindHandshake
		if prefix&0b0001_0000 != 0 {
			kind = KindClose
		}
		return Packet{Kind: kind, Prefix: prefix, Seq: seq, Sealed: buf[1+n:]}
	}

	if prefix == prefixRequest && len(buf) == RequestLen {
		return Packet{Kind: KindRequest, Prefix: prefix, Sealed: buf}
	}
	return Packet{Kind: KindInvalid}
}

// Open authenticates and decrypts the packet in place, returning the
// plaintext view into the original buffer.
func (p *Packet) Open(protocol uint64, key *[KeySize]byte) ([]byte, error) {
	switch p.Kind {
	case KindPayload, KindHandshake, KindClose:
	default:
		return nil, ErrNotSealed
	}
	nonce := packetNonce(p.Seq)
	ad := packetAd(protocol, p.Prefix)
	return aead.Open(key, nonce[:], p.Sealed[:0], p.Sealed, ad[:])
}

// EncodePayload writes a sealed payload packet into dst and returns the
// number of bytes written. An empty m encodes a keep-alive.
func EncodePayload(protocol uint64, dst []byte, seq uint64, key *[KeySize]byte, m []byte) (int, error) {
	if len(m) > MaxPayload {
		return 0, ErrPayloadTooLarge
	}
	b := bits.Len64(seq | 1)
	var n int
	if b > 56 {
		if len(dst) < 9 {
			return 0, ErrShortBuffer
		}
		dst[0] = 0
		bin.PutU64LE(dst[1:9], seq)
		n = 9
	} else {
		if b < 14 {
			b = 14
		}
		n = 1 + (b-1)/7
		if len(dst) < n {
			return 0, ErrShortBuffer
		}
		bin.PutUintLE(dst, (2*seq+1)<<uint(n-1), n)
	}
	return sealInto(protocol, dst, n, seq, 0, key, m)
}

// EncodeKeepAlive writes an empty payload packet.
func EncodeKeepAlive(protocol uint64, dst []byte, seq uint64, key *[KeySize]byte) (int, error) {
	return EncodePayload(protocol, dst, seq, key, nil)
}

// EncodeHandshake writes a sealed challenge or response packet carrying m.
func EncodeHandshake(protocol uint64, dst []byte, seq uint64, key *[KeySize]byte, m []byte) (int, error) {
	return encodePrefixed(protocol, dst, seq, prefixHandshake, key, m)
}

// EncodeClose writes a sealed close/denied packet with empty ciphertext.
func EncodeClose(protocol uint64, dst []byte, seq uint64, key *[KeySize]byte) (int, error) {
	return encodePrefixed(protocol, dst, seq, prefixClose, key, nil)
}

func encodePrefixed(protocol uint64, dst []byte, seq uint64, prefix byte, key *[KeySize]byte, m []byte) (int, error) {
	sss := sequenceBytesRequired(seq)
	if len(dst) < 1+sss {
		return 0, ErrShortBuffer
	}
	prefix |= byte(sss-1) << 1
	dst[0] = prefix
	bin.PutUintLE(dst[1:], seq, sss)
	return sealInto(protocol, dst, 1+sss, seq, prefix, key, m)
}

// sealInto seals m at dst[off:] and returns the total packet length.
func sealInto(protocol uint64, dst []byte, off int, seq uint64, prefix byte, key *[KeySize]byte, m []byte) (int, error) {
	if len(dst) < off+len(m)+TagSize {
		return 0, ErrShortBuffer
	}
	nonce := packetNonce(seq)
	ad := packetAd(protocol, prefix)
	if _, err := aead.Seal(key, nonce[:], dst[off:off], m, ad[:]); err != nil {
		return 0, err
	}
	return off + len(m) + TagSize, nil
}

// sequenceBytesRequired returns the minimal byte count for the handshake and
// close sequence encodings, in [1,8].
func sequenceBytesRequired(seq uint64) int {
	return 1 + (bits.Len64(seq|1)-1)/8
}

func packetNonce(seq uint64) [NonceSize]byte {
	var n [NonceSize]byte
	bin.PutU64LE(n[:8], seq)
	return n
}

func packetAd(protocol uint64, prefix byte) [VersionLen + 8 + 1]byte {
	var ad [VersionLen + 8 + 1]byte
	copy(ad[:VersionLen], Version[:])
	bin.PutU64LE(ad[VersionLen:VersionLen+8], protocol)
	ad[VersionLen+8] = prefix
	return ad
}
