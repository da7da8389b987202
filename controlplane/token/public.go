package token

import (
	"net/netip"
	"time"

	"github.com/oniproject/tto/crypto/aead"
	"github.com/oniproject/tto/internal/bin"
	"github.com/oniproject/tto/internal/timeutil"
	"github.com/oniproject/tto/netcode"
)

const (
	// DataLen is the opaque data region in the public token.
	DataLen = 640
	// PublicLen is the fixed public-token wire size.
	PublicLen = 2048
)

// Public token wire layout (little-endian, zero padded to PublicLen):
//
//	[version]     4
//	[protocol]    8
//	[create]      8
//	[expire]      8
//	[nonce]       24
//	[private]     1024  sealed PrivateToken
//	[client key]  32
//	[server key]  32
//	[timeout]     4
//	[addresses]   156
//	[data]        640
const (
	pubProtocolOff = netcode.VersionLen
	pubCreateOff   = pubProtocolOff + 8
	pubExpireOff   = pubCreateOff + 8
	pubNonceOff    = pubExpireOff + 8
	pubPrivateOff  = pubNonceOff + netcode.XNonceSize
	pubClientKey   = pubPrivateOff + PrivateLen
	pubServerKey   = pubClientKey + netcode.KeySize
	pubTimeoutOff  = pubServerKey + netcode.KeySize
	pubAddrsOff    = pubTimeoutOff + 4
	pubDataOff     = pubAddrsOff + addrsLen
	pubEndOff      = pubDataOff + DataLen
)

// PublicToken is the credential the issuer hands to a client. The client
// never opens the sealed private blob; it forwards it to the server inside
// the request packet and keeps the session keys for itself.
type PublicToken struct {
	Protocol    uint64
	Create      uint64
	Expire      uint64
	TimeoutSecs uint32
	Nonce       [netcode.XNonceSize]byte
	Sealed      [PrivateLen]byte
	// ClientKey is the client's send key, ServerKey its recv key.
	ClientKey [netcode.KeySize]byte
	ServerKey [netcode.KeySize]byte
	Addrs     []netip.AddrPort
	Data      [DataLen]byte
}

// Generate mints a token for clientID valid for expire from now. Fresh
// session keys and a fresh nonce are drawn for every token, and the private
// blob is sealed under the issuer's long-term key.
func Generate(clientID, protocol uint64, expire time.Duration, timeoutSecs uint32, addrs []netip.AddrPort, data *[DataLen]byte, user *[UserLen]byte, key *[netcode.KeySize]byte) (*PublicToken, error) {
	clientKey, err := aead.Keygen()
	if err != nil {
		return nil, err
	}
	serverKey, err := aead.Keygen()
	if err != nil {
		return nil, err
	}

	create := timeutil.UnixSecs()
	t := &PublicToken{
		Protocol:    protocol,
		Create:      create,
		Expire:      create + uint64(expire/time.Second),
		TimeoutSecs: timeoutSecs,
		ClientKey:   clientKey,
		ServerKey:   serverKey,
		Addrs:       addrs,
	}
	if err := aead.RandomBytes(t.Nonce[:]); err != nil {
		return nil, err
	}
	if data != nil {
		t.Data = *data
	}

	private := PrivateToken{
		ClientID:    clientID,
		TimeoutSecs: timeoutSecs,
		Addrs:       addrs,
		ClientKey:   clientKey,
		ServerKey:   serverKey,
	}
	if user != nil {
		private.User = *user
	}
	sealed, err := private.Seal(protocol, t.Expire, t.Nonce[:], key)
	if err != nil {
		return nil, err
	}
	t.Sealed = sealed
	return t, nil
}

// ExpireDuration returns the token lifetime from its creation.
func (t *PublicToken) ExpireDuration() time.Duration {
	return time.Duration(t.Expire-t.Create) * time.Second
}

// Timeout returns the connection keep-alive timeout the token mandates.
func (t *PublicToken) Timeout() time.Duration {
	return time.Duration(t.TimeoutSecs) * time.Second
}

// Marshal encodes the token for transfer from the issuer to the client.
func (t *PublicToken) Marshal() (out [PublicLen]byte, err error) {
	copy(out[:], netcode.Version[:])
	bin.PutU64LE(out[pubProtocolOff:], t.Protocol)
	bin.PutU64LE(out[pubCreateOff:], t.Create)
	bin.PutU64LE(out[pubExpireOff:], t.Expire)
	copy(out[pubNonceOff:], t.Nonce[:])
	copy(out[pubPrivateOff:], t.Sealed[:])
	copy(out[pubClientKey:], t.ClientKey[:])
	copy(out[pubServerKey:], t.ServerKey[:])
	bin.PutU32LE(out[pubTimeoutOff:], t.TimeoutSecs)
	if err := writeAddrs(out[pubAddrsOff:pubAddrsOff+addrsLen], t.Addrs); err != nil {
		return out, err
	}
	copy(out[pubDataOff:], t.Data[:])
	return out, nil
}

// Unmarshal decodes a public token received from the issuer.
func Unmarshal(src []byte) (*PublicToken, error) {
	if len(src) != PublicLen {
		return nil, ErrTokenSize
	}
	if string(src[:netcode.VersionLen]) != string(netcode.Version[:]) {
		return nil, ErrTokenSize
	}
	t := &PublicToken{
		Protocol:    bin.U64LE(src[pubProtocolOff:]),
		Create:      bin.U64LE(src[pubCreateOff:]),
		Expire:      bin.U64LE(src[pubExpireOff:]),
		TimeoutSecs: bin.U32LE(src[pubTimeoutOff:]),
	}
	copy(t.Nonce[:], src[pubNonceOff:])
	copy(t.Sealed[:], src[pubPrivateOff:])
	copy(t.ClientKey[:], src[pubClientKey:])
	copy(t.ServerKey[:], src[pubServerKey:])
	addrs, err := readAddrs(src[pubAddrsOff : pubAddrsOff+addrsLen])
	if err != nil {
		return nil, err
	}
	t.Addrs = addrs
	copy(t.Data[:], src[pubDataOff:])
	return t, nil
}
