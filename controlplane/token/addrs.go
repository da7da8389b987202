package token

import (
	"errors"
	"net/netip"

	"github.com/oniproject/tto/internal/bin"
)

// Address list wire form: count u32, then per address a type byte
// (1 = IPv4, 2 = IPv6), the raw address bytes, and a little-endian port.
// The region is fixed-size and zero padded.
const (
	addrTypeIPv4 = 1
	addrTypeIPv6 = 2

	// MaxServers bounds the address list carried by one token.
	MaxServers = 8

	addrEntryLen = 1 + 16 + 2
	addrsLen     = 4 + MaxServers*addrEntryLen
)

var ErrAddressList = errors.New("token: bad server address list")

func writeAddrs(dst []byte, addrs []netip.AddrPort) error {
	if len(addrs) == 0 || len(addrs) > MaxServers {
		return ErrAddressList
	}
	bin.PutU32LE(dst, uint32(len(addrs)))
	off := 4
	for _, ap := range addrs {
		addr := ap.Addr().Unmap()
		if addr.Is4() {
			dst[off] = addrTypeIPv4
			a4 := addr.As4()
			copy(dst[off+1:], a4[:])
			off += 1 + 4
		} else if addr.Is6() {
			dst[off] = addrTypeIPv6
			a16 := addr.As16()
			copy(dst[off+1:], a16[:])
			off += 1 + 16
		} else {
			return ErrAddressList
		}
		bin.PutU16LE(dst[off:], ap.Port())
		off += 2
	}
	return nil
}

func readAddrs(src []byte) ([]netip.AddrPort, error) {
	n := int(bin.U32LE(src))
	if n == 0 || n > MaxServers {
		return nil, ErrAddressList
	}
	addrs := make([]netip.AddrPort, 0, n)
	off := 4
	for i := 0; i < n; i++ {
		if off >= len(src) {
			return nil, ErrAddressList
		}
		typ := src[off]
		var addr netip.Addr
		switch typ {
		case addrTypeIPv4:
			if off+1+4+2 > len(src) {
				return nil, ErrAddressList
			}
			addr = netip.AddrFrom4([4]byte(src[off+1 : off+5]))
			off += 1 + 4
		case addrTypeIPv6:
			if off+1+16+2 > len(src) {
				return nil, ErrAddressList
			}
			addr = netip.AddrFrom16([16]byte(src[off+1 : off+17]))
			off += 1 + 16
		default:
			return nil, ErrAddressList
		}
		port := bin.U16LE(src[off:])
		off += 2
		addrs = append(addrs, netip.AddrPortFrom(addr, port))
	}
	return addrs, nil
}
