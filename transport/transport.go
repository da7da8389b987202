// Package transport defines the non-blocking datagram surface the protocol
// endpoints drive, and the UDP implementation used in production. The
// simulator and the WebSocket bridge satisfy the same interface.
package transport

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"time"
)

// ErrWouldBlock is returned by ReadFrom when no datagram is queued. The
// endpoints poll on every tick, so an empty socket is not an error
// condition.
var ErrWouldBlock = errors.New("transport: would block")

// Conn is a non-blocking, unconnected datagram socket. Implementations must
// be safe for one reader and one writer goroutine.
type Conn interface {
	// ReadFrom fills p with the next datagram, returning its size and
	// source. It never blocks: ErrWouldBlock reports an empty queue.
	ReadFrom(p []byte) (int, netip.AddrPort, error)
	// WriteTo sends one datagram, best effort.
	WriteTo(p []byte, addr netip.AddrPort) (int, error)
	LocalAddr() netip.AddrPort
	Close() error
}

// UDPConn adapts *net.UDPConn to Conn with non-blocking reads.
type UDPConn struct {
	c *net.UDPConn
}

// ListenUDP binds a UDP socket on addr ("ip:port"; port 0 picks one).
func ListenUDP(addr string) (*UDPConn, error) {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, err
	}
	c, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(ap))
	if err != nil {
		return nil, err
	}
	return &UDPConn{c: c}, nil
}

func (u *UDPConn) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	// An expired deadline turns the blocking read into a poll.
	if err := u.c.SetReadDeadline(pastDeadline()); err != nil {
		return 0, netip.AddrPort{}, err
	}
	n, addr, err := u.c.ReadFromUDPAddrPort(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, netip.AddrPort{}, ErrWouldBlock
		}
		return 0, netip.AddrPort{}, err
	}
	return n, addr, nil
}

func (u *UDPConn) WriteTo(p []byte, addr netip.AddrPort) (int, error) {
	return u.c.WriteToUDPAddrPort(p, addr)
}

func (u *UDPConn) LocalAddr() netip.AddrPort {
	return u.c.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (u *UDPConn) Close() error { return u.c.Close() }

// pastDeadline is any instant in the past; reads against it return
// immediately.
func pastDeadline() time.Time { return time.Unix(1, 0) }
