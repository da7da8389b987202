package simulator

import (
	"errors"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/oniproject/tto/netcode"
	"github.com/oniproject/tto/transport"
)

// ErrPayloadTooLarge reports a datagram over the simulator's MTU.
var ErrPayloadTooLarge = errors.New("simulator: payload exceeds mtu")

// Socket is a simulated datagram socket. It satisfies transport.Conn.
type Socket struct {
	sim   *Simulator
	local netip.AddrPort

	closed    atomic.Bool
	sendBytes atomic.Uint64
	recvBytes atomic.Uint64
}

func (s *Socket) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	if s.closed.Load() {
		return 0, netip.AddrPort{}, net.ErrClosed
	}
	n, from, ok := s.sim.recv(s.local, p)
	if !ok {
		return 0, netip.AddrPort{}, transport.ErrWouldBlock
	}
	s.recvBytes.Add(uint64(n))
	return n, from, nil
}

func (s *Socket) WriteTo(p []byte, addr netip.AddrPort) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}
	if len(p) > netcode.MTU {
		return 0, ErrPayloadTooLarge
	}
	s.sim.send(s.local, addr, p)
	s.sendBytes.Add(uint64(len(p)))
	return len(p), nil
}

func (s *Socket) LocalAddr() netip.AddrPort { return s.local }

// Close drops everything queued for this socket. Further reads and writes
// fail with net.ErrClosed.
func (s *Socket) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.sim.drop(s.local)
	}
	return nil
}

// SendBytes returns the total bytes written so far.
func (s *Socket) SendBytes() uint64 { return s.sendBytes.Load() }

// RecvBytes returns the total bytes read so far.
func (s *Socket) RecvBytes() uint64 { return s.recvBytes.Load() }
