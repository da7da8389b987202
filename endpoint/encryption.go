package endpoint

import (
	"net/netip"
	"time"

	"github.com/oniproject/tto/netcode"
)

// Keys is one encryption-mapping entry: the per-peer key pair plus its idle
// expiry bookkeeping.
type Keys struct {
	sendKey    [netcode.KeySize]byte
	recvKey    [netcode.KeySize]byte
	timeout    time.Duration
	lastAccess time.Time
}

// SendKey returns the key sealing traffic toward the peer.
func (k *Keys) SendKey() *[netcode.KeySize]byte { return &k.sendKey }

// RecvKey returns the key opening traffic from the peer.
func (k *Keys) RecvKey() *[netcode.KeySize]byte { return &k.recvKey }

// Timeout returns the entry's idle expiry.
func (k *Keys) Timeout() time.Duration { return k.timeout }

func (k *Keys) expired(now time.Time) bool {
	return now.After(k.lastAccess.Add(k.timeout))
}

// Mapping is the per-peer key table. Entries expire when idle; expired
// entries are unreachable by Find and evicted on the spot.
type Mapping struct {
	mapping map[netip.AddrPort]*Keys
	time    time.Time
}

// NewMapping creates an empty table at the given time.
func NewMapping(now time.Time) *Mapping {
	return &Mapping{
		mapping: make(map[netip.AddrPort]*Keys),
		time:    now,
	}
}

// Reset drops every entry and rebases the clock.
func (m *Mapping) Reset(now time.Time) {
	m.time = now
	m.mapping = make(map[netip.AddrPort]*Keys)
}

// Advance moves the table clock forward.
func (m *Mapping) Advance(now time.Time) {
	m.time = now
}

// Insert adds a mapping keyed by peer address. It refuses to overwrite a
// live entry; an expired one is replaced.
func (m *Mapping) Insert(addr netip.AddrPort, sendKey, recvKey [netcode.KeySize]byte, timeoutSecs uint32) bool {
	if e, ok := m.mapping[addr]; ok && !e.expired(m.time) {
		return false
	}
	m.mapping[addr] = &Keys{
		sendKey:    sendKey,
		recvKey:    recvKey,
		timeout:    time.Duration(timeoutSecs) * time.Second,
		lastAccess: m.time,
	}
	return true
}

// Remove deletes the entry. Removing an absent address is a no-op.
func (m *Mapping) Remove(addr netip.AddrPort) bool {
	if _, ok := m.mapping[addr]; !ok {
		return false
	}
	delete(m.mapping, addr)
	return true
}

// Contains reports whether an entry exists, expired or not.
func (m *Mapping) Contains(addr netip.AddrPort) bool {
	_, ok := m.mapping[addr]
	return ok
}

// Find returns the live entry for addr and refreshes its last access, or
// nil. An expired entry is evicted.
func (m *Mapping) Find(addr netip.AddrPort) *Keys {
	e, ok := m.mapping[addr]
	if !ok {
		return nil
	}
	if e.expired(m.time) {
		delete(m.mapping, addr)
		return nil
	}
	e.lastAccess = m.time
	return e
}
