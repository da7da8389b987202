package endpoint

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/oniproject/tto/controlplane/token"
	"github.com/oniproject/tto/netcode"
)

// Connection is one established peer. The server owns every record;
// connections refer to peers by address value only.
type Connection struct {
	addr     netip.AddrPort
	clientID uint64
	user     [token.UserLen]byte

	timeout  time.Duration
	lastSend time.Time
	lastRecv time.Time

	seq    atomic.Uint64
	replay *netcode.Replay
}

// Addr returns the peer address.
func (c *Connection) Addr() netip.AddrPort { return c.addr }

// ClientID returns the authenticated client id from the connect token.
func (c *Connection) ClientID() uint64 { return c.clientID }

// User returns the opaque user data the issuer attached to the client.
func (c *Connection) User() [token.UserLen]byte { return c.user }

func (c *Connection) nextSeq() uint64 {
	return c.seq.Add(1) - 1
}

func (c *Connection) timedOut(now time.Time) bool {
	return now.After(c.lastRecv.Add(c.timeout))
}
