// Package client implements the connecting side of the protocol: it presents
// a connect token to a server, completes the challenge handshake, and then
// exchanges sealed payload datagrams with keep-alives and replay protection.
//
// A Client is driven by Update ticks. No method blocks; calls on one Client
// must not overlap.
package client

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/oniproject/tto/controlplane/token"
	"github.com/oniproject/tto/netcode"
	"github.com/oniproject/tto/transport"
)

// State is the client connection state.
type State int

const (
	Disconnected State = iota
	// SendingRequest retransmits the connect token until a challenge
	// arrives.
	SendingRequest
	// SendingResponse echoes the challenge until the server confirms.
	SendingResponse
	Connected
	// Failed is terminal; Err carries the reason.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case SendingRequest:
		return "sending_request"
	case SendingResponse:
		return "sending_response"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

const responseLen = token.ChallengePacketLen

// Client is one endpoint of an encrypted connection.
type Client struct {
	conn transport.Conn
	log  zerolog.Logger
	now  func() time.Time

	state   State
	failure error

	protocol        uint64
	expireTimestamp uint64
	expire          time.Duration
	timeout         time.Duration

	nonce  [netcode.XNonceSize]byte
	sealed [token.PrivateLen]byte
	addrs  []netip.AddrPort
	server netip.AddrPort

	time     time.Time
	start    time.Time
	lastSend time.Time
	lastRecv time.Time

	sendKey [netcode.KeySize]byte
	recvKey [netcode.KeySize]byte

	seq      atomic.Uint64
	response [responseLen]byte

	replay    *netcode.Replay
	recvQueue [][]byte
	maxQueue  int

	buf [netcode.MTU]byte
}

// New builds a client around a connect token and a datagram socket. The
// socket is owned by the caller.
func New(protocol uint64, tok *token.PublicToken, conn transport.Conn, opts ...Option) (*Client, error) {
	if tok == nil || len(tok.Addrs) == 0 {
		return nil, ErrInvalidToken
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	now := o.now()
	c := &Client{
		conn: conn,
		log:  o.log,
		now:  o.now,

		state: Disconnected,

		protocol:        protocol,
		expireTimestamp: tok.Expire,
		expire:          tok.ExpireDuration(),
		timeout:         tok.Timeout(),

		nonce:  tok.Nonce,
		sealed: tok.Sealed,
		addrs:  tok.Addrs,

		time:     now,
		start:    now,
		lastSend: now.Add(-time.Second),
		lastRecv: now,

		sendKey: tok.ClientKey,
		recvKey: tok.ServerKey,

		replay:   netcode.NewReplay(o.replay),
		maxQueue: o.recvQueue,
	}
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State { return c.state }

// Err returns the failure reason when State is Failed, else nil.
func (c *Client) Err() error { return c.failure }

// LocalAddr returns the bound socket address.
func (c *Client) LocalAddr() netip.AddrPort { return c.conn.LocalAddr() }

// Connect starts the handshake toward addr, which must be one of the
// addresses the token authorizes.
func (c *Client) Connect(addr netip.AddrPort) error {
	allowed := false
	for _, a := range c.addrs {
		if a == addr {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrUnknownServerAddr
	}
	c.server = addr
	c.state = SendingRequest
	c.log.Debug().Stringer("server", addr).Msg("connecting")
	return nil
}

// Recv pops the next received payload, if any.
func (c *Client) Recv() ([]byte, bool) {
	if len(c.recvQueue) == 0 {
		return nil, false
	}
	m := c.recvQueue[0]
	c.recvQueue = c.recvQueue[1:]
	return m, true
}

// Send seals and transmits one payload datagram. Empty payloads are legal
// and act as keep-alives.
func (c *Client) Send(m []byte) error {
	if c.state != Connected {
		return ErrNotConnected
	}
	return c.sendPayload(m)
}

// Close sends a best-effort burst of close packets and disconnects. After
// Close no further packets are processed.
func (c *Client) Close() {
	if c.state == Disconnected || c.state == Failed {
		c.state = Disconnected
		return
	}
	for i := 0; i < netcode.NumDisconnectPackets; i++ {
		seq := c.seq.Add(1) - 1
		n, err := netcode.EncodeClose(c.protocol, c.buf[:], seq, &c.sendKey)
		if err != nil {
			break
		}
		c.sendPacket(c.buf[:n])
	}
	c.state = Disconnected
	c.log.Debug().Msg("closed")
}

// Update drives the state machine: expiry and timeout checks, inbound
// processing, and paced sends. Call it at least at the packet send rate.
func (c *Client) Update() {
	switch c.state {
	case Disconnected, Failed:
		return
	}

	c.time = c.now()

	if c.time.Sub(c.start) >= c.expire {
		c.fail(ErrTokenExpired)
		return
	}

	if c.time.After(c.lastRecv.Add(c.timeout)) {
		switch c.state {
		case Connected:
			c.fail(ErrTimedOut)
		case SendingRequest:
			c.fail(ErrRequestTimedOut)
		case SendingResponse:
			c.fail(ErrResponseTimedOut)
		}
		return
	}

	for {
		n, from, err := c.conn.ReadFrom(c.buf[:])
		if err != nil {
			break
		}
		if from != c.server {
			continue
		}
		c.process(c.buf[:n])
	}

	if c.time.Sub(c.lastSend) >= netcode.PacketSendDelta {
		switch c.state {
		case Connected:
			// Keep-alive is a payload with zero length.
			_ = c.sendPayload(nil)
		case SendingRequest:
			c.sendRequest()
		case SendingResponse:
			c.sendResponse()
		}
	}
}

func (c *Client) fail(reason error) {
	c.state = Failed
	c.failure = reason
	c.log.Debug().Err(reason).Msg("connection failed")
}

func (c *Client) process(buf []byte) {
	p := netcode.Decode(buf)
	switch p.Kind {
	case netcode.KindPayload:
		if c.state != Connected && c.state != SendingResponse {
			return
		}
		if c.replay.AlreadyReceived(p.Seq) {
			return
		}
		m, err := p.Open(c.protocol, &c.recvKey)
		if err != nil {
			return
		}
		c.lastRecv = c.time
		if len(m) != 0 {
			if len(c.recvQueue) < c.maxQueue {
				c.recvQueue = append(c.recvQueue, append([]byte(nil), m...))
			}
		}
		c.state = Connected

	case netcode.KindClose:
		if len(p.Sealed) != netcode.TagSize {
			return
		}
		switch c.state {
		case Connected:
			if c.replay.AlreadyReceived(p.Seq) {
				return
			}
			if _, err := p.Open(c.protocol, &c.recvKey); err != nil {
				return
			}
			c.state = Disconnected
			c.log.Debug().Msg("closed by server")
		case SendingRequest, SendingResponse:
			if c.replay.AlreadyReceived(p.Seq) {
				return
			}
			if _, err := p.Open(c.protocol, &c.recvKey); err != nil {
				return
			}
			c.fail(ErrDenied)
		}

	case netcode.KindHandshake:
		if c.state != SendingRequest {
			return
		}
		if len(p.Sealed) != responseLen+netcode.TagSize {
			return
		}
		m, err := p.Open(c.protocol, &c.recvKey)
		if err != nil {
			return
		}
		copy(c.response[:], m)
		c.state = SendingResponse
		c.log.Debug().Msg("challenge received")
		c.sendResponse()
	}
}

func (c *Client) sendPayload(m []byte) error {
	seq := c.seq.Add(1) - 1
	n, err := netcode.EncodePayload(c.protocol, c.buf[:], seq, &c.sendKey, m)
	if err != nil {
		return err
	}
	c.sendPacket(c.buf[:n])
	return nil
}

func (c *Client) sendRequest() {
	n, err := netcode.EncodeRequest(c.buf[:], c.protocol, c.expireTimestamp, c.nonce[:], c.sealed[:])
	if err != nil {
		return
	}
	c.sendPacket(c.buf[:n])
}

func (c *Client) sendResponse() {
	seq := c.seq.Add(1) - 1
	var scratch [netcode.MTU]byte
	response := c.response
	n, err := netcode.EncodeHandshake(c.protocol, scratch[:], seq, &c.sendKey, response[:])
	if err != nil {
		return
	}
	c.sendPacket(scratch[:n])
}

// sendPacket transmits best effort; socket errors are transient and retried
// by the next paced send.
func (c *Client) sendPacket(data []byte) {
	_, _ = c.conn.WriteTo(data, c.server)
	c.lastSend = c.time
}
