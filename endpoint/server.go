// Package endpoint implements the listening side of the protocol: request
// admission, the challenge handshake, the connection table with encryption
// mappings and replay windows, keep-alives, and teardown.
//
// A Server is driven by Update ticks. No method blocks; calls on one Server
// must not overlap.
package endpoint

import (
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/oniproject/tto/netcode"
	"github.com/oniproject/tto/observability"
	"github.com/oniproject/tto/transport"
)

type recvItem struct {
	addr    netip.AddrPort
	payload []byte
}

// Server listens on one datagram socket and serves many encrypted
// connections.
type Server struct {
	conn transport.Conn
	log  zerolog.Logger
	now  func() time.Time
	obs  observability.ServerObserver

	protocol uint64
	incoming *Incoming
	mapping  *Mapping
	conns    map[netip.AddrPort]*Connection

	capacity  int
	replay    int
	maxQueue  int
	recvQueue []recvItem

	time time.Time
	buf  [netcode.MTU]byte
}

// New builds a server around the issuer's long-term private key and a
// datagram socket. The socket is owned by the caller.
func New(protocol uint64, privateKey [netcode.KeySize]byte, conn transport.Conn, opts ...Option) (*Server, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	incoming, err := NewIncoming(protocol, privateKey)
	if err != nil {
		return nil, err
	}
	now := o.now()
	return &Server{
		conn: conn,
		log:  o.log,
		now:  o.now,
		obs:  o.obs,

		protocol: protocol,
		incoming: incoming,
		mapping:  NewMapping(now),
		conns:    make(map[netip.AddrPort]*Connection),

		capacity: o.capacity,
		replay:   o.replay,
		maxQueue: o.recvQueue,

		time: now,
	}, nil
}

// LocalAddr returns the bound socket address.
func (s *Server) LocalAddr() netip.AddrPort { return s.conn.LocalAddr() }

// ConnectionCount returns the number of established connections.
func (s *Server) ConnectionCount() int { return len(s.conns) }

// Connection returns the record for peer, if established.
func (s *Server) Connection(peer netip.AddrPort) (*Connection, bool) {
	c, ok := s.conns[peer]
	return c, ok
}

// Recv pops the next received payload and its source, if any.
func (s *Server) Recv() (netip.AddrPort, []byte, bool) {
	if len(s.recvQueue) == 0 {
		return netip.AddrPort{}, nil, false
	}
	item := s.recvQueue[0]
	s.recvQueue = s.recvQueue[1:]
	return item.addr, item.payload, true
}

// Send seals and transmits one payload datagram to an established peer.
func (s *Server) Send(peer netip.AddrPort, m []byte) error {
	conn, ok := s.conns[peer]
	if !ok {
		return ErrUnknownPeer
	}
	keys := s.mapping.Find(peer)
	if keys == nil {
		return ErrMappingExpired
	}
	return s.sendPayload(conn, keys, m)
}

// Disconnect sends a best-effort close burst to peer and tears the
// connection down.
func (s *Server) Disconnect(peer netip.AddrPort) error {
	conn, ok := s.conns[peer]
	if !ok {
		return ErrUnknownPeer
	}
	if keys := s.mapping.Find(peer); keys != nil {
		for i := 0; i < netcode.NumDisconnectPackets; i++ {
			n, err := netcode.EncodeClose(s.protocol, s.buf[:], conn.nextSeq(), keys.SendKey())
			if err != nil {
				break
			}
			_, _ = s.conn.WriteTo(s.buf[:n], peer)
		}
	}
	s.teardown(peer, "local disconnect")
	return nil
}

// Update drives the server: table maintenance, inbound processing, and
// keep-alives. Call it at least at the packet send rate.
func (s *Server) Update() {
	s.time = s.now()
	timestamp := uint64(s.time.Unix())

	s.incoming.Expire(timestamp)
	s.mapping.Advance(s.time)

	for addr, conn := range s.conns {
		if conn.timedOut(s.time) {
			s.teardown(addr, "timeout")
		}
	}

	for {
		n, from, err := s.conn.ReadFrom(s.buf[:])
		if err != nil {
			break
		}
		s.process(s.buf[:n], from, timestamp)
	}

	for _, conn := range s.conns {
		if s.time.Sub(conn.lastSend) >= netcode.PacketSendDelta {
			if keys := s.mapping.Find(conn.addr); keys != nil {
				_ = s.sendPayload(conn, keys, nil)
			}
		}
	}
}

func (s *Server) process(buf []byte, from netip.AddrPort, timestamp uint64) {
	p := netcode.Decode(buf)
	switch p.Kind {
	case netcode.KindRequest:
		s.handleRequest(netcode.RequestPacket(p.Sealed), from, timestamp)
	case netcode.KindHandshake:
		s.handleResponse(&p, from)
	case netcode.KindPayload:
		s.handlePayload(&p, from)
	case netcode.KindClose:
		s.handleClose(&p, from)
	}
}

// handleRequest admits a connection request: protocol and expiry gates, the
// private-token open, the token's address allow-list, the single-binding
// rule, and capacity. Valid requests get a challenge.
func (s *Server) handleRequest(r netcode.RequestPacket, from netip.AddrPort, timestamp uint64) {
	if _, ok := s.conns[from]; ok {
		return
	}

	private, err := s.incoming.OpenRequest(r, timestamp)
	if err != nil {
		s.obs.PacketRecv(netcode.KindRequest.String(), false)
		s.obs.Denied(observability.DenyReasonBadToken)
		return
	}

	allowed := false
	for _, a := range private.Addrs {
		if a == s.LocalAddr() {
			allowed = true
			break
		}
	}
	if !allowed {
		s.obs.PacketRecv(netcode.KindRequest.String(), false)
		s.obs.Denied(observability.DenyReasonAddrNotAllowed)
		s.log.Debug().Stringer("from", from).Msg("request for a server outside the token's address list")
		return
	}

	tag := r.TokenTag()
	if s.incoming.BoundElsewhere(tag, from) {
		s.obs.PacketRecv(netcode.KindRequest.String(), false)
		s.obs.Denied(observability.DenyReasonTokenReused)
		s.log.Debug().Stringer("from", from).Msg("token already bound to another peer")
		return
	}

	if len(s.conns) >= s.capacity {
		s.obs.PacketRecv(netcode.KindRequest.String(), false)
		s.obs.Denied(observability.DenyReasonServerFull)
		s.sendDenied(from, &private.ServerKey)
		return
	}

	s.incoming.Bind(tag, from, r.Expire())
	s.incoming.Insert(from, r.Expire(), private, s.time)

	n, err := s.incoming.GenChallenge(s.buf[:], s.incoming.Sequence(), private)
	if err != nil {
		return
	}
	_, _ = s.conn.WriteTo(s.buf[:n], from)
	s.obs.PacketRecv(netcode.KindRequest.String(), true)
	s.log.Debug().Stringer("from", from).Uint64("client_id", private.ClientID).Msg("challenge sent")
}

// handleResponse promotes a pending handshake whose challenge echo
// verifies.
func (s *Server) handleResponse(p *netcode.Packet, from netip.AddrPort) {
	if _, ok := s.conns[from]; ok {
		return
	}
	entry, challenge, err := s.incoming.OpenResponse(p, from)
	if err != nil {
		s.obs.PacketRecv(netcode.KindHandshake.String(), false)
		return
	}
	if len(s.conns) >= s.capacity {
		s.obs.Denied(observability.DenyReasonServerFull)
		s.sendDenied(from, &entry.sendKey)
		return
	}

	s.incoming.Remove(from)
	s.mapping.Insert(from, entry.sendKey, entry.recvKey, entry.timeoutSecs)

	conn := &Connection{
		addr:     from,
		clientID: challenge.ClientID,
		user:     challenge.User,
		timeout:  time.Duration(entry.timeoutSecs) * time.Second,
		lastSend: s.time.Add(-time.Second),
		lastRecv: s.time,
		replay:   netcode.NewReplay(s.replay),
	}
	s.conns[from] = conn

	s.obs.PacketRecv(netcode.KindHandshake.String(), true)
	s.obs.HandshakeLatency(s.time.Sub(entry.created))
	s.obs.ConnCount(len(s.conns))
	s.log.Info().Stringer("peer", from).Uint64("client_id", conn.clientID).Msg("connection established")

	// First keep-alive doubles as the handshake confirmation.
	if keys := s.mapping.Find(from); keys != nil {
		_ = s.sendPayload(conn, keys, nil)
	}
}

func (s *Server) handlePayload(p *netcode.Packet, from netip.AddrPort) {
	conn, ok := s.conns[from]
	if !ok {
		return
	}
	keys := s.mapping.Find(from)
	if keys == nil {
		s.obs.PacketRecv(netcode.KindPayload.String(), false)
		return
	}
	if conn.replay.AlreadyReceived(p.Seq) {
		s.obs.PacketRecv(netcode.KindPayload.String(), false)
		return
	}
	m, err := p.Open(s.protocol, keys.RecvKey())
	if err != nil {
		s.obs.PacketRecv(netcode.KindPayload.String(), false)
		return
	}
	conn.lastRecv = s.time
	if len(m) != 0 && len(s.recvQueue) < s.maxQueue {
		s.recvQueue = append(s.recvQueue, recvItem{addr: from, payload: append([]byte(nil), m...)})
	}
	s.obs.PacketRecv(netcode.KindPayload.String(), true)
}

func (s *Server) handleClose(p *netcode.Packet, from netip.AddrPort) {
	conn, ok := s.conns[from]
	if !ok {
		return
	}
	if len(p.Sealed) != netcode.TagSize {
		return
	}
	keys := s.mapping.Find(from)
	if keys == nil {
		return
	}
	if conn.replay.AlreadyReceived(p.Seq) {
		return
	}
	if _, err := p.Open(s.protocol, keys.RecvKey()); err != nil {
		s.obs.PacketRecv(netcode.KindClose.String(), false)
		return
	}
	s.obs.PacketRecv(netcode.KindClose.String(), true)
	s.teardown(from, "peer close")
}

// teardown releases every resource tied to the peer: the connection record,
// the encryption mapping, and any pending entry.
func (s *Server) teardown(peer netip.AddrPort, reason string) {
	delete(s.conns, peer)
	s.mapping.Remove(peer)
	s.incoming.Remove(peer)
	s.obs.ConnCount(len(s.conns))
	s.log.Info().Stringer("peer", peer).Str("reason", reason).Msg("connection closed")
}

func (s *Server) sendPayload(conn *Connection, keys *Keys, m []byte) error {
	n, err := netcode.EncodePayload(s.protocol, s.buf[:], conn.nextSeq(), keys.SendKey(), m)
	if err != nil {
		return err
	}
	_, _ = s.conn.WriteTo(s.buf[:n], conn.addr)
	conn.lastSend = s.time
	return nil
}

// sendDenied answers an over-capacity request with an encrypted close under
// the token's server key, so only the legitimate client can read it.
func (s *Server) sendDenied(to netip.AddrPort, key *[netcode.KeySize]byte) {
	n, err := netcode.EncodeClose(s.protocol, s.buf[:], s.incoming.Sequence(), key)
	if err != nil {
		return
	}
	_, _ = s.conn.WriteTo(s.buf[:n], to)
	s.log.Debug().Stringer("to", to).Msg("denied")
}
