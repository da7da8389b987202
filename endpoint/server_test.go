package endpoint

import (
	"net/netip"
	"testing"
	"time"

	"github.com/oniproject/tto/controlplane/token"
	"github.com/oniproject/tto/crypto/aead"
	"github.com/oniproject/tto/netcode"
	"github.com/oniproject/tto/simulator"
)

var (
	srvAddr  = netip.MustParseAddrPort("127.0.0.1:40000")
	peerAddr = netip.MustParseAddrPort("127.0.0.1:40001")
)

type serverHarness struct {
	sim  *simulator.Simulator
	peer *simulator.Socket
	srv  *Server
	key  [netcode.KeySize]byte
}

func newServerHarness(t *testing.T, opts ...Option) *serverHarness {
	t.Helper()
	sim := simulator.New(simulator.WithSeed(5), simulator.WithStart(time.Unix(1_700_000_000, 0)))
	key, err := aead.Keygen()
	if err != nil {
		t.Fatalf("Keygen failed: %v", err)
	}
	srv, err := New(testProtocol, key, sim.Socket(srvAddr), append([]Option{WithClock(sim.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &serverHarness{sim: sim, peer: sim.Socket(peerAddr), srv: srv, key: key}
}

func (h *serverHarness) mint(t *testing.T, addrs []netip.AddrPort, expire uint64) (*token.PrivateToken, []byte) {
	t.Helper()
	private := &token.PrivateToken{
		ClientID:    777,
		TimeoutSecs: testTimeoutSecs,
		Addrs:       addrs,
	}
	if err := aead.RandomBytes(private.ClientKey[:]); err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if err := aead.RandomBytes(private.ServerKey[:]); err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	var nonce [netcode.XNonceSize]byte
	if err := aead.RandomBytes(nonce[:]); err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	sealed, err := private.Seal(testProtocol, expire, nonce[:], &h.key)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	req := make([]byte, netcode.RequestLen)
	if _, err := netcode.EncodeRequest(req, testProtocol, expire, nonce[:], sealed[:]); err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	return private, req
}

func (h *serverHarness) expireAt(d time.Duration) uint64 {
	return uint64(h.sim.Now().Add(d).Unix())
}

func (h *serverHarness) tick(t *testing.T) {
	t.Helper()
	h.sim.AdvanceBy(time.Millisecond)
	h.srv.Update()
	h.sim.AdvanceBy(time.Millisecond)
}

// recvPeer pops one datagram queued at the fake client.
func (h *serverHarness) recvPeer(t *testing.T) ([]byte, bool) {
	t.Helper()
	var buf [netcode.MTU]byte
	n, _, err := h.peer.ReadFrom(buf[:])
	if err != nil {
		return nil, false
	}
	return append([]byte(nil), buf[:n]...), true
}

func TestServerAnswersValidRequest(t *testing.T) {
	h := newServerHarness(t)
	private, req := h.mint(t, []netip.AddrPort{srvAddr}, h.expireAt(30*time.Second))

	if _, err := h.peer.WriteTo(req, srvAddr); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	h.tick(t)

	pkt, ok := h.recvPeer(t)
	if !ok {
		t.Fatalf("no challenge sent")
	}
	p := netcode.Decode(pkt)
	if p.Kind != netcode.KindHandshake {
		t.Fatalf("kind %v, want handshake", p.Kind)
	}
	if _, err := p.Open(testProtocol, &private.ServerKey); err != nil {
		t.Fatalf("challenge does not open with the token's server key: %v", err)
	}
}

func TestServerIgnoresAddrOutsideAllowList(t *testing.T) {
	h := newServerHarness(t)
	other := netip.MustParseAddrPort("127.0.0.1:50000")
	_, req := h.mint(t, []netip.AddrPort{other}, h.expireAt(30*time.Second))

	if _, err := h.peer.WriteTo(req, srvAddr); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	h.tick(t)

	if _, ok := h.recvPeer(t); ok {
		t.Fatalf("server answered a token that does not authorize it")
	}
}

func TestServerIgnoresExpiredRequest(t *testing.T) {
	h := newServerHarness(t)
	_, req := h.mint(t, []netip.AddrPort{srvAddr}, uint64(h.sim.Now().Unix()))

	if _, err := h.peer.WriteTo(req, srvAddr); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	h.tick(t)

	if _, ok := h.recvPeer(t); ok {
		t.Fatalf("server answered an expired request")
	}
}

func TestServerIgnoresWrongProtocol(t *testing.T) {
	h := newServerHarness(t)
	_, req := h.mint(t, []netip.AddrPort{srvAddr}, h.expireAt(30*time.Second))
	// Rewrite the protocol field; both the outer check and the AEAD bind
	// must refuse it.
	req[5] ^= 0xFF

	if _, err := h.peer.WriteTo(req, srvAddr); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	h.tick(t)

	if _, ok := h.recvPeer(t); ok {
		t.Fatalf("server answered a request for another protocol")
	}
}

func TestServerRefusesSecondAddressForToken(t *testing.T) {
	h := newServerHarness(t)
	_, req := h.mint(t, []netip.AddrPort{srvAddr}, h.expireAt(30*time.Second))

	if _, err := h.peer.WriteTo(req, srvAddr); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	h.tick(t)
	if _, ok := h.recvPeer(t); !ok {
		t.Fatalf("first presenter got no challenge")
	}

	// The same bytes from a different source address are refused.
	thief := h.sim.Socket(netip.MustParseAddrPort("127.0.0.1:49999"))
	if _, err := thief.WriteTo(req, srvAddr); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	h.tick(t)
	var buf [netcode.MTU]byte
	if _, _, err := thief.ReadFrom(buf[:]); err == nil {
		t.Fatalf("second presenter was answered")
	}
}

func TestSendToUnknownPeer(t *testing.T) {
	h := newServerHarness(t)
	if err := h.srv.Send(peerAddr, []byte("x")); err != ErrUnknownPeer {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
	if err := h.srv.Disconnect(peerAddr); err != ErrUnknownPeer {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}
