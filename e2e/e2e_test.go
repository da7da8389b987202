// Package e2e drives a client and a server against the in-memory network
// simulator through full connection lifecycles.
package e2e

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/oniproject/tto/client"
	"github.com/oniproject/tto/controlplane/issuer"
	"github.com/oniproject/tto/controlplane/token"
	"github.com/oniproject/tto/endpoint"
	"github.com/oniproject/tto/internal/timeutil"
	"github.com/oniproject/tto/netcode"
	"github.com/oniproject/tto/simulator"
)

const (
	protocol    = uint64(0x1122334455667788)
	clientID    = uint64(666)
	timeoutSecs = 15
)

var (
	serverAddr = netip.MustParseAddrPort("127.0.0.1:40000")
	clientAddr = netip.MustParseAddrPort("127.0.0.1:40001")
)

type world struct {
	sim    *simulator.Simulator
	keys   *issuer.Keyset
	server *endpoint.Server
	client *client.Client
}

// newWorld wires one client and one server onto a shared simulator whose
// clock also drives both endpoints and the token issuer.
func newWorld(t *testing.T, tokenExpire time.Duration, tokenTimeout uint32, serverOpts ...endpoint.Option) *world {
	t.Helper()

	sim := simulator.New(simulator.WithSeed(42), simulator.WithStart(time.Unix(1_700_000_000, 0)))
	restore := timeutil.Now
	timeutil.Now = sim.Now
	t.Cleanup(func() { timeutil.Now = restore })

	keys, err := issuer.Generate()
	if err != nil {
		t.Fatalf("issuer.Generate failed: %v", err)
	}

	opts := append([]endpoint.Option{endpoint.WithClock(sim.Now)}, serverOpts...)
	srv, err := endpoint.New(protocol, keys.Key(), sim.Socket(serverAddr), opts...)
	if err != nil {
		t.Fatalf("endpoint.New failed: %v", err)
	}

	key := keys.Key()
	tok, err := token.Generate(clientID, protocol, tokenExpire, tokenTimeout,
		[]netip.AddrPort{serverAddr}, nil, nil, &key)
	if err != nil {
		t.Fatalf("token.Generate failed: %v", err)
	}
	cl, err := client.New(protocol, tok, sim.Socket(clientAddr), client.WithClock(sim.Now))
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}

	return &world{sim: sim, keys: keys, server: srv, client: cl}
}

// tick advances simulated time by step and updates both endpoints.
func (w *world) tick(step time.Duration) {
	w.sim.AdvanceBy(step)
	w.client.Update()
	w.server.Update()
}

// connect runs ticks until the client reports Connected or the deadline
// passes.
func (w *world) connect(t *testing.T, deadline time.Duration) {
	t.Helper()
	if err := w.client.Connect(serverAddr); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	const step = 10 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < deadline; elapsed += step {
		w.tick(step)
		if w.client.State() == client.Connected {
			return
		}
	}
	t.Fatalf("client state %v (err %v) after %v", w.client.State(), w.client.Err(), deadline)
}

func TestTokenExpired(t *testing.T) {
	// S1: expire == create; the very first update must fail the token.
	w := newWorld(t, 0, 0)
	if err := w.client.Connect(serverAddr); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	w.client.Update()
	if w.client.State() != client.Failed {
		t.Fatalf("state %v, want failed", w.client.State())
	}
	if !errors.Is(w.client.Err(), client.ErrTokenExpired) {
		t.Fatalf("err %v, want ErrTokenExpired", w.client.Err())
	}
}

func TestHappyHandshake(t *testing.T) {
	// S2: no loss, 10 Hz, connected within 300 ms of simulated time.
	w := newWorld(t, 30*time.Second, timeoutSecs)
	w.connect(t, 300*time.Millisecond)

	if n := w.server.ConnectionCount(); n != 1 {
		t.Fatalf("server reports %d connections, want 1", n)
	}
	conn, ok := w.server.Connection(clientAddr)
	if !ok {
		t.Fatalf("no connection record for %v", clientAddr)
	}
	if conn.ClientID() != clientID {
		t.Fatalf("client id %d, want %d", conn.ClientID(), clientID)
	}

	if err := w.client.Send([]byte{0xAB}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	w.tick(10 * time.Millisecond)

	from, payload, ok := w.server.Recv()
	if !ok {
		t.Fatalf("payload did not reach the server")
	}
	if from != clientAddr {
		t.Fatalf("payload from %v, want %v", from, clientAddr)
	}
	if !bytes.Equal(payload, []byte{0xAB}) {
		t.Fatalf("payload %v, want [0xAB]", payload)
	}
	if _, _, ok := w.server.Recv(); ok {
		t.Fatalf("unexpected second payload")
	}
}

func TestServerToClientPayload(t *testing.T) {
	w := newWorld(t, 30*time.Second, timeoutSecs)
	w.connect(t, 300*time.Millisecond)

	msg := []byte("state snapshot")
	if err := w.server.Send(clientAddr, msg); err != nil {
		t.Fatalf("server Send failed: %v", err)
	}
	w.tick(10 * time.Millisecond)

	payload, ok := w.client.Recv()
	if !ok {
		t.Fatalf("payload did not reach the client")
	}
	if !bytes.Equal(payload, msg) {
		t.Fatalf("payload %q, want %q", payload, msg)
	}
}

func TestReplayedDatagramDropped(t *testing.T) {
	// S3: a duplicated payload datagram must reach the application once.
	w := newWorld(t, 30*time.Second, timeoutSecs)
	w.connect(t, 300*time.Millisecond)

	// Duplicate everything the client now sends; the wire sees the same
	// bytes twice, byte for byte.
	w.sim.AddMapping(clientAddr, serverAddr, simulator.Config{Duplicate: 1})

	if err := w.client.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	w.tick(50 * time.Millisecond)
	w.tick(50 * time.Millisecond)

	if _, _, ok := w.server.Recv(); !ok {
		t.Fatalf("first delivery missing")
	}
	if _, _, ok := w.server.Recv(); ok {
		t.Fatalf("replayed datagram reached the application")
	}
}

func TestIdleTimeout(t *testing.T) {
	// S4: timeout 1 s, then a 1.1 s silent gap kills both ends.
	w := newWorld(t, 30*time.Second, 1)
	w.connect(t, 300*time.Millisecond)

	w.sim.AdvanceBy(1100 * time.Millisecond)
	w.client.Update()
	w.server.Update()

	if w.client.State() != client.Failed || !errors.Is(w.client.Err(), client.ErrTimedOut) {
		t.Fatalf("client state %v err %v, want failed/ErrTimedOut", w.client.State(), w.client.Err())
	}
	if n := w.server.ConnectionCount(); n != 0 {
		t.Fatalf("server still holds %d connections", n)
	}
}

func TestDeniedWhenFull(t *testing.T) {
	// S5: capacity 1; the second well-formed client is denied.
	w := newWorld(t, 30*time.Second, timeoutSecs, endpoint.WithCapacity(1))
	w.connect(t, 300*time.Millisecond)

	otherAddr := netip.MustParseAddrPort("127.0.0.1:40002")
	key := w.keys.Key()
	tok, err := token.Generate(clientID+1, protocol, 30*time.Second, timeoutSecs,
		[]netip.AddrPort{serverAddr}, nil, nil, &key)
	if err != nil {
		t.Fatalf("token.Generate failed: %v", err)
	}
	other, err := client.New(protocol, tok, w.sim.Socket(otherAddr), client.WithClock(w.sim.Now))
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	if err := other.Connect(serverAddr); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	const step = 10 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < 300*time.Millisecond; elapsed += step {
		w.sim.AdvanceBy(step)
		w.client.Update()
		other.Update()
		w.server.Update()
		if other.State() == client.Failed {
			break
		}
	}
	if other.State() != client.Failed || !errors.Is(other.Err(), client.ErrDenied) {
		t.Fatalf("state %v err %v, want failed/ErrDenied", other.State(), other.Err())
	}
	if n := w.server.ConnectionCount(); n != 1 {
		t.Fatalf("server reports %d connections, want 1", n)
	}
}

func TestTokenSingleBinding(t *testing.T) {
	// The same token presented from a second address is refused, so the
	// thief never reaches Connected.
	w := newWorld(t, 30*time.Second, timeoutSecs)
	w.connect(t, 300*time.Millisecond)

	// Simulate a stolen token: mint one fresh token and build two clients
	// around it on different sockets. The first to connect binds the token
	// to its address; the second presents the same token from another one.
	key := w.keys.Key()
	tok, err := token.Generate(clientID+7, protocol, 30*time.Second, timeoutSecs,
		[]netip.AddrPort{serverAddr}, nil, nil, &key)
	if err != nil {
		t.Fatalf("token.Generate failed: %v", err)
	}

	addrA := netip.MustParseAddrPort("127.0.0.1:41000")
	addrB := netip.MustParseAddrPort("127.0.0.1:41001")
	a, err := client.New(protocol, tok, w.sim.Socket(addrA), client.WithClock(w.sim.Now))
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	b, err := client.New(protocol, tok, w.sim.Socket(addrB), client.WithClock(w.sim.Now))
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	if err := a.Connect(serverAddr); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	const step = 10 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < 300*time.Millisecond; elapsed += step {
		w.sim.AdvanceBy(step)
		a.Update()
		w.server.Update()
		if a.State() == client.Connected {
			break
		}
	}
	if a.State() != client.Connected {
		t.Fatalf("first holder state %v", a.State())
	}

	if err := b.Connect(serverAddr); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	for elapsed := time.Duration(0); elapsed < 300*time.Millisecond; elapsed += step {
		w.sim.AdvanceBy(step)
		a.Update()
		b.Update()
		w.server.Update()
	}
	if b.State() == client.Connected {
		t.Fatalf("second address connected with a reused token")
	}
}

func TestClientCloseTearsDownServer(t *testing.T) {
	w := newWorld(t, 30*time.Second, timeoutSecs)
	w.connect(t, 300*time.Millisecond)

	w.client.Close()
	w.tick(20 * time.Millisecond)

	if w.client.State() != client.Disconnected {
		t.Fatalf("client state %v", w.client.State())
	}
	if n := w.server.ConnectionCount(); n != 0 {
		t.Fatalf("server still holds %d connections after close", n)
	}
}

func TestServerDisconnectReachesClient(t *testing.T) {
	w := newWorld(t, 30*time.Second, timeoutSecs)
	w.connect(t, 300*time.Millisecond)

	if err := w.server.Disconnect(clientAddr); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	w.tick(20 * time.Millisecond)

	if w.client.State() != client.Disconnected {
		t.Fatalf("client state %v, want disconnected", w.client.State())
	}
	if n := w.server.ConnectionCount(); n != 0 {
		t.Fatalf("server reports %d connections", n)
	}
}

func TestHandshakeUnderLossAndJitter(t *testing.T) {
	// Retransmits at 10 Hz must carry the handshake through a lossy,
	// jittery link well inside the token timeout.
	w := newWorld(t, 30*time.Second, timeoutSecs)
	cfg := simulator.Config{
		Latency:   20 * time.Millisecond,
		Jitter:    10 * time.Millisecond,
		Loss:      0.3,
		Duplicate: 0.1,
	}
	w.sim.AddMapping(clientAddr, serverAddr, cfg)
	w.sim.AddMapping(serverAddr, clientAddr, cfg)

	w.connect(t, 5*time.Second)
	if n := w.server.ConnectionCount(); n != 1 {
		t.Fatalf("server reports %d connections", n)
	}
}

func TestKeepAliveHoldsConnection(t *testing.T) {
	// Ticking at 10 Hz with no payloads keeps both sides alive well past
	// the timeout, because empty payloads refresh last_recv.
	w := newWorld(t, 30*time.Second, 1)
	w.connect(t, 300*time.Millisecond)

	for i := 0; i < 30; i++ {
		w.tick(100 * time.Millisecond)
	}
	if w.client.State() != client.Connected {
		t.Fatalf("client state %v err %v", w.client.State(), w.client.Err())
	}
	if n := w.server.ConnectionCount(); n != 1 {
		t.Fatalf("server reports %d connections", n)
	}
	// Keep-alives never surface as application payloads.
	if _, ok := w.client.Recv(); ok {
		t.Fatalf("keep-alive reached the client application")
	}
	if _, _, ok := w.server.Recv(); ok {
		t.Fatalf("keep-alive reached the server application")
	}
}

func TestMaxPayloadRoundtrip(t *testing.T) {
	w := newWorld(t, 30*time.Second, timeoutSecs)
	w.connect(t, 300*time.Millisecond)

	msg := bytes.Repeat([]byte{0x5A}, netcode.MaxPayload)
	if err := w.client.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	w.tick(10 * time.Millisecond)

	_, payload, ok := w.server.Recv()
	if !ok {
		t.Fatalf("max payload did not arrive")
	}
	if !bytes.Equal(payload, msg) {
		t.Fatalf("max payload corrupted")
	}

	if err := w.client.Send(bytes.Repeat([]byte{1}, netcode.MaxPayload+1)); !errors.Is(err, netcode.ErrPayloadTooLarge) {
		t.Fatalf("oversized payload: got %v", err)
	}
}
