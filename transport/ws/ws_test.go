package ws_test

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/oniproject/tto/client"
	"github.com/oniproject/tto/controlplane/issuer"
	"github.com/oniproject/tto/endpoint"
	"github.com/oniproject/tto/transport"
	"github.com/oniproject/tto/transport/ws"
)

const testProtocol = 0x1122334455667788

func startBridge(t *testing.T) (*ws.Bridge, string, netip.AddrPort) {
	t.Helper()
	// The bridge's local address doubles as the server identity in
	// connect tokens, so derive it from the HTTP listener.
	hs := httptest.NewUnstartedServer(nil)
	local := netip.MustParseAddrPort(hs.Listener.Addr().String())
	bridge := ws.NewBridge(local)
	hs.Config.Handler = bridge.Handler()
	hs.Start()
	t.Cleanup(hs.Close)
	t.Cleanup(func() { _ = bridge.Close() })
	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	return bridge, url, local
}

func waitRead(t *testing.T, conn transport.Conn, deadline time.Duration) ([]byte, netip.AddrPort) {
	t.Helper()
	var buf [2048]byte
	for start := time.Now(); time.Since(start) < deadline; {
		n, from, err := conn.ReadFrom(buf[:])
		if err == nil {
			return append([]byte(nil), buf[:n]...), from
		}
		if !errors.Is(err, transport.ErrWouldBlock) {
			t.Fatalf("ReadFrom failed: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("nothing to read within %v", deadline)
	return nil, netip.AddrPort{}
}

func TestDatagramRoundtrip(t *testing.T) {
	bridge, url, _ := startBridge(t)

	conn, err := ws.Dial(url)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// Client → bridge.
	msg := []byte{1, 2, 3, 4}
	if _, err := conn.WriteTo(msg, conn.Peer()); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	got, from := waitRead(t, bridge, 2*time.Second)
	if !bytes.Equal(got, msg) {
		t.Fatalf("bridge got %v, want %v", got, msg)
	}

	// Bridge → client, addressed by the peer the bridge observed.
	reply := []byte{9, 8, 7}
	if _, err := bridge.WriteTo(reply, from); err != nil {
		t.Fatalf("bridge WriteTo failed: %v", err)
	}
	got, _ = waitRead(t, conn, 2*time.Second)
	if !bytes.Equal(got, reply) {
		t.Fatalf("client got %v, want %v", got, reply)
	}
}

func TestWriteToUnknownPeer(t *testing.T) {
	bridge, _, _ := startBridge(t)
	if _, err := bridge.WriteTo([]byte{1}, netip.MustParseAddrPort("127.0.0.1:1")); !errors.Is(err, ws.ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestProtocolHandshakeOverBridge(t *testing.T) {
	bridge, url, local := startBridge(t)

	keys, err := issuer.Generate()
	if err != nil {
		t.Fatalf("issuer.Generate failed: %v", err)
	}
	srv, err := endpoint.New(testProtocol, keys.Key(), bridge)
	if err != nil {
		t.Fatalf("endpoint.New failed: %v", err)
	}

	tok, err := keys.Mint(issuer.MintParams{
		ClientID:    1,
		Protocol:    testProtocol,
		Expire:      30 * time.Second,
		TimeoutSecs: 15,
		Addrs:       []netip.AddrPort{local},
	})
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	conn, err := ws.Dial(url)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	cl, err := client.New(testProtocol, tok, conn)
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	if err := cl.Connect(conn.Peer()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && cl.State() != client.Connected {
		cl.Update()
		srv.Update()
		time.Sleep(10 * time.Millisecond)
	}
	if cl.State() != client.Connected {
		t.Fatalf("state %v err %v", cl.State(), cl.Err())
	}

	if err := cl.Send([]byte("over websocket")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	recvDeadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(recvDeadline) {
		cl.Update()
		srv.Update()
		if _, payload, ok := srv.Recv(); ok {
			if string(payload) != "over websocket" {
				t.Fatalf("payload %q", payload)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("payload never reached the server")
}
