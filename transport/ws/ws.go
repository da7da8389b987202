// Package ws bridges the datagram protocol over WebSocket for clients that
// cannot open UDP sockets. Every datagram travels as one binary message;
// the bridge never merges or splits them.
package ws

import (
	"errors"
	"net/http"
	"net/netip"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/oniproject/tto/netcode"
	"github.com/oniproject/tto/transport"
)

var (
	ErrClosed      = errors.New("ws: closed")
	ErrUnknownPeer = errors.New("ws: unknown peer")
)

// recvQueueLen bounds buffered inbound datagrams per bridge and per client
// conn; overflow drops the newest datagram, matching UDP semantics.
const recvQueueLen = 256

type datagram struct {
	from netip.AddrPort
	buf  []byte
}

// Conn is the client side of the bridge: a Conn connected to exactly one
// server. WriteTo ignores the address and sends to the dialed peer.
type Conn struct {
	mu   sync.Mutex // serializes writes
	ws   *websocket.Conn
	peer netip.AddrPort

	recv chan []byte
	done chan struct{}
	once sync.Once
}

// Dial connects to a bridge endpoint ("ws://host/path").
func Dial(url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	peer, err := netip.ParseAddrPort(ws.RemoteAddr().String())
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	c := &Conn{
		ws:   ws,
		peer: peer,
		recv: make(chan []byte, recvQueueLen),
		done: make(chan struct{}),
	}
	ws.SetReadLimit(netcode.MTU)
	go c.readPump()
	return c, nil
}

func (c *Conn) readPump() {
	defer c.Close()
	for {
		typ, buf, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		select {
		case c.recv <- buf:
		default:
			// Queue full: drop, exactly like a full UDP socket buffer.
		}
	}
}

func (c *Conn) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	select {
	case buf := <-c.recv:
		return copy(p, buf), c.peer, nil
	case <-c.done:
		return 0, netip.AddrPort{}, ErrClosed
	default:
		return 0, netip.AddrPort{}, transport.ErrWouldBlock
	}
}

func (c *Conn) WriteTo(p []byte, _ netip.AddrPort) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Peer returns the bridged server address for Client.Connect.
func (c *Conn) Peer() netip.AddrPort { return c.peer }

func (c *Conn) LocalAddr() netip.AddrPort {
	local, err := netip.ParseAddrPort(c.ws.LocalAddr().String())
	if err != nil {
		return netip.AddrPort{}
	}
	return local
}

func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
	return nil
}

// Bridge is the server side: it aggregates every upgraded WebSocket into one
// Conn, so the protocol server sees its usual multiplexed datagram socket
// keyed by peer address.
type Bridge struct {
	local    netip.AddrPort
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[netip.AddrPort]*websocket.Conn

	recv chan datagram
	done chan struct{}
	once sync.Once
}

// NewBridge creates a bridge reporting local as its address.
func NewBridge(local netip.AddrPort) *Bridge {
	return &Bridge{
		local:    local,
		upgrader: websocket.Upgrader{ReadBufferSize: netcode.MTU, WriteBufferSize: netcode.MTU},
		peers:    make(map[netip.AddrPort]*websocket.Conn),
		recv:     make(chan datagram, recvQueueLen),
		done:     make(chan struct{}),
	}
}

// Handler upgrades incoming requests and pumps their messages into the
// bridge's receive queue.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		peer, err := netip.ParseAddrPort(ws.RemoteAddr().String())
		if err != nil {
			_ = ws.Close()
			return
		}
		ws.SetReadLimit(netcode.MTU)

		b.mu.Lock()
		if old, ok := b.peers[peer]; ok {
			_ = old.Close()
		}
		b.peers[peer] = ws
		b.mu.Unlock()

		defer func() {
			b.mu.Lock()
			if b.peers[peer] == ws {
				delete(b.peers, peer)
			}
			b.mu.Unlock()
			_ = ws.Close()
		}()

		for {
			typ, buf, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			select {
			case b.recv <- datagram{from: peer, buf: buf}:
			case <-b.done:
				return
			default:
			}
		}
	})
}

func (b *Bridge) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-b.recv:
		return copy(p, d.buf), d.from, nil
	case <-b.done:
		return 0, netip.AddrPort{}, ErrClosed
	default:
		return 0, netip.AddrPort{}, transport.ErrWouldBlock
	}
}

func (b *Bridge) WriteTo(p []byte, addr netip.AddrPort) (int, error) {
	// gorilla conns allow one concurrent writer; the bridge lock covers
	// both the map and the write.
	b.mu.Lock()
	defer b.mu.Unlock()
	ws, ok := b.peers[addr]
	if !ok {
		return 0, ErrUnknownPeer
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *Bridge) LocalAddr() netip.AddrPort { return b.local }

func (b *Bridge) Close() error {
	b.once.Do(func() {
		close(b.done)
		b.mu.Lock()
		for _, ws := range b.peers {
			_ = ws.Close()
		}
		b.peers = map[netip.AddrPort]*websocket.Conn{}
		b.mu.Unlock()
	})
	return nil
}
