// Package observability defines the metric events the server emits. The
// prom subpackage exports them to Prometheus; the Nop observer discards
// them.
package observability

import "time"

// DenyReason labels why the server refused an admission attempt.
type DenyReason string

const (
	DenyReasonInvalidRequest DenyReason = "invalid_request"
	DenyReasonBadToken       DenyReason = "bad_token"
	DenyReasonAddrNotAllowed DenyReason = "addr_not_allowed"
	DenyReasonTokenReused    DenyReason = "token_reused"
	DenyReasonServerFull     DenyReason = "server_full"
	DenyReasonBadResponse    DenyReason = "bad_response"
)

// ServerObserver receives server-level metric events.
type ServerObserver interface {
	// ConnCount reports the current established connection count.
	ConnCount(n int)
	// PacketRecv reports one inbound packet by kind, and whether it was
	// accepted.
	PacketRecv(kind string, ok bool)
	// Denied reports a refused admission attempt.
	Denied(reason DenyReason)
	// HandshakeLatency reports pending-entry age at promotion.
	HandshakeLatency(d time.Duration)
}

// Nop discards every event.
type Nop struct{}

func (Nop) ConnCount(int)                  {}
func (Nop) PacketRecv(string, bool)        {}
func (Nop) Denied(DenyReason)              {}
func (Nop) HandshakeLatency(time.Duration) {}
