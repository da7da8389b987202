package endpoint

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/oniproject/tto/observability"
)

// DefaultCapacity bounds established connections unless overridden.
const DefaultCapacity = 64

// Option configures a Server. Omit an option to use the library default.
type Option func(*options)

type options struct {
	log       zerolog.Logger
	now       func() time.Time
	obs       observability.ServerObserver
	capacity  int
	replay    int
	recvQueue int
}

func defaultOptions() options {
	return options{
		log:       zerolog.Nop(),
		now:       time.Now,
		obs:       observability.Nop{},
		capacity:  DefaultCapacity,
		recvQueue: 1024,
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClock overrides the wall clock, for deterministic tests driven by a
// simulator.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithObserver wires metric events, e.g. to the prom package.
func WithObserver(obs observability.ServerObserver) Option {
	return func(o *options) {
		if obs != nil {
			o.obs = obs
		}
	}
}

// WithCapacity bounds the connection table. A full server answers further
// valid requests with an encrypted denied packet.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithReplayWindow overrides the per-connection replay window size.
func WithReplayWindow(size int) Option {
	return func(o *options) { o.replay = size }
}

// WithRecvQueue bounds the inbound payload queue shared by all peers.
func WithRecvQueue(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.recvQueue = n
		}
	}
}
