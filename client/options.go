package client

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Client. Omit an option to use the library default.
type Option func(*options)

type options struct {
	log       zerolog.Logger
	now       func() time.Time
	replay    int
	recvQueue int
}

func defaultOptions() options {
	return options{
		log:       zerolog.Nop(),
		now:       time.Now,
		recvQueue: 256,
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

// WithReplayWindow overrides the replay window size.
func WithReplayWindow(size int) Option {
	return func(o *options) { o.replay = size }
}

// WithRecvQueue bounds the inbound payload queue; packets past the bound
// are dropped.
func WithRecvQueue(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.recvQueue = n
		}
	}
}
