// Package simulator provides an in-memory multiplexed UDP substitute with
// per-edge latency, jitter, loss, and duplication, driven by an explicit
// clock. All endpoints in a test share one Simulator; it is internally
// synchronized.
package simulator

import (
	"math/rand/v2"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DeadTime is how long an undelivered datagram may sit in the switch before
// it is discarded.
const DeadTime = 42 * time.Second

// Config shapes one directed edge.
type Config struct {
	Latency time.Duration
	// Jitter shifts each delivery by a uniform value in [-Jitter, +Jitter].
	Jitter time.Duration
	// Loss is the drop probability in [0, 1].
	Loss float64
	// Duplicate is the probability of delivering a second copy.
	Duplicate float64
}

type edge struct {
	from, to netip.AddrPort
}

type entry struct {
	from     netip.AddrPort
	to       netip.AddrPort
	delivery time.Time
	dead     time.Time
	payload  []byte
}

// Simulator is the shared switch. The zero value is not usable; call New.
type Simulator struct {
	mu      sync.Mutex
	now     time.Time
	rng     *rand.Rand
	log     zerolog.Logger
	edges   map[edge]Config
	entries []entry
	pending map[netip.AddrPort][]entry
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithSeed makes the loss/jitter/duplication rolls reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Simulator) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithStart sets the initial simulator time.
func WithStart(now time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// WithLogger attaches a logger; drops and duplicates are traced at debug.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Simulator) { s.log = log }
}

// New constructs an empty simulator.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		now:     time.Unix(0, 0),
		rng:     rand.New(rand.NewPCG(1, 2)),
		log:     zerolog.Nop(),
		edges:   make(map[edge]Config),
		pending: make(map[netip.AddrPort][]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Socket binds a simulated socket on addr.
func (s *Simulator) Socket(addr netip.AddrPort) *Socket {
	return &Socket{sim: s, local: addr}
}

// AddMapping shapes the directed edge from→to. A zero to applies to every
// destination of from.
func (s *Simulator) AddMapping(from, to netip.AddrPort, cfg Config) {
	s.mu.Lock()
	s.edges[edge{from, to}] = cfg
	s.mu.Unlock()
}

// RemoveMapping clears shaping for the edge; traffic flows unshaped again.
func (s *Simulator) RemoveMapping(from, to netip.AddrPort) {
	s.mu.Lock()
	delete(s.edges, edge{from, to})
	s.mu.Unlock()
}

// Now returns the simulator clock.
func (s *Simulator) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the clock to now and migrates every datagram whose delivery
// time has passed into its destination's receive queue. Pump it regularly;
// nothing is delivered between calls.
func (s *Simulator) Advance(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now

	kept := s.entries[:0]
	for _, e := range s.entries {
		switch {
		case !e.dead.After(now):
			// Expired in flight.
		case !e.delivery.After(now):
			s.pending[e.to] = append(s.pending[e.to], e)
		default:
			kept = append(kept, e)
		}
	}
	s.entries = kept

	for to, q := range s.pending {
		live := q[:0]
		for _, e := range q {
			if e.dead.After(now) {
				live = append(live, e)
			}
		}
		s.pending[to] = live
	}
}

// AdvanceBy steps the clock forward by d and returns the new time.
func (s *Simulator) AdvanceBy(d time.Duration) time.Time {
	now := s.Now().Add(d)
	s.Advance(now)
	return now
}

// Clear discards every queued and in-flight datagram, keeping edges and the
// clock. Useful when a simulator is reused across scenarios.
func (s *Simulator) Clear() {
	s.mu.Lock()
	s.entries = s.entries[:0]
	s.pending = make(map[netip.AddrPort][]entry)
	s.mu.Unlock()
}

func (s *Simulator) config(from, to netip.AddrPort) (Config, bool) {
	if cfg, ok := s.edges[edge{from, to}]; ok {
		return cfg, true
	}
	if cfg, ok := s.edges[edge{from, netip.AddrPort{}}]; ok {
		return cfg, true
	}
	return Config{}, false
}

// send queues one datagram; it copies payload. Caller must not hold mu.
func (s *Simulator) send(from, to netip.AddrPort, payload []byte) {
	buf := append([]byte(nil), payload...)

	s.mu.Lock()
	defer s.mu.Unlock()
	dead := s.now.Add(DeadTime)

	cfg, shaped := s.config(from, to)
	if !shaped {
		s.entries = append(s.entries, entry{from: from, to: to, delivery: s.now, dead: dead, payload: buf})
		return
	}
	if cfg.Loss > 0 && s.rng.Float64() < cfg.Loss {
		s.log.Debug().Stringer("from", from).Stringer("to", to).Int("len", len(buf)).Msg("simulator drop")
		return
	}
	delivery := s.now.Add(cfg.Latency + s.jitter(cfg.Jitter))
	if cfg.Duplicate > 0 && s.rng.Float64() < cfg.Duplicate {
		dup := delivery.Add(s.smallJitter(cfg.Jitter))
		s.log.Debug().Stringer("from", from).Stringer("to", to).Msg("simulator duplicate")
		s.entries = append(s.entries, entry{from: from, to: to, delivery: dup, dead: dead, payload: append([]byte(nil), buf...)})
	}
	s.entries = append(s.entries, entry{from: from, to: to, delivery: delivery, dead: dead, payload: buf})
}

func (s *Simulator) jitter(j time.Duration) time.Duration {
	if j <= 0 {
		return 0
	}
	return time.Duration((s.rng.Float64()*2 - 1) * float64(j))
}

func (s *Simulator) smallJitter(j time.Duration) time.Duration {
	if j <= 0 {
		j = time.Millisecond
	}
	return time.Duration(s.rng.Float64() * float64(j))
}

// recv pops the oldest pending datagram for addr.
func (s *Simulator) recv(addr netip.AddrPort, p []byte) (int, netip.AddrPort, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.pending[addr]
	if len(q) == 0 {
		return 0, netip.AddrPort{}, false
	}
	e := q[0]
	s.pending[addr] = q[1:]
	return copy(p, e.payload), e.from, true
}

func (s *Simulator) drop(addr netip.AddrPort) {
	s.mu.Lock()
	delete(s.pending, addr)
	s.mu.Unlock()
}
