package netcode

const invalidSequence = ^uint64(0)

// Replay is a sliding window that rejects duplicate packet sequences. Each
// slot remembers the exact sequence that last occupied it, so reordered
// arrivals inside the window are admitted exactly once.
type Replay struct {
	mostRecent uint64
	window     []uint64
}

// NewReplay returns a window of the given size; size <= 0 selects
// ReplayWindow.
func NewReplay(size int) *Replay {
	if size <= 0 {
		size = ReplayWindow
	}
	r := &Replay{window: make([]uint64, size)}
	r.Reset()
	return r
}

// Reset forgets all received sequences. Call on a fresh connection.
func (r *Replay) Reset() {
	r.mostRecent = 0
	for i := range r.window {
		r.window[i] = invalidSequence
	}
}

// MostRecent returns the highest sequence admitted so far.
func (r *Replay) MostRecent() uint64 { return r.mostRecent }

// AlreadyReceived records seq and reports whether it was seen before or has
// fallen behind the window.
func (r *Replay) AlreadyReceived(seq uint64) bool {
	if seq == invalidSequence {
		return true
	}
	if seq+uint64(len(r.window)) <= r.mostRecent {
		return true
	}
	if seq > r.mostRecent {
		r.mostRecent = seq
	}
	i := seq % uint64(len(r.window))
	if r.window[i] == invalidSequence {
		r.window[i] = seq
		return false
	}
	if r.window[i] >= seq {
		return true
	}
	r.window[i] = seq
	return false
}
