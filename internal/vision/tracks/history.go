package tracks

import "time"

// Observation is one associated centroid.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
}

// History is a fixed-capacity ring of observations. Pushing onto a full
// ring evicts the oldest entry. The zero value has no capacity; use
// NewHistory.
type History struct {
	buf   []Observation
	start int
	n     int
}

// NewHistory allocates a ring holding at most capacity observations.
// Capacities below 2 are raised to 2 so a speed window always fits.
func NewHistory(capacity int) *History {
	if capacity < 2 {
		capacity = 2
	}
	return &History{buf: make([]Observation, capacity)}
}

// Push appends o, evicting the oldest observation when full.
func (h *History) Push(o Observation) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = o
		h.n++
		return
	}
	h.buf[h.start] = o
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of stored observations.
func (h *History) Len() int { return h.n }

// Cap returns the ring capacity.
func (h *History) Cap() int { return len(h.buf) }

// At returns the i-th observation, oldest first.
func (h *History) At(i int) Observation {
	return h.buf[(h.start+i)%len(h.buf)]
}

// Last returns the newest observation. ok is false when empty.
func (h *History) Last() (Observation, bool) {
	if h.n == 0 {
		return Observation{}, false
	}
	return h.At(h.n - 1), true
}

// Slice copies the observations out, oldest first.
func (h *History) Slice() []Observation {
	out := make([]Observation, h.n)
	for i := range out {
		out[i] = h.At(i)
	}
	return out
}
