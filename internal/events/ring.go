package events

import "sync"

// Ring keeps the most recent events in a fixed-size circular buffer.
type Ring struct {
	buf  []Event
	size int
	head int // next write position
	full bool
	mu   sync.RWMutex
}

// NewRing creates a ring holding up to size events.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 200
	}
	return &Ring{buf: make([]Event, size), size: size}
}

// Add stores e, overwriting the oldest event when full.
func (r *Ring) Add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = e
	r.head = (r.head + 1) % r.size
	if r.head == 0 {
		r.full = true
	}
}

// Last returns up to n events, oldest first. n <= 0 returns everything held.
func (r *Ring) Last(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.head
	if r.full {
		count = r.size
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]Event, n)
	start := (r.head - n + r.size) % r.size
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%r.size]
	}
	return out
}

// Len returns the number of events held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return r.size
	}
	return r.head
}

// Capacity returns the maximum number of events held.
func (r *Ring) Capacity() int {
	return r.size
}
