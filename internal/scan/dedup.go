package scan

import (
	"sync"
	"time"
)

// Deduplicator suppresses decoder re-fires. Camera decoders emit the same
// physical code many times per second, so any decode arriving within the
// window of the previous accepted one is dropped, regardless of payload.
// The timer is global to the scanning session: the hardware holds a single
// code in frame at a time.
type Deduplicator struct {
	window time.Duration
	mu     sync.Mutex
	last   time.Time
}

// NewDeduplicator creates a deduplicator with the given window.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = 300 * time.Millisecond
	}
	return &Deduplicator{window: window}
}

// Accept reports whether a decode arriving at now should be processed. No
// payload validation happens here; malformed payloads are rejected downstream.
func (d *Deduplicator) Accept(payload string, now time.Time) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.last.IsZero() && now.Sub(d.last) < d.window {
		return "", false
	}
	d.last = now
	return payload, true
}

// Reset clears the gate, e.g. when a new session starts.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	d.last = time.Time{}
	d.mu.Unlock()
}
