package testutil

import (
	"sync"
	"time"
)

// Epoch is the time of sequence number 0.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock provides a thread-safe monotonic logical clock for tests.
//
// Each tick is one millisecond after Epoch, so audit log dates are strictly
// increasing and identical across runs. The clock can be reset for test
// reuse.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{seq: 0}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Now advances the clock and returns the time of the new tick. It has the
// signature of time.Now, so it can be passed to engine.WithNow.
func (c *DeterministicClock) Now() time.Time {
	return At(c.Next())
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0.
//
// After Reset(), the next call to Next() returns 1.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// At returns the time of sequence number seq.
func At(seq int64) time.Time {
	return Epoch.Add(time.Duration(seq) * time.Millisecond)
}
