package engine

import "sync/atomic"

// Clock allocates process instance ids.
//
// Ids are strictly increasing within one engine. The engine seeds the
// clock from the highest id in the store and raises it again before each
// start, so ids written by other processes are skipped.
//
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next id is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next id.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last id handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Observe raises the clock to at least v.
func (c *Clock) Observe(v int64) {
	for {
		cur := c.seq.Load()
		if v <= cur || c.seq.CompareAndSwap(cur, v) {
			return
		}
	}
}
