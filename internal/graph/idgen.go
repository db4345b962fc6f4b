package graph

import "sync/atomic"

// IDGenerator hands out node ids that are unique across one generator.
//
// A single generator is shared by the builders of a graph and of all its
// composite bodies, so ids never collide while containers are wired
// together. Safe for concurrent use.
type IDGenerator struct {
	next atomic.Int64
}

// NewIDGenerator creates a generator whose first id is 1.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// NewIDGeneratorAt creates a generator whose first id is start+1.
func NewIDGeneratorAt(start int64) *IDGenerator {
	g := &IDGenerator{}
	g.next.Store(start)
	return g
}

// Next returns the next id.
func (g *IDGenerator) Next() int64 {
	return g.next.Add(1)
}

// Current returns the last id handed out.
func (g *IDGenerator) Current() int64 {
	return g.next.Load()
}

// observe advances the generator past an explicitly chosen id.
func (g *IDGenerator) observe(id int64) {
	for {
		cur := g.next.Load()
		if id <= cur || g.next.CompareAndSwap(cur, id) {
			return
		}
	}
}
