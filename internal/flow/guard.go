package flow

import "sync/atomic"

// Guard hands out request generations. An async result may only be applied
// while its generation is still the latest one issued.
//
// Guard is safe for concurrent use.
type Guard struct {
	gen atomic.Int64
}

// Next issues a new generation, superseding every earlier one.
func (g *Guard) Next() int64 {
	return g.gen.Add(1)
}

// Current returns the latest generation without issuing a new one.
func (g *Guard) Current() int64 {
	return g.gen.Load()
}

// IsCurrent reports whether gen is still the latest generation.
func (g *Guard) IsCurrent(gen int64) bool {
	return g.gen.Load() == gen
}
