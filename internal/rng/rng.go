// Package rng supplies the uniform draw source consumed by the sampler.
// The sampling core only ever calls Float64; the generation algorithm is
// the caller's business.
package rng

import "math/rand"

// Generator yields uniform draws in [0, 1). One generator belongs to one
// request; implementations need not be safe for concurrent use, the sampler
// guarantees a request's generator is only touched by one task at a time.
type Generator interface {
	Float64() float64
}

// New returns a seeded math/rand generator.
func New(seed int64) Generator {
	return rand.New(rand.NewSource(seed))
}

// Split returns n generators seeded deterministically from a base seed,
// one per request slot.
func Split(seed int64, n int) []Generator {
	gens := make([]Generator, n)
	for i := range gens {
		gens[i] = New(seed + int64(i))
	}
	return gens
}

// Fixed is a Generator that replays a canned sequence of draws, repeating
// the last value once exhausted. Tests use it to pin sampling decisions.
type Fixed struct {
	Draws []float64
	next  int
}

func (f *Fixed) Float64() float64 {
	if len(f.Draws) == 0 {
		return 0
	}
	if f.next >= len(f.Draws) {
		return f.Draws[len(f.Draws)-1]
	}
	v := f.Draws[f.next]
	f.next++
	return v
}
