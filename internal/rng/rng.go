// Package rng provides the broker's single random source. A seeded Source
// makes every draw in the propagation model and drop oracle reproducible
// across runs; an unseeded one is used for ordinary operation.
package rng

import (
	"math/rand"
	"sync"
	"time"
)

// Source is a concurrency-safe uniform random source. All draws for a
// single broker instance come from one Source so that a fixed seed
// deterministically reproduces an entire run.
type Source struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a Source seeded deterministically.
func New(seed int64) *Source {
	return &Source{rnd: rand.New(rand.NewSource(seed))}
}

// NewRandom returns a Source seeded from the current time, for runs where
// reproducibility isn't required.
func NewRandom() *Source {
	return New(time.Now().UnixNano())
}

// Float64 returns a uniform value in [0, 1).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}
