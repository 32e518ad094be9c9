package rng

import (
	"hash/fnv"
	"math/rand"
)

// Seeded implements ports.RNGPort by mixing the stream name into the seed.
type Seeded struct{}

// NewSeeded returns the default stream factory.
func NewSeeded() *Seeded {
	return &Seeded{}
}

// Stream creates a deterministic RNG stream for a named operation
func (s *Seeded) Stream(name string, seed int64) *rand.Rand {
	return rand.New(rand.NewSource(DeriveSeed(name, seed)))
}

// DeriveSeed combines a base seed with a stream name.
func DeriveSeed(name string, seed int64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return seed ^ int64(h.Sum64())
}
