package ports

import (
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// Stream returns a generator for a named operation. The same name and
	// seed always yield the same sequence; different names are independent.
	Stream(name string, seed int64) *rand.Rand
}
