package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// Short returns the first 12 hex characters
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// SpecHash fingerprints an intervention specification
type SpecHash Hash

func (h SpecHash) String() string { return Hash(h).String() }

// Short returns the first 12 hex characters
func (h SpecHash) Short() string { return Hash(h).Short() }

// ComputeSpecHash hashes proxy -> function -> parameter tuples independent of
// map iteration order.
func ComputeSpecHash(spec map[string]map[string][][]float64) SpecHash {
	proxies := make([]string, 0, len(spec))
	for p := range spec {
		proxies = append(proxies, p)
	}
	sort.Strings(proxies)

	var data strings.Builder
	for _, p := range proxies {
		funcs := make([]string, 0, len(spec[p]))
		for f := range spec[p] {
			funcs = append(funcs, f)
		}
		sort.Strings(funcs)

		data.WriteString(p)
		data.WriteByte('{')
		for _, f := range funcs {
			data.WriteString(f)
			data.WriteString(fmt.Sprintf("%v", spec[p][f]))
			data.WriteByte(';')
		}
		data.WriteByte('}')
	}
	return SpecHash(NewHash([]byte(data.String())))
}
