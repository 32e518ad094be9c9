// Package draw generates the n×1 columns used both for root distributions of
// a simulated SEM and for synthetic interventions on proxies.
package draw

import (
	"fmt"
	"math/rand"
	"sort"

	"causalfix/domain/core"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Known function names.
const (
	Randn     = "randn"
	Const     = "const"
	Rand      = "rand"
	Range     = "range"
	Bernoulli = "bernoulli"
)

type generator struct {
	arity int
	fill  func(rng *rand.Rand, n int, p []float64) []float64
}

var known = map[string]generator{
	// mean, std
	Randn: {2, func(rng *rand.Rand, n int, p []float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = rng.NormFloat64()*p[1] + p[0]
		}
		return out
	}},
	Const: {1, func(_ *rand.Rand, n int, p []float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = p[0]
		}
		return out
	}},
	// start, end: u*(start-end)+end, uniform between the two
	Rand: {2, func(rng *rand.Rand, n int, p []float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = rng.Float64()*(p[0]-p[1]) + p[1]
		}
		return out
	}},
	// a, b: n evenly spaced points including both ends
	Range: {2, func(_ *rand.Rand, n int, p []float64) []float64 {
		out := make([]float64, n)
		if n == 1 {
			out[0] = p[0]
			return out
		}
		return floats.Span(out, p[0], p[1])
	}},
	Bernoulli: {1, func(rng *rand.Rand, n int, p []float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			if rng.Float64() < p[0] {
				out[i] = 1
			}
		}
		return out
	}},
}

// Known lists the supported function names, sorted.
func Known() []string {
	out := make([]string, 0, len(known))
	for k := range known {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate checks the name and parameter count without drawing.
func Validate(name string, params []float64) error {
	g, ok := known[name]
	if !ok {
		return fmt.Errorf("%w: %q (known: %v)", core.ErrUnknownFunction, name, Known())
	}
	if len(params) != g.arity {
		return fmt.Errorf("%w: %s takes %d, got %d", core.ErrArity, name, g.arity, len(params))
	}
	if name == Bernoulli && (params[0] < 0 || params[0] > 1) {
		return fmt.Errorf("bernoulli probability %v outside [0, 1]", params[0])
	}
	if name == Randn && params[1] < 0 {
		return fmt.Errorf("randn standard deviation %v is negative", params[1])
	}
	return nil
}

// Column draws n values from the named function as an n×1 matrix.
func Column(name string, params []float64, n int, rng *rand.Rand) (*mat.Dense, error) {
	if err := Validate(name, params); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: cannot draw %d values", core.ErrInsufficientData, n)
	}
	return mat.NewDense(n, 1, known[name].fill(rng, n, params)), nil
}
