package report

import (
	"math"

	"causalfix/internal/errors"
	"causalfix/internal/intervention"
	"causalfix/internal/nn"
	"causalfix/internal/sem"
	"causalfix/ports"

	"gonum.org/v1/gonum/stat"
)

// Association is the Pearson correlation between a proxy and the target
// output, pooled over every intervened sample, with a permutation p-value.
type Association struct {
	R            float64 `json:"r"`
	PermutationP float64 `json:"permutation_p"`
	Permutations int     `json:"permutations"`
}

// ProxyDependence compares a proxy's association with the target output
// before and after correction.
type ProxyDependence struct {
	Proxy  string      `json:"proxy"`
	Before Association `json:"before"`
	After  Association `json:"after"`
}

// Options controls the permutation test. Zero Permutations or a nil
// Streams skips it and leaves PermutationP at 1.
type Options struct {
	Permutations int
	Seed         int64
	Streams      ports.RNGPort
}

// DefaultPermutations is used by callers that want a p-value resolution of 0.001.
const DefaultPermutations = 999

// Associate measures how strongly model output follows proxy over the
// training samples of iv.
func Associate(iv *intervention.Interventions, model *nn.Network, proxy string, opts Options) (Association, error) {
	var x, y []float64
	parents := iv.TargetParents()
	for k, s := range iv.TrainingSamples() {
		in, err := sem.Combine(parents, s)
		if err != nil {
			return Association{}, errors.WithCode(errors.CodeInvalidInput, err)
		}
		out, err := model.Predict(in)
		if err != nil {
			return Association{}, errors.Wrapf(err, "predict intervention %d", k)
		}
		col, err := s.Column(proxy)
		if err != nil {
			return Association{}, errors.WithCode(errors.CodeInvalidInput, err)
		}
		x = append(x, col...)
		for i := range col {
			y = append(y, out.At(i, 0))
		}
	}
	if len(x) < 3 {
		return Association{}, errors.InvalidInput("association needs at least three rows")
	}

	a := Association{R: correlation(x, y), PermutationP: 1}
	if opts.Permutations < 1 || opts.Streams == nil {
		return a, nil
	}

	rng := opts.Streams.Stream("report/permutation/"+proxy, opts.Seed)
	shuffled := append([]float64(nil), x...)
	extreme := 0
	for p := 0; p < opts.Permutations; p++ {
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if math.Abs(correlation(shuffled, y)) >= math.Abs(a.R) {
			extreme++
		}
	}
	a.Permutations = opts.Permutations
	a.PermutationP = float64(extreme+1) / float64(opts.Permutations+1)
	return a, nil
}

// correlation is zero when either side is constant.
func correlation(x, y []float64) float64 {
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}
