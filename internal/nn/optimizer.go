package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AdamConfig holds Adam hyper-parameters. WeightDecay is an L2 penalty added
// to the gradient before the moment updates.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns lr=1e-3, betas=(0.9, 0.999), eps=1e-8, no decay.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam updates a fixed set of parameters. Parameters that do not require
// gradients at step time are left untouched.
type Adam struct {
	cfg    AdamConfig
	params []*Parameter
	step   int

	m map[*Parameter]*mat.Dense
	v map[*Parameter]*mat.Dense
}

// NewAdam creates an optimizer over params.
func NewAdam(params []*Parameter, cfg AdamConfig) *Adam {
	return &Adam{
		cfg:    cfg,
		params: params,
		m:      make(map[*Parameter]*mat.Dense, len(params)),
		v:      make(map[*Parameter]*mat.Dense, len(params)),
	}
}

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int {
	return a.step
}

// ZeroGrad clears gradients of all optimised parameters.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Step applies one update from the accumulated gradients.
func (a *Adam) Step() {
	a.step++
	c := a.cfg
	bc1 := 1 - math.Pow(c.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(c.Beta2, float64(a.step))

	for _, p := range a.params {
		if !p.RequiresGrad {
			continue
		}
		r, cols := p.Value.Dims()
		m, ok := a.m[p]
		if !ok {
			m = mat.NewDense(r, cols, nil)
			a.m[p] = m
			a.v[p] = mat.NewDense(r, cols, nil)
		}
		v := a.v[p]

		for i := 0; i < r; i++ {
			for j := 0; j < cols; j++ {
				w := p.Value.At(i, j)
				g := p.Grad.At(i, j) + c.WeightDecay*w

				mij := c.Beta1*m.At(i, j) + (1-c.Beta1)*g
				vij := c.Beta2*v.At(i, j) + (1-c.Beta2)*g*g
				m.Set(i, j, mij)
				v.Set(i, j, vij)

				mHat := mij / bc1
				vHat := vij / bc2
				p.Value.Set(i, j, w-c.LearningRate*mHat/(math.Sqrt(vHat)+c.Epsilon))
			}
		}
	}
}
