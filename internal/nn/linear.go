package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear computes x·W + b with W of shape in×out and b of shape 1×out.
type Linear struct {
	Weight *Parameter
	Bias   *Parameter

	in mat.Matrix // last training input, kept for Backward
}

// NewLinear initialises W and b uniformly in ±1/sqrt(in).
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		Weight: newParameter(name+".weight", in, out),
		Bias:   newParameter(name+".bias", 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	l.Weight.Value.Apply(func(_, _ int, _ float64) float64 { return (2*rng.Float64() - 1) * bound }, l.Weight.Value)
	l.Bias.Value.Apply(func(_, _ int, _ float64) float64 { return (2*rng.Float64() - 1) * bound }, l.Bias.Value)
	return l
}

// In returns the input width.
func (l *Linear) In() int {
	r, _ := l.Weight.Value.Dims()
	return r
}

// Out returns the output width.
func (l *Linear) Out() int {
	_, c := l.Weight.Value.Dims()
	return c
}

func (l *Linear) forward(x mat.Matrix, record bool) (*mat.Dense, error) {
	r, c := x.Dims()
	if c != l.In() {
		return nil, fmt.Errorf("%s: input has %d columns, want %d", l.Weight.Name, c, l.In())
	}
	out := mat.NewDense(r, l.Out(), nil)
	out.Mul(x, l.Weight.Value)
	bias := l.Bias.Value
	out.Apply(func(_, j int, v float64) float64 { return v + bias.At(0, j) }, out)
	if record {
		l.in = x
	}
	return out, nil
}

// backward accumulates parameter gradients and returns the gradient w.r.t.
// the recorded input.
func (l *Linear) backward(grad *mat.Dense) *mat.Dense {
	if l.Weight.RequiresGrad {
		var gw mat.Dense
		gw.Mul(l.in.T(), grad)
		l.Weight.accumulate(&gw)
	}
	if l.Bias.RequiresGrad {
		r, c := grad.Dims()
		gb := mat.NewDense(1, c, nil)
		for j := 0; j < c; j++ {
			var s float64
			for i := 0; i < r; i++ {
				s += grad.At(i, j)
			}
			gb.Set(0, j, s)
		}
		l.Bias.accumulate(gb)
	}
	var gx mat.Dense
	gx.Mul(grad, l.Weight.Value.T())
	return &gx
}

func (l *Linear) clone() *Linear {
	return &Linear{Weight: l.Weight.clone(), Bias: l.Bias.clone()}
}
