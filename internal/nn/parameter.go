package nn

import "gonum.org/v1/gonum/mat"

// Parameter is a trainable tensor. Gradients only accumulate while
// RequiresGrad is set.
type Parameter struct {
	Name         string
	Value        *mat.Dense
	Grad         *mat.Dense
	RequiresGrad bool
}

func newParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:         name,
		Value:        mat.NewDense(rows, cols, nil),
		Grad:         mat.NewDense(rows, cols, nil),
		RequiresGrad: true,
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

func (p *Parameter) accumulate(g mat.Matrix) {
	if !p.RequiresGrad {
		return
	}
	p.Grad.Add(p.Grad, g)
}

func (p *Parameter) clone() *Parameter {
	r, c := p.Value.Dims()
	return &Parameter{
		Name:         p.Name,
		Value:        mat.DenseCopyOf(p.Value),
		Grad:         mat.NewDense(r, c, nil),
		RequiresGrad: p.RequiresGrad,
	}
}
