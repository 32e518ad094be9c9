// Package nn implements the small feed-forward networks that act as the
// learned structural equations of an SEM, with manual back-propagation and an
// Adam optimizer.
package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Network maps the concatenated values of a vertex's parents to the vertex.
//
// The first stage is one Linear per parent (Inputs[i] reads the columns of
// parent i) with the outputs summed. Later stages are plain Linear layers.
// Activation is applied after every stage except the last, so a network with
// no hidden layers is an affine map.
type Network struct {
	InputDims  []int
	Inputs     []*Linear
	Layers     []*Linear
	Activation Activation

	pre []*mat.Dense // pre-activations of the activated stages, last Forward
}

// Architecture describes a Network to build.
type Architecture struct {
	InputDims  []int
	Hidden     []int
	Output     int
	Activation Activation
}

// NewNetwork builds and randomly initialises a network.
func NewNetwork(name string, arch Architecture, rng *rand.Rand) (*Network, error) {
	if len(arch.InputDims) == 0 {
		return nil, fmt.Errorf("%s: network needs at least one input", name)
	}
	if arch.Output < 1 {
		return nil, fmt.Errorf("%s: output width must be positive", name)
	}
	for i, d := range arch.InputDims {
		if d < 1 {
			return nil, fmt.Errorf("%s: input %d has width %d", name, i, d)
		}
	}
	widths := append(append([]int(nil), arch.Hidden...), arch.Output)
	for _, w := range widths {
		if w < 1 {
			return nil, fmt.Errorf("%s: layer widths must be positive", name)
		}
	}

	n := &Network{
		InputDims:  append([]int(nil), arch.InputDims...),
		Activation: arch.Activation,
	}
	for i, d := range arch.InputDims {
		n.Inputs = append(n.Inputs, NewLinear(fmt.Sprintf("%s.layers.0.%d", name, i), d, widths[0], rng))
	}
	for k := 1; k < len(widths); k++ {
		n.Layers = append(n.Layers, NewLinear(fmt.Sprintf("%s.layers.%d", name, k), widths[k-1], widths[k], rng))
	}
	return n, nil
}

// InputWidth is the number of columns Forward expects.
func (n *Network) InputWidth() int {
	var w int
	for _, d := range n.InputDims {
		w += d
	}
	return w
}

// OutputWidth is the number of columns Forward returns.
func (n *Network) OutputWidth() int {
	if len(n.Layers) > 0 {
		return n.Layers[len(n.Layers)-1].Out()
	}
	return n.Inputs[0].Out()
}

// Forward evaluates the network and records what Backward needs.
func (n *Network) Forward(x mat.Matrix) (*mat.Dense, error) {
	return n.forward(x, true)
}

// Predict evaluates the network without touching training state, so it is
// safe for concurrent use.
func (n *Network) Predict(x mat.Matrix) (*mat.Dense, error) {
	return n.forward(x, false)
}

func (n *Network) forward(x mat.Matrix, record bool) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != n.InputWidth() {
		return nil, fmt.Errorf("network input has %d columns, want %d", cols, n.InputWidth())
	}

	var pre []*mat.Dense
	h := mat.NewDense(rows, n.Inputs[0].Out(), nil)
	off := 0
	for i, l := range n.Inputs {
		out, err := l.forward(columns(x, off, off+n.InputDims[i]), record)
		if err != nil {
			return nil, err
		}
		h.Add(h, out)
		off += n.InputDims[i]
	}

	for _, l := range n.Layers {
		pre = append(pre, h)
		out, err := l.forward(n.Activation.forward(h), record)
		if err != nil {
			return nil, err
		}
		h = out
	}
	if record {
		n.pre = pre
	}
	return h, nil
}

// Backward propagates grad (w.r.t. the last Forward output) and accumulates
// gradients into every parameter that requires them.
func (n *Network) Backward(grad *mat.Dense) error {
	if len(n.pre) != len(n.Layers) || n.Inputs[0].in == nil {
		return fmt.Errorf("backward called without a recorded forward pass")
	}
	g := grad
	for k := len(n.Layers) - 1; k >= 0; k-- {
		g = n.Layers[k].backward(g)
		g = n.Activation.backward(n.pre[k], g)
	}
	for _, l := range n.Inputs {
		l.backward(g)
	}
	return nil
}

// Parameters lists all parameters: first-stage weights and biases in parent
// order, then later layers.
func (n *Network) Parameters() []*Parameter {
	var out []*Parameter
	for _, l := range n.Inputs {
		out = append(out, l.Weight, l.Bias)
	}
	for _, l := range n.Layers {
		out = append(out, l.Weight, l.Bias)
	}
	return out
}

// Trainable lists the parameters that require gradients.
func (n *Network) Trainable() []*Parameter {
	var out []*Parameter
	for _, p := range n.Parameters() {
		if p.RequiresGrad {
			out = append(out, p)
		}
	}
	return out
}

// Freeze stops gradient accumulation for every parameter.
func (n *Network) Freeze() {
	for _, p := range n.Parameters() {
		p.RequiresGrad = false
	}
}

// ZeroGrad clears every parameter gradient.
func (n *Network) ZeroGrad() {
	for _, p := range n.Parameters() {
		p.ZeroGrad()
	}
}

// Clone returns a deep copy without recorded training state.
func (n *Network) Clone() *Network {
	c := &Network{
		InputDims:  append([]int(nil), n.InputDims...),
		Activation: n.Activation,
	}
	for _, l := range n.Inputs {
		c.Inputs = append(c.Inputs, l.clone())
	}
	for _, l := range n.Layers {
		c.Layers = append(c.Layers, l.clone())
	}
	return c
}

type slicer interface {
	Slice(i, k, j, l int) mat.Matrix
}

func columns(x mat.Matrix, from, to int) mat.Matrix {
	if s, ok := x.(slicer); ok {
		r, _ := x.Dims()
		return s.Slice(0, r, from, to)
	}
	r, _ := x.Dims()
	out := mat.NewDense(r, to-from, nil)
	for i := 0; i < r; i++ {
		for j := from; j < to; j++ {
			out.Set(i, j-from, x.At(i, j))
		}
	}
	return out
}
