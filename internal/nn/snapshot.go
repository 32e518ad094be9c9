package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LinearState is the serialisable form of a Linear.
type LinearState struct {
	Weight [][]float64 `json:"weight"`
	Bias   []float64   `json:"bias"`
}

// State is the serialisable form of a Network.
type State struct {
	InputDims  []int         `json:"input_dims"`
	Activation Activation    `json:"activation"`
	Inputs     []LinearState `json:"inputs"`
	Layers     []LinearState `json:"layers"`
}

// Snapshot captures current parameter values.
func (n *Network) Snapshot() State {
	s := State{
		InputDims:  append([]int(nil), n.InputDims...),
		Activation: n.Activation,
	}
	for _, l := range n.Inputs {
		s.Inputs = append(s.Inputs, l.state())
	}
	for _, l := range n.Layers {
		s.Layers = append(s.Layers, l.state())
	}
	return s
}

// FromState rebuilds a network from a snapshot. All parameters require
// gradients.
func FromState(name string, s State) (*Network, error) {
	if len(s.Inputs) != len(s.InputDims) || len(s.Inputs) == 0 {
		return nil, fmt.Errorf("%s: %d input layers for %d inputs", name, len(s.Inputs), len(s.InputDims))
	}
	n := &Network{InputDims: append([]int(nil), s.InputDims...), Activation: s.Activation}
	for i, ls := range s.Inputs {
		l, err := linearFromState(fmt.Sprintf("%s.layers.0.%d", name, i), ls)
		if err != nil {
			return nil, err
		}
		if l.In() != s.InputDims[i] {
			return nil, fmt.Errorf("%s: input %d has width %d, weight expects %d", name, i, s.InputDims[i], l.In())
		}
		n.Inputs = append(n.Inputs, l)
	}
	prev := n.Inputs[0].Out()
	for k, ls := range s.Layers {
		l, err := linearFromState(fmt.Sprintf("%s.layers.%d", name, k+1), ls)
		if err != nil {
			return nil, err
		}
		if l.In() != prev {
			return nil, fmt.Errorf("%s: layer %d expects %d inputs, previous stage gives %d", name, k+1, l.In(), prev)
		}
		prev = l.Out()
		n.Layers = append(n.Layers, l)
	}
	return n, nil
}

func (l *Linear) state() LinearState {
	r, c := l.Weight.Value.Dims()
	s := LinearState{Weight: make([][]float64, r), Bias: make([]float64, c)}
	for i := 0; i < r; i++ {
		s.Weight[i] = mat.Row(nil, i, l.Weight.Value)
	}
	for j := 0; j < c; j++ {
		s.Bias[j] = l.Bias.Value.At(0, j)
	}
	return s
}

func linearFromState(name string, s LinearState) (*Linear, error) {
	if len(s.Weight) == 0 || len(s.Weight[0]) == 0 {
		return nil, fmt.Errorf("%s: empty weight", name)
	}
	in, out := len(s.Weight), len(s.Weight[0])
	if len(s.Bias) != out {
		return nil, fmt.Errorf("%s: bias has %d entries, want %d", name, len(s.Bias), out)
	}
	l := &Linear{
		Weight: newParameter(name+".weight", in, out),
		Bias:   newParameter(name+".bias", 1, out),
	}
	for i, row := range s.Weight {
		if len(row) != out {
			return nil, fmt.Errorf("%s: ragged weight row %d", name, i)
		}
		l.Weight.Value.SetRow(i, row)
	}
	l.Bias.Value.SetRow(0, s.Bias)
	return l, nil
}
