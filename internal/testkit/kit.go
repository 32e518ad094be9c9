package testkit

import (
	"fmt"

	"causalfix/adapters/rng"
	"causalfix/internal/nn"
	"causalfix/internal/sem"
	"causalfix/ports"
)

// FairnessYAML is a lending-style model: a protected attribute P and a
// neutral attribute Z both drive a score X, and the outcome Y reads all three.
const FairnessYAML = `
vertices:
  - name: P
    distribution: {func: bernoulli, params: [0.5]}
  - name: Z
    distribution: {func: randn, params: [0, 1]}
  - name: X
    parents: [P, Z]
    weights: [1.5, 1.0]
    noise: 0.5
  - name: Y
    parents: [P, X, Z]
    weights: [2.0, 1.0, 0.5]
    bias: 0.1
`

// FairnessSpec intervenes on P with two constants and a standard normal.
const FairnessSpec = `
P:
  const: [[0], [1]]
  randn: [0, 1]
`

// TestKit provides testing utilities and fixtures
type TestKit struct {
	Seed    int64
	Streams ports.RNGPort
}

// NewTestKit creates a kit with the default seed
func NewTestKit() *TestKit {
	return &TestKit{Seed: 42, Streams: rng.NewSeeded()}
}

// Definition parses FairnessYAML
func (k *TestKit) Definition() (*sem.Definition, error) {
	return sem.ParseDefinition([]byte(FairnessYAML))
}

// LinearSEM returns the fairness graph with learned equations set to the
// noise-free ground truth, so tests do not depend on fitting:
//
//	X = 1.5·P + Z
//	Y = 2·P + X + 0.5·Z + 0.1
func (k *TestKit) LinearSEM() (*sem.SEM, error) {
	def, err := k.Definition()
	if err != nil {
		return nil, err
	}
	g, err := def.Graph()
	if err != nil {
		return nil, err
	}
	model, err := sem.New(g, nil)
	if err != nil {
		return nil, err
	}
	for _, v := range def.Vertices {
		if len(v.Parents) == 0 {
			continue
		}
		net, err := LinearNetwork(v.Name, v.Weights, v.Bias)
		if err != nil {
			return nil, err
		}
		if err := model.SetLearned(v.Name, net); err != nil {
			return nil, err
		}
	}
	return model, nil
}

// BaseSample simulates n rows of the fairness model
func (k *TestKit) BaseSample(n int) (sem.Sample, error) {
	def, err := k.Definition()
	if err != nil {
		return nil, err
	}
	return def.Simulate(n, k.Seed, k.Streams)
}

// LinearNetwork builds an affine network over scalar parents with the given
// weights. The bias sits on the first input layer.
func LinearNetwork(name string, weights []float64, bias float64) (*nn.Network, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%s: no weights", name)
	}
	s := nn.State{Activation: nn.ActivationIdentity}
	for i, w := range weights {
		b := 0.0
		if i == 0 {
			b = bias
		}
		s.InputDims = append(s.InputDims, 1)
		s.Inputs = append(s.Inputs, nn.LinearState{Weight: [][]float64{{w}}, Bias: []float64{b}})
	}
	return nn.FromState(name, s)
}
