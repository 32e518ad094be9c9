package sem

import (
	"fmt"
	"math"
	"os"

	"causalfix/internal/draw"
	"causalfix/internal/errors"
	"causalfix/internal/graph"
	"causalfix/internal/nn"
	"causalfix/ports"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Definition is a ground-truth generative model used to simulate data. Roots
// are drawn from a distribution; every other vertex is
// nonlinearity(Σ weight·parent + bias) + noise·N(0, 1).
type Definition struct {
	Vertices []VertexDefinition `yaml:"vertices"`
}

// VertexDefinition describes one scalar vertex.
type VertexDefinition struct {
	Name         string        `yaml:"name"`
	Distribution *Distribution `yaml:"distribution,omitempty"`
	Parents      []string      `yaml:"parents,omitempty"`
	Weights      []float64     `yaml:"weights,omitempty"`
	Bias         float64       `yaml:"bias,omitempty"`
	Nonlinearity string        `yaml:"nonlinearity,omitempty"`
	Noise        float64       `yaml:"noise,omitempty"`
}

// Distribution names a draw function and its parameters.
type Distribution struct {
	Func   string    `yaml:"func"`
	Params []float64 `yaml:"params"`
}

// LoadDefinition reads and validates a YAML definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IOError(path, err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, errors.Wrapf(err, "definition %s", path)
	}
	return def, nil
}

// ParseDefinition decodes and validates a YAML definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks equations against the graph they induce.
func (d *Definition) Validate() error {
	if len(d.Vertices) == 0 {
		return errors.InvalidInput("definition has no vertices")
	}
	if _, err := d.Graph(); err != nil {
		return errors.WithCode(errors.CodeInvalidInput, err)
	}
	for _, v := range d.Vertices {
		if len(v.Parents) == 0 {
			if v.Distribution == nil {
				return errors.InvalidInputf("root %s needs a distribution", v.Name)
			}
			if err := draw.Validate(v.Distribution.Func, v.Distribution.Params); err != nil {
				return errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("root %s: %w", v.Name, err))
			}
			continue
		}
		if len(v.Weights) != len(v.Parents) {
			return errors.InvalidInputf("%s has %d parents but %d weights", v.Name, len(v.Parents), len(v.Weights))
		}
		if _, err := nn.ParseActivation(v.Nonlinearity); err != nil {
			return errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("%s: %w", v.Name, err))
		}
		if v.Noise < 0 || math.IsNaN(v.Noise) {
			return errors.InvalidInputf("%s has negative noise", v.Name)
		}
	}
	return nil
}

// Graph builds the DAG of the definition. Vertices may be listed in any
// order.
func (d *Definition) Graph() (*graph.DAG, error) {
	g := graph.New()
	for _, v := range d.Vertices {
		if err := g.AddVertex(v.Name); err != nil {
			return nil, err
		}
	}
	for _, v := range d.Vertices {
		for _, p := range v.Parents {
			if err := g.AddEdge(p, v.Name); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// Simulate draws n rows from the definition. Each root and each noise term
// uses its own named stream so adding a vertex does not shift the others.
func (d *Definition) Simulate(n int, seed int64, streams ports.RNGPort) (Sample, error) {
	g, err := d.Graph()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]VertexDefinition, len(d.Vertices))
	for _, v := range d.Vertices {
		byName[v.Name] = v
	}

	sample := make(Sample, len(d.Vertices))
	for _, name := range g.TopologicalSort() {
		v := byName[name]
		rng := streams.Stream("simulate/"+name, seed)
		if len(v.Parents) == 0 {
			col, err := draw.Column(v.Distribution.Func, v.Distribution.Params, n, rng)
			if err != nil {
				return nil, fmt.Errorf("root %s: %w", name, err)
			}
			sample[name] = col
			continue
		}

		act, _ := nn.ParseActivation(v.Nonlinearity)
		col := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			z := v.Bias
			for k, p := range v.Parents {
				z += v.Weights[k] * sample[p].At(i, 0)
			}
			col.Set(i, 0, act.Apply(z)+v.Noise*rng.NormFloat64())
		}
		sample[name] = col
	}
	return sample, nil
}
