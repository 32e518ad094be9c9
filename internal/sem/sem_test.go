package sem

import (
	"context"
	"errors"
	"testing"

	"causalfix/adapters/rng"
	"causalfix/domain/core"
	apperrors "causalfix/internal/errors"
	"causalfix/internal/graph"
	"causalfix/internal/nn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const chainYAML = `
vertices:
  - name: Y
    parents: [P, X]
    weights: [1.0, 2.0]
    bias: 0.5
  - name: P
    distribution: {func: bernoulli, params: [0.5]}
  - name: X
    parents: [P]
    weights: [3.0]
    noise: 1.0
`

func linearNet(t *testing.T, name string, weights []float64, bias float64) *nn.Network {
	t.Helper()
	s := nn.State{Activation: nn.ActivationIdentity}
	for _, w := range weights {
		s.InputDims = append(s.InputDims, 1)
		s.Inputs = append(s.Inputs, nn.LinearState{Weight: [][]float64{{w}}, Bias: []float64{0}})
	}
	s.Inputs[0].Bias[0] = bias
	n, err := nn.FromState(name, s)
	require.NoError(t, err)
	return n
}

func chainSEM(t *testing.T) *SEM {
	t.Helper()
	def, err := ParseDefinition([]byte(chainYAML))
	require.NoError(t, err)
	g, err := def.Graph()
	require.NoError(t, err)
	s, err := New(g, nil)
	require.NoError(t, err)
	require.NoError(t, s.SetLearned("X", linearNet(t, "X", []float64{3}, 0)))
	require.NoError(t, s.SetLearned("Y", linearNet(t, "Y", []float64{1, 2}, 0.5)))
	return s
}

func TestCombineConcatenatesInOrder(t *testing.T) {
	s := Sample{
		"A": mat.NewDense(2, 1, []float64{1, 2}),
		"B": mat.NewDense(2, 2, []float64{3, 4, 5, 6}),
	}
	x, err := Combine([]string{"B", "A"}, s)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 1}, x.RawRowView(0))
	assert.Equal(t, []float64{5, 6, 2}, x.RawRowView(1))

	_, err = Combine([]string{"C"}, s)
	assert.True(t, core.IsNotFoundError(err))

	s["C"] = mat.NewDense(3, 1, nil)
	_, err = Combine([]string{"A", "C"}, s)
	assert.True(t, errors.Is(err, core.ErrShapeMismatch))
	_, err = s.Rows()
	assert.True(t, errors.Is(err, core.ErrShapeMismatch))
}

func TestSampleCloneAndPermute(t *testing.T) {
	s := Sample{"A": mat.NewDense(3, 1, []float64{1, 2, 3})}
	c := s.Clone()
	c["A"].Set(0, 0, 9)
	assert.Equal(t, 1.0, s["A"].At(0, 0))

	p := s.Permute([]int{2, 0, 1})
	col, err := p.Column("A")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1, 2}, col)
}

func TestDefinitionGraph(t *testing.T) {
	s := chainSEM(t)
	assert.Equal(t, []string{"Y"}, s.Leafs())
	assert.Equal(t, []string{"P"}, s.Roots())
	assert.Equal(t, []string{"P", "X"}, s.Parents("Y"))
	assert.Equal(t, []string{"Y", "X"}, s.Descendants("P"))
}

func TestPredictFromSample(t *testing.T) {
	s := chainSEM(t)
	base := Sample{
		"P": mat.NewDense(2, 1, []float64{0, 1}),
		"X": mat.NewDense(2, 1, []float64{7, 7}),
		"Y": mat.NewDense(2, 1, []float64{0, 0}),
	}

	out, err := s.PredictFromSample(base, []string{"X"}, false)
	require.NoError(t, err)
	x, _ := out.Column("X")
	assert.Equal(t, []float64{0, 3}, x)
	orig, _ := base.Column("X")
	assert.Equal(t, []float64{7, 7}, orig, "copy mode leaves input alone")

	_, err = s.PredictFromSample(base, nil, true)
	require.NoError(t, err)
	y, _ := base.Column("Y")
	assert.InDeltaSlice(t, []float64{0.5, 1 + 6 + 0.5}, y, 1e-12)
}

func TestSetLearnedChecksShape(t *testing.T) {
	s := chainSEM(t)
	err := s.SetLearned("Y", linearNet(t, "Y", []float64{1}, 0))
	assert.True(t, errors.Is(err, core.ErrShapeMismatch))
	err = s.SetLearned("P", linearNet(t, "P", []float64{1}, 0))
	assert.Error(t, err)
	_, err = s.Learned("P")
	assert.True(t, errors.Is(err, core.ErrModelNotFound))
}

func TestParseDefinitionRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "vertices: []"},
		{"root without distribution", "vertices:\n  - name: A\n"},
		{"weight count", "vertices:\n  - name: A\n    distribution: {func: const, params: [1]}\n  - name: B\n    parents: [A]\n"},
		{"unknown parent", "vertices:\n  - name: B\n    parents: [Q]\n    weights: [1]\n"},
		{"cycle", "vertices:\n  - name: A\n    parents: [B]\n    weights: [1]\n  - name: B\n    parents: [A]\n    weights: [1]\n"},
		{"bad nonlinearity", "vertices:\n  - name: A\n    distribution: {func: const, params: [1]}\n  - name: B\n    parents: [A]\n    weights: [1]\n    nonlinearity: swish\n"},
		{"bad distribution", "vertices:\n  - name: A\n    distribution: {func: randn, params: [1]}\n"},
		{"not yaml", "vertices: [::"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))
		})
	}
}

func TestSimulateFollowsEquations(t *testing.T) {
	def, err := ParseDefinition([]byte(chainYAML))
	require.NoError(t, err)

	streams := rng.NewSeeded()
	a, err := def.Simulate(500, 1, streams)
	require.NoError(t, err)
	b, err := def.Simulate(500, 1, streams)
	require.NoError(t, err)

	n, err := a.Rows()
	require.NoError(t, err)
	assert.Equal(t, 500, n)
	assert.True(t, mat.Equal(a["Y"], b["Y"]), "same seed, same sample")

	p, _ := a.Column("P")
	x, _ := a.Column("X")
	y, _ := a.Column("Y")
	resid := make([]float64, len(p))
	for i := range p {
		require.True(t, p[i] == 0 || p[i] == 1)
		resid[i] = x[i] - 3*p[i]
		assert.InDelta(t, p[i]+2*x[i]+0.5, y[i], 1e-12)
	}
	assert.InDelta(t, 1.0, stat.StdDev(resid, nil), 0.15)
	assert.InDelta(t, 0.0, stat.Mean(resid, nil), 0.15)
}

func TestFitRecoversLinearEquations(t *testing.T) {
	def, err := ParseDefinition([]byte(chainYAML))
	require.NoError(t, err)
	streams := rng.NewSeeded()
	sample, err := def.Simulate(400, 3, streams)
	require.NoError(t, err)
	g, err := def.Graph()
	require.NoError(t, err)

	opts := DefaultFitOptions()
	opts.Hidden = nil
	opts.Activation = nn.ActivationIdentity
	opts.Epochs = 150
	opts.BatchSize = 32
	opts.Adam.LearningRate = 0.05

	model, fits, err := Fit(context.Background(), g, sample, opts, streams)
	require.NoError(t, err)
	require.Len(t, fits, 2)
	byVertex := map[string]VertexFit{}
	for _, f := range fits {
		byVertex[f.Vertex] = f
	}
	// X carries unit noise, so only part of its variance is explained.
	assert.Greater(t, byVertex["X"].RSquare, 0.5)
	assert.Greater(t, byVertex["Y"].RSquare, 0.99)

	y, err := model.Learned("Y")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, y.Inputs[0].Weight.Value.At(0, 0), 0.1)
	assert.InDelta(t, 2.0, y.Inputs[1].Weight.Value.At(0, 0), 0.1)

	pred, err := model.PredictFromSample(sample, []string{"Y"}, false)
	require.NoError(t, err)
	want, _ := sample.Column("Y")
	got, _ := pred.Column("Y")
	assert.Greater(t, stat.RSquaredFrom(got, want, nil), 0.99)
}

func TestFitHonoursCancellation(t *testing.T) {
	def, err := ParseDefinition([]byte(chainYAML))
	require.NoError(t, err)
	streams := rng.NewSeeded()
	sample, err := def.Simulate(50, 3, streams)
	require.NoError(t, err)
	g, _ := def.Graph()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = Fit(ctx, g, sample, DefaultFitOptions(), streams)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeCancelled, apperrors.GetCode(err))
}

func TestFitNeedsEveryVertex(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddVertex("A"))
	require.NoError(t, g.AddVertex("B"))
	require.NoError(t, g.AddEdge("A", "B"))
	_, _, err := Fit(context.Background(), g, Sample{"A": mat.NewDense(3, 1, nil)}, DefaultFitOptions(), rng.NewSeeded())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))
}
