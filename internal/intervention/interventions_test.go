package intervention

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"causalfix/domain/core"
	apperrors "causalfix/internal/errors"
	"causalfix/internal/nn"
	"causalfix/internal/sem"
	"causalfix/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type fixture struct {
	kit   *testkit.TestKit
	model *sem.SEM
	base  sem.Sample
	spec  Spec
}

func newFixture(t *testing.T, n int) fixture {
	t.Helper()
	kit := testkit.NewTestKit()
	model, err := kit.LinearSEM()
	require.NoError(t, err)
	base, err := kit.BaseSample(n)
	require.NoError(t, err)
	spec, err := ParseSpec([]byte(testkit.FairnessSpec))
	require.NoError(t, err)
	return fixture{kit: kit, model: model, base: base, spec: spec}
}

func (f fixture) config() Config {
	return Config{Seed: f.kit.Seed, Workers: 2, Streams: f.kit.Streams}
}

func TestNewValidatesInput(t *testing.T) {
	f := newFixture(t, 20)

	iv, err := New(f.model, f.base, f.spec, "", f.config())
	require.NoError(t, err)
	assert.Equal(t, "Y", iv.Target())
	assert.Equal(t, 20, iv.NSamples())
	assert.Equal(t, 3, iv.NInterventions())
	assert.Equal(t, []string{"P", "X", "Z"}, iv.TargetParents())

	_, err = New(f.model, f.base, f.spec, "X", f.config())
	assert.True(t, errors.Is(err, core.ErrNotLeaf))
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))

	_, err = New(f.model, f.base, Spec{"Q": {"const": {{0}, {1}}}}, "Y", f.config())
	assert.True(t, core.IsNotFoundError(err))

	_, err = New(f.model, f.base, f.spec, "Y", Config{})
	assert.Error(t, err)

	missing := f.base.Clone()
	delete(missing, "Z")
	_, err = New(f.model, missing, f.spec, "Y", f.config())
	assert.True(t, errors.Is(err, core.ErrVariableNotFound))

	wide := f.base.Clone()
	wide["P"] = mat.NewDense(20, 2, nil)
	_, err = New(f.model, wide, f.spec, "Y", f.config())
	assert.Error(t, err)
}

func TestNewRejectsNonDescendantProxy(t *testing.T) {
	def, err := sem.ParseDefinition([]byte(testkit.FairnessYAML + `
  - name: W
    distribution: {func: randn, params: [0, 1]}
`))
	require.NoError(t, err)
	g, err := def.Graph()
	require.NoError(t, err)
	model, err := sem.New(g, nil)
	require.NoError(t, err)
	kit := testkit.NewTestKit()
	base, err := def.Simulate(10, 1, kit.Streams)
	require.NoError(t, err)

	_, err = New(model, base, Spec{"W": {"const": {{0}, {1}}}}, "Y", Config{Streams: kit.Streams})
	assert.True(t, errors.Is(err, core.ErrNotAffected))
}

func TestGenerateSamplesPropagatesDownstream(t *testing.T) {
	f := newFixture(t, 30)
	iv, err := New(f.model, f.base, f.spec, "Y", f.config())
	require.NoError(t, err)
	before := f.base.Clone()
	require.NoError(t, iv.GenerateSamples(context.Background()))

	samples := iv.TrainingSamples()
	require.Len(t, samples, 3)
	assert.Equal(t, []string{"P=const(0)", "P=const(1)", "P=randn(0, 1)"}, iv.Labels())
	assert.Equal(t, []string{"X"}, iv.updateOrder())

	z, _ := f.base.Column("Z")
	y, _ := f.base.Column("Y")
	for k, s := range samples {
		p, _ := s.Column("P")
		x, _ := s.Column("X")
		sz, _ := s.Column("Z")
		sy, _ := s.Column("Y")
		for i := range p {
			assert.InDelta(t, 1.5*p[i]+z[i], x[i], 1e-12, "X recomputed in sample %d", k)
		}
		assert.Equal(t, z, sz, "roots keep their values")
		assert.Equal(t, y, sy, "the target is not propagated")
	}
	p0, _ := samples[0].Column("P")
	p1, _ := samples[1].Column("P")
	for i := range p0 {
		assert.Equal(t, 0.0, p0[i])
		assert.Equal(t, 1.0, p1[i])
	}

	for _, v := range before.Vertices() {
		assert.True(t, mat.Equal(before[v], f.base[v]), "base sample %s untouched", v)
	}
}

func TestTrainCorrectedRemovesProxyEffect(t *testing.T) {
	// Across rows the optimum also absorbs the in-sample covariance of the
	// drawn proxy with Z, so it is looser.
	tolerance := map[VarianceAxis]float64{AcrossInterventions: 0.05, AcrossRows: 0.35}
	for _, axis := range []VarianceAxis{AcrossInterventions, AcrossRows} {
		t.Run(string(axis), func(t *testing.T) {
			f := newFixture(t, 200)
			iv, err := New(f.model, f.base, f.spec, "Y", f.config())
			require.NoError(t, err)

			opts := DefaultTrainOptions()
			opts.Epochs = 40
			opts.Axis = axis
			opts.Adam.LearningRate = 0.05

			res, err := iv.TrainCorrected(context.Background(), opts)
			require.NoError(t, err)
			require.Len(t, res.History, 40)
			assert.Equal(t, []string{"Y.layers.0.0.weight"}, res.Trainable)

			// Y = w·P + X + 0.5Z + 0.1 with X = 1.5P + Z downstream, so the
			// total effect of P vanishes at w = -1.5.
			corrected := res.Model
			assert.InDelta(t, -1.5, corrected.Inputs[0].Weight.Value.At(0, 0), tolerance[axis])

			original, err := f.model.Learned("Y")
			require.NoError(t, err)
			assert.Equal(t, 2.0, original.Inputs[0].Weight.Value.At(0, 0), "SEM model untouched")

			origParams := original.Parameters()
			for i, p := range corrected.Parameters() {
				if i == 0 {
					continue
				}
				assert.True(t, mat.Equal(origParams[i].Value, p.Value), "%s must stay frozen", p.Name)
			}

			if axis == AcrossInterventions {
				last := res.History[len(res.History)-1].MeanLoss
				assert.Less(t, last, 0.01*res.History[0].MeanLoss+1e-6)
			}
		})
	}
}

func TestTrainCorrectedSeveralProxies(t *testing.T) {
	// X = 1.5P + Z and Y = 2P + X + 0.5Z + 0.1, so the total effects vanish
	// at w_P = -1.5 and w_Z = -1.
	tests := []struct {
		name      string
		spec      Spec
		want      int
		trainable []string
		weights   map[int]float64
	}{
		{
			name: "P and Z jointly",
			spec: Spec{
				"P": {"const": {{0}, {1}}, "randn": {{0, 1}}},
				"Z": {"const": {{0}, {1}}},
			},
			want:      6,
			trainable: []string{"Y.layers.0.0.weight", "Y.layers.0.2.weight"},
			weights:   map[int]float64{0: -1.5, 2: -1},
		},
		{
			name:      "Z alone",
			spec:      Spec{"Z": {"const": {{-1}, {1}}, "randn": {{0, 2}}}},
			want:      3,
			trainable: []string{"Y.layers.0.2.weight"},
			weights:   map[int]float64{2: -1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 37 rows in batches of 32 leaves a final batch of 5
			f := newFixture(t, 37)
			iv, err := New(f.model, f.base, tt.spec, "Y", f.config())
			require.NoError(t, err)
			assert.Equal(t, tt.want, iv.NInterventions())

			opts := DefaultTrainOptions()
			opts.Epochs = 150
			opts.Adam.LearningRate = 0.05
			res, err := iv.TrainCorrected(context.Background(), opts)
			require.NoError(t, err)
			require.Len(t, iv.TrainingSamples(), tt.want)
			assert.Equal(t, tt.trainable, res.Trainable)
			assert.Equal(t, 2, res.History[0].Batches)

			first, last := res.History[0].MeanLoss, res.History[len(res.History)-1].MeanLoss
			assert.Less(t, last, 0.05*first)

			original, err := f.model.Learned("Y")
			require.NoError(t, err)
			for i, l := range res.Model.Inputs {
				if w, ok := tt.weights[i]; ok {
					assert.InDelta(t, w, l.Weight.Value.At(0, 0), 0.1, l.Weight.Name)
					continue
				}
				assert.True(t, mat.Equal(original.Inputs[i].Weight.Value, l.Weight.Value), "%s must stay frozen", l.Weight.Name)
			}
			for i, l := range res.Model.Inputs {
				assert.True(t, mat.Equal(original.Inputs[i].Bias.Value, l.Bias.Value), "%s must stay frozen", l.Bias.Name)
			}
		})
	}
}

func TestTrainCorrectedNeedsScalarTarget(t *testing.T) {
	f := newFixture(t, 16)
	def, err := f.kit.Definition()
	require.NoError(t, err)
	g, err := def.Graph()
	require.NoError(t, err)
	model, err := sem.New(g, map[string]int{"Y": 2})
	require.NoError(t, err)

	x, err := testkit.LinearNetwork("X", []float64{1.5, 1}, 0)
	require.NoError(t, err)
	require.NoError(t, model.SetLearned("X", x))
	y, err := nn.NewNetwork("Y", nn.Architecture{InputDims: []int{1, 1, 1}, Output: 2}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.NoError(t, model.SetLearned("Y", y))

	iv, err := New(model, f.base, f.spec, "Y", f.config())
	require.NoError(t, err)
	_, err = iv.TrainCorrected(context.Background(), DefaultTrainOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrShapeMismatch))
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))
	assert.Nil(t, iv.TrainingSamples(), "nothing generated for an unusable target")
}

func TestTrainCorrectedWithBiases(t *testing.T) {
	f := newFixture(t, 64)
	iv, err := New(f.model, f.base, f.spec, "Y", f.config())
	require.NoError(t, err)

	opts := DefaultTrainOptions()
	opts.Epochs = 2
	opts.Biases = true
	res, err := iv.TrainCorrected(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"Y.layers.0.0.weight", "Y.layers.0.0.bias"}, res.Trainable)

	// the variance across interventions does not depend on a shared bias
	assert.InDelta(t, 0.1, res.Model.Inputs[0].Bias.Value.At(0, 0), 1e-6)
}

func TestTrainCorrectedErrors(t *testing.T) {
	f := newFixture(t, 16)

	single, err := New(f.model, f.base, Spec{"P": {"const": {{1}}}}, "Y", f.config())
	require.NoError(t, err)
	_, err = single.TrainCorrected(context.Background(), DefaultTrainOptions())
	assert.True(t, errors.Is(err, core.ErrTooFewInterventions))

	iv, err := New(f.model, f.base, f.spec, "Y", f.config())
	require.NoError(t, err)
	bad := DefaultTrainOptions()
	bad.BatchSize = 0
	_, err = iv.TrainCorrected(context.Background(), bad)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))

	bad = DefaultTrainOptions()
	bad.Axis = "columns"
	_, err = iv.TrainCorrected(context.Background(), bad)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = iv.TrainCorrected(ctx, DefaultTrainOptions())
	assert.Equal(t, apperrors.CodeCancelled, apperrors.GetCode(err))
}

func TestTrainCorrectedNeedsDirectProxyParent(t *testing.T) {
	def, err := sem.ParseDefinition([]byte(`
vertices:
  - name: P
    distribution: {func: bernoulli, params: [0.5]}
  - name: X
    parents: [P]
    weights: [1.0]
  - name: Y
    parents: [X]
    weights: [1.0]
`))
	require.NoError(t, err)
	g, err := def.Graph()
	require.NoError(t, err)
	model, err := sem.New(g, nil)
	require.NoError(t, err)
	for _, v := range []string{"X", "Y"} {
		net, err := testkit.LinearNetwork(v, []float64{1}, 0)
		require.NoError(t, err)
		require.NoError(t, model.SetLearned(v, net))
	}
	kit := testkit.NewTestKit()
	base, err := def.Simulate(8, 1, kit.Streams)
	require.NoError(t, err)

	iv, err := New(model, base, Spec{"P": {"const": {{0}, {1}}}}, "Y", Config{Streams: kit.Streams})
	require.NoError(t, err)
	_, err = iv.TrainCorrected(context.Background(), DefaultTrainOptions())
	assert.True(t, errors.Is(err, core.ErrNothingToTrain))
}

func TestVarianceLossGradient(t *testing.T) {
	ys := mat.NewDense(2, 3, []float64{
		1, 2, 3,
		0, 0, 3,
	})
	loss, grad := varianceLoss(ys, AcrossInterventions)
	assert.InDelta(t, 1.0+3.0, loss, 1e-12)
	assert.InDeltaSlice(t, []float64{-1, 0, 1}, grad.RawRowView(0), 1e-12)
	assert.InDeltaSlice(t, []float64{-1, -1, 2}, grad.RawRowView(1), 1e-12)

	loss, grad = varianceLoss(ys, AcrossRows)
	assert.InDelta(t, 0.5+2.0+0, loss, 1e-12)
	assert.InDeltaSlice(t, []float64{1, 2, 0}, grad.RawRowView(0), 1e-12)
}

func TestSummary(t *testing.T) {
	f := newFixture(t, 12)
	iv, err := New(f.model, f.base, f.spec, "Y", f.config())
	require.NoError(t, err)

	s := iv.Summary()
	assert.Equal(t, 12, s.NSamples)
	assert.Equal(t, 3, s.NInterventions)
	assert.Equal(t, f.spec.Hash(), s.SpecHash)
	assert.Contains(t, s.String(), "Sample size: 12, Number of interventions 3")
	assert.Contains(t, s.String(), "P: const(0), const(1), randn(0, 1)")
}
