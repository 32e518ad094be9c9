package intervention

import (
	"testing"

	apperrors "causalfix/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpecAcceptsSingleTuples(t *testing.T) {
	spec, err := ParseSpec([]byte(`
P:
  randn: [[0, 3], [0, 3]]
  const: [[1], [0]]
  range: [-1, 1]
X:
  bernoulli: 0.5
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"P", "X"}, spec.Proxies())
	assert.Equal(t, []Option{
		{Func: "const", Params: []float64{1}},
		{Func: "const", Params: []float64{0}},
		{Func: "randn", Params: []float64{0, 3}},
		{Func: "randn", Params: []float64{0, 3}},
		{Func: "range", Params: []float64{-1, 1}},
	}, spec.Options("P"))
	assert.Equal(t, []Option{{Func: "bernoulli", Params: []float64{0.5}}}, spec.Options("X"))
	assert.Equal(t, 5, spec.Count())
}

func TestAssignmentsAreTheCartesianProduct(t *testing.T) {
	spec := Spec{
		"P": {"const": {{0}, {1}}},
		"Z": {"const": {{-1}, {0}, {1}}},
	}
	as := spec.Assignments()
	require.Len(t, as, 6)
	assert.Equal(t, 6, spec.Count())

	got := make([][2]float64, len(as))
	for i, a := range as {
		got[i] = [2]float64{a["P"].Params[0], a["Z"].Params[0]}
	}
	assert.Equal(t, [][2]float64{{0, -1}, {0, 0}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}, got)
}

func TestSpecValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no proxies", "{}"},
		{"unknown function", "P:\n  poisson: [[1]]\n"},
		{"wrong arity", "P:\n  randn: [[1]]\n"},
		{"empty tuples", "P:\n  const: []\n"},
		{"bad yaml", "P: [::"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSpec([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))
		})
	}
}

func TestSpecHashIgnoresMapOrder(t *testing.T) {
	a := Spec{"P": {"const": {{0}, {1}}, "randn": {{0, 1}}}}
	b := Spec{"P": {"randn": {{0, 1}}, "const": {{0}, {1}}}}
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, "const(0)", Option{Func: "const", Params: []float64{0}}.String())
	assert.Equal(t, "randn(0, 1.5)", Option{Func: "randn", Params: []float64{0, 1.5}}.String())
}
