package nn

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Activation is an element-wise nonlinearity applied between stages.
type Activation string

const (
	ActivationReLU     Activation = "relu"
	ActivationTanh     Activation = "tanh"
	ActivationSigmoid  Activation = "sigmoid"
	ActivationIdentity Activation = "identity"
)

// ParseActivation accepts the names above, case-insensitively. "linear" is
// an alias for identity.
func ParseActivation(s string) (Activation, error) {
	switch a := Activation(strings.ToLower(strings.TrimSpace(s))); a {
	case ActivationReLU, ActivationTanh, ActivationSigmoid, ActivationIdentity:
		return a, nil
	case "linear", "":
		return ActivationIdentity, nil
	}
	return "", fmt.Errorf("unknown activation %q", s)
}

// Apply evaluates the activation at v.
func (a Activation) Apply(v float64) float64 {
	switch a {
	case ActivationReLU:
		if v > 0 {
			return v
		}
		return 0
	case ActivationTanh:
		return math.Tanh(v)
	case ActivationSigmoid:
		return 1 / (1 + math.Exp(-v))
	}
	return v
}

// derivative at pre-activation v
func (a Activation) derivative(v float64) float64 {
	switch a {
	case ActivationReLU:
		if v > 0 {
			return 1
		}
		return 0
	case ActivationTanh:
		t := math.Tanh(v)
		return 1 - t*t
	case ActivationSigmoid:
		s := 1 / (1 + math.Exp(-v))
		return s * (1 - s)
	}
	return 1
}

func (a Activation) forward(pre *mat.Dense) *mat.Dense {
	r, c := pre.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 { return a.Apply(v) }, pre)
	return out
}

// backward scales grad (w.r.t. the activation output) into a gradient
// w.r.t. the pre-activation.
func (a Activation) backward(pre, grad *mat.Dense) *mat.Dense {
	r, c := grad.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, g float64) float64 { return g * a.derivative(pre.At(i, j)) }, grad)
	return out
}
