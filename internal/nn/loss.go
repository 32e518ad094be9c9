package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MSE returns the mean squared error over all entries and its gradient with
// respect to pred.
func MSE(pred, target mat.Matrix) (float64, *mat.Dense, error) {
	r, c := pred.Dims()
	tr, tc := target.Dims()
	if r != tr || c != tc {
		return 0, nil, fmt.Errorf("mse: prediction %dx%d vs target %dx%d", r, c, tr, tc)
	}
	n := float64(r * c)
	grad := mat.NewDense(r, c, nil)
	var loss float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := pred.At(i, j) - target.At(i, j)
			loss += d * d
			grad.Set(i, j, 2*d/n)
		}
	}
	return loss / n, grad, nil
}
