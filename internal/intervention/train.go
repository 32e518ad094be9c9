package intervention

import (
	"context"
	"fmt"

	"causalfix/domain/core"
	"causalfix/internal/errors"
	"causalfix/internal/nn"
	"causalfix/internal/sem"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// VarianceAxis selects what the correction loss takes the variance over.
type VarianceAxis string

const (
	// AcrossInterventions: for every row, the variance of the target output
	// over all interventions, summed over rows.
	AcrossInterventions VarianceAxis = "interventions"
	// AcrossRows: for every intervention, the variance of the target output
	// over the rows of the batch, summed over interventions.
	AcrossRows VarianceAxis = "rows"
)

// TrainOptions controls TrainCorrected.
type TrainOptions struct {
	BatchSize int
	Epochs    int
	Biases    bool
	Axis      VarianceAxis
	Adam      nn.AdamConfig
}

// DefaultTrainOptions returns batch size 32, 50 epochs, weights only.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		BatchSize: 32,
		Epochs:    50,
		Axis:      AcrossInterventions,
		Adam:      nn.DefaultAdamConfig(),
	}
}

// EpochStats records the mean batch loss of one epoch.
type EpochStats struct {
	Epoch    int     `json:"epoch"`
	MeanLoss float64 `json:"mean_loss"`
	Batches  int     `json:"batches"`
}

// Result is the outcome of TrainCorrected.
type Result struct {
	Model     *nn.Network  `json:"-"`
	Trainable []string     `json:"trainable"`
	History   []EpochStats `json:"history"`
}

// TrainCorrected generates the intervened samples and retrains a copy of the
// target's equation. Only first-layer weights reading a proxy (and their
// biases when opts.Biases is set) change; the SEM itself is not modified.
func (iv *Interventions) TrainCorrected(ctx context.Context, opts TrainOptions) (*Result, error) {
	if opts.BatchSize < 1 || opts.Epochs < 0 {
		return nil, errors.InvalidInput("training needs a positive batch size and non-negative epochs")
	}
	if opts.Axis == "" {
		opts.Axis = AcrossInterventions
	}
	if opts.Axis != AcrossInterventions && opts.Axis != AcrossRows {
		return nil, errors.InvalidInputf("unknown variance axis %q", opts.Axis)
	}

	parents := iv.TargetParents()
	iv.log.Info("correct for the effect of %v on %s", iv.proxies, iv.target)

	original, err := iv.model.Learned(iv.target)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	if original.OutputWidth() != 1 {
		return nil, errors.WithCode(errors.CodeInvalidInput, core.NewShapeError("output of "+iv.target, 1, original.OutputWidth()))
	}
	if opts.Axis == AcrossInterventions && iv.nInterventions < 2 {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("%w: spec yields %d", core.ErrTooFewInterventions, iv.nInterventions))
	}

	if err := iv.GenerateSamples(ctx); err != nil {
		return nil, err
	}
	if len(iv.training) != iv.nInterventions {
		return nil, errors.InternalError(fmt.Sprintf("# interventions %d does not match # training samples %d", iv.nInterventions, len(iv.training)))
	}
	iv.log.Info("there are %d interventions", len(iv.training))

	corrected := iv.copyAndFreeze(original, opts.Biases)
	trainable := corrected.Trainable()
	if len(trainable) == 0 {
		return nil, errors.WithCode(errors.CodeInvalidInput,
			fmt.Errorf("%w: no proxy among the parents %v of %s", core.ErrNothingToTrain, parents, iv.target))
	}
	names := make([]string, len(trainable))
	for i, p := range trainable {
		names[i] = p.Name
	}
	iv.log.Info("freeze everything except %v", names)

	data := make([]*mat.Dense, len(iv.training))
	for k, sample := range iv.training {
		x, err := sem.Combine(parents, sample)
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, err)
		}
		data[k] = x
	}

	opt := nn.NewAdam(trainable, opts.Adam)
	rng := iv.cfg.Streams.Stream("train/permutation", iv.cfg.Seed)
	result := &Result{Model: corrected, Trainable: names}

	iv.log.Info("partially retrain %s for %d epochs", iv.target, opts.Epochs)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		perm := rng.Perm(iv.nSamples)
		var total float64
		var batches int
		for lo := 0; lo < iv.nSamples; lo += opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, errors.Cancelled(err)
			}
			hi := min(lo+opts.BatchSize, iv.nSamples)
			loss, ok, err := iv.step(corrected, opt, data, perm[lo:hi], opts.Axis)
			if err != nil {
				return nil, err
			}
			if ok {
				total += loss
				batches++
			}
		}
		stats := EpochStats{Epoch: epoch, Batches: batches}
		if batches > 0 {
			stats.MeanLoss = total / float64(batches)
		}
		result.History = append(result.History, stats)
		iv.log.Debug("epoch %d: mean loss %.6g over %d batches", epoch, stats.MeanLoss, batches)
	}
	iv.log.Info("finished correction after %d optimizer steps", opt.Steps())
	return result, nil
}

// step runs one forward/backward/update on the rows idx of every
// intervention. All interventions use the same rows, so column k of the
// output matrix is the target under intervention k for the same individuals.
// ok is false when the batch is too small to define a variance.
func (iv *Interventions) step(model *nn.Network, opt *nn.Adam, data []*mat.Dense, idx []int, axis VarianceAxis) (float64, bool, error) {
	b, k := len(idx), len(data)
	if axis == AcrossRows && b < 2 {
		return 0, false, nil
	}
	_, width := data[0].Dims()

	stacked := mat.NewDense(k*b, width, nil)
	for j, x := range data {
		for r, src := range idx {
			stacked.SetRow(j*b+r, x.RawRowView(src))
		}
	}

	opt.ZeroGrad()
	out, err := model.Forward(stacked)
	if err != nil {
		return 0, false, errors.Wrap(err, "forward pass")
	}
	ys := mat.NewDense(b, k, nil)
	for j := 0; j < k; j++ {
		for r := 0; r < b; r++ {
			ys.Set(r, j, out.At(j*b+r, 0))
		}
	}

	loss, grad := varianceLoss(ys, axis)
	stackedGrad := mat.NewDense(k*b, 1, nil)
	for j := 0; j < k; j++ {
		for r := 0; r < b; r++ {
			stackedGrad.Set(j*b+r, 0, grad.At(r, j))
		}
	}
	if err := model.Backward(stackedGrad); err != nil {
		return 0, false, errors.Wrap(err, "backward pass")
	}
	opt.Step()
	return loss, true, nil
}

// varianceLoss sums unbiased variances of ys (rows × interventions) along
// axis and returns the gradient with respect to every entry.
func varianceLoss(ys *mat.Dense, axis VarianceAxis) (float64, *mat.Dense) {
	rows, cols := ys.Dims()
	grad := mat.NewDense(rows, cols, nil)
	var loss float64

	if axis == AcrossRows {
		for j := 0; j < cols; j++ {
			col := mat.Col(nil, j, ys)
			mean, variance := stat.MeanVariance(col, nil)
			loss += variance
			for r, y := range col {
				grad.Set(r, j, 2*(y-mean)/float64(rows-1))
			}
		}
		return loss, grad
	}

	for r := 0; r < rows; r++ {
		row := ys.RawRowView(r)
		mean, variance := stat.MeanVariance(row, nil)
		loss += variance
		for j, y := range row {
			grad.Set(r, j, 2*(y-mean)/float64(cols-1))
		}
	}
	return loss, grad
}
