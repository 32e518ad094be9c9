package sem

import (
	"context"

	"causalfix/internal/errors"
	"causalfix/internal/graph"
	"causalfix/internal/nn"
	"causalfix/ports"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// FitOptions controls how vertex equations are learned.
type FitOptions struct {
	Hidden     []int
	Activation nn.Activation
	Epochs     int
	BatchSize  int
	Adam       nn.AdamConfig
	Workers    int
	Seed       int64
}

// DefaultFitOptions returns one hidden layer of 16 ReLU units, 100 epochs.
func DefaultFitOptions() FitOptions {
	adam := nn.DefaultAdamConfig()
	adam.LearningRate = 1e-2
	return FitOptions{
		Hidden:     []int{16},
		Activation: nn.ActivationReLU,
		Epochs:     100,
		BatchSize:  64,
		Adam:       adam,
		Workers:    4,
		Seed:       42,
	}
}

// VertexFit reports the in-sample quality of one learned equation.
type VertexFit struct {
	Vertex  string  `json:"vertex"`
	MSE     float64 `json:"mse"`
	RSquare float64 `json:"r_square"`
}

// Fit learns an equation for every non-root vertex of g from sample. The
// vertices are independent given the observed data, so they are fitted
// concurrently.
func Fit(ctx context.Context, g *graph.DAG, sample Sample, opts FitOptions, streams ports.RNGPort) (*SEM, []VertexFit, error) {
	rows, err := sample.Rows()
	if err != nil {
		return nil, nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	if opts.BatchSize < 1 || opts.Epochs < 0 {
		return nil, nil, errors.InvalidInput("fit needs a positive batch size and non-negative epochs")
	}
	dims := make(map[string]int)
	for _, v := range g.Vertices() {
		d, err := sample.Dim(v)
		if err != nil {
			return nil, nil, errors.WithCode(errors.CodeInvalidInput, err)
		}
		dims[v] = d
	}
	model, err := New(g, dims)
	if err != nil {
		return nil, nil, err
	}

	var targets []string
	for _, v := range g.TopologicalSort() {
		if len(g.Parents(v)) > 0 {
			targets = append(targets, v)
		}
	}

	nets := make([]*nn.Network, len(targets))
	fits := make([]VertexFit, len(targets))
	eg, ctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		eg.SetLimit(opts.Workers)
	}
	for i, v := range targets {
		eg.Go(func() error {
			net, fit, err := fitVertex(ctx, model, v, sample, rows, opts, streams)
			if err != nil {
				return err
			}
			nets[i], fits[i] = net, fit
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	for i, v := range targets {
		if err := model.SetLearned(v, nets[i]); err != nil {
			return nil, nil, errors.Wrapf(err, "install %s", v)
		}
		model.log.Debug("fitted %s: mse=%.4g r2=%.3f", v, fits[i].MSE, fits[i].RSquare)
	}
	return model, fits, nil
}

func fitVertex(ctx context.Context, model *SEM, v string, sample Sample, rows int, opts FitOptions, streams ports.RNGPort) (*nn.Network, VertexFit, error) {
	parents := model.Parents(v)
	inputDims := make([]int, len(parents))
	for i, p := range parents {
		inputDims[i] = model.Dim(p)
	}
	rng := streams.Stream("fit/"+v, opts.Seed)
	net, err := nn.NewNetwork(v, nn.Architecture{
		InputDims:  inputDims,
		Hidden:     opts.Hidden,
		Output:     model.Dim(v),
		Activation: opts.Activation,
	}, rng)
	if err != nil {
		return nil, VertexFit{}, errors.WithCode(errors.CodeInvalidInput, err)
	}

	x, err := Combine(parents, sample)
	if err != nil {
		return nil, VertexFit{}, err
	}
	y := sample[v]
	_, yc := y.Dims()
	pair := Sample{"x": x, "y": y}

	opt := nn.NewAdam(net.Trainable(), opts.Adam)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, VertexFit{}, errors.Cancelled(err)
		}
		perm := rng.Perm(rows)
		for lo := 0; lo < rows; lo += opts.BatchSize {
			hi := min(lo+opts.BatchSize, rows)
			batch := pair.Permute(perm[lo:hi])

			opt.ZeroGrad()
			pred, err := net.Forward(batch["x"])
			if err != nil {
				return nil, VertexFit{}, err
			}
			_, grad, err := nn.MSE(pred, batch["y"])
			if err != nil {
				return nil, VertexFit{}, err
			}
			if err := net.Backward(grad); err != nil {
				return nil, VertexFit{}, err
			}
			opt.Step()
		}
	}

	pred, err := net.Predict(x)
	if err != nil {
		return nil, VertexFit{}, err
	}
	loss, _, err := nn.MSE(pred, y)
	if err != nil {
		return nil, VertexFit{}, err
	}
	fit := VertexFit{Vertex: v, MSE: loss}
	if yc == 1 {
		fit.RSquare = stat.RSquaredFrom(mat.Col(nil, 0, pred), mat.Col(nil, 0, y), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, VertexFit{}, errors.Cancelled(err)
	}
	return net, fit, nil
}
