// Package report measures how strongly a target model still reacts to the
// intervened proxies, before and after correction.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"causalfix/domain/core"
	"causalfix/internal/errors"
	"causalfix/internal/intervention"
	"causalfix/internal/nn"
	"causalfix/internal/sem"

	"github.com/montanaflynn/stats"
)

// Spread summarises per-row output variance across interventions.
type Spread struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`
}

// InterventionOutput is the mean target output under one intervention.
type InterventionOutput struct {
	Label string  `json:"label"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
}

// Evaluation scores one model over the intervened training samples. Spread
// is nil when there is a single intervention.
type Evaluation struct {
	Spread  *Spread              `json:"spread,omitempty"`
	Outputs []InterventionOutput `json:"outputs"`
}

// ProxyWeight is the first-layer weight connecting a proxy to the target.
type ProxyWeight struct {
	Proxy  string      `json:"proxy"`
	Before [][]float64 `json:"before"`
	After  [][]float64 `json:"after"`
}

// Report is the record of one correction run.
type Report struct {
	RunID      core.RunID           `json:"run_id"`
	CreatedAt  time.Time            `json:"created_at"`
	Summary    intervention.Summary `json:"summary"`
	Fits       []sem.VertexFit      `json:"fits,omitempty"`
	Training   *intervention.Result `json:"training"`
	Before     Evaluation           `json:"before"`
	After      Evaluation           `json:"after"`
	Weights    []ProxyWeight        `json:"proxy_weights"`
	Dependence []ProxyDependence    `json:"proxy_dependence"`
	Corrected  nn.State             `json:"corrected_model"`
	Reduction  float64              `json:"variance_reduction"`
}

// Evaluate runs model on every training sample of iv and measures, for each
// row, the variance of the output across interventions. With one
// intervention only the per-intervention outputs are filled in.
func Evaluate(iv *intervention.Interventions, model *nn.Network) (Evaluation, error) {
	samples := iv.TrainingSamples()
	if len(samples) == 0 {
		return Evaluation{}, errors.InvalidInput("evaluation needs generated interventions")
	}
	parents := iv.TargetParents()
	labels := iv.Labels()
	n := iv.NSamples()

	cols := make([][]float64, len(samples))
	var ev Evaluation
	for k, s := range samples {
		x, err := sem.Combine(parents, s)
		if err != nil {
			return Evaluation{}, errors.WithCode(errors.CodeInvalidInput, err)
		}
		out, err := model.Predict(x)
		if err != nil {
			return Evaluation{}, errors.Wrapf(err, "evaluate intervention %d", k)
		}
		col := make([]float64, n)
		for i := range col {
			col[i] = out.At(i, 0)
		}
		cols[k] = col

		mean, _ := stats.Mean(col)
		std, _ := stats.StandardDeviation(col)
		ev.Outputs = append(ev.Outputs, InterventionOutput{Label: labels[k], Mean: mean, Std: std})
	}

	if len(cols) < 2 {
		return ev, nil
	}

	perRow := make([]float64, n)
	row := make([]float64, len(cols))
	for i := 0; i < n; i++ {
		for k := range cols {
			row[k] = cols[k][i]
		}
		v, err := stats.SampleVariance(row)
		if err != nil {
			return Evaluation{}, errors.Wrap(err, "row variance")
		}
		perRow[i] = v
	}

	spread, err := summarise(perRow)
	if err != nil {
		return Evaluation{}, err
	}
	ev.Spread = &spread
	return ev, nil
}

func summarise(data stats.Float64Data) (Spread, error) {
	var s Spread
	var err error
	if s.Mean, err = data.Mean(); err != nil {
		return s, errors.Wrap(err, "mean spread")
	}
	if s.Median, err = data.Median(); err != nil {
		return s, errors.Wrap(err, "median spread")
	}
	if s.P90, err = data.Percentile(90); err != nil {
		return s, errors.Wrap(err, "p90 spread")
	}
	if s.Max, err = data.Max(); err != nil {
		return s, errors.Wrap(err, "max spread")
	}
	return s, nil
}

// Build assembles the report of a finished correction. original is the
// target's equation in the SEM.
func Build(iv *intervention.Interventions, original *nn.Network, res *intervention.Result, fits []sem.VertexFit, opts Options) (*Report, error) {
	before, err := Evaluate(iv, original)
	if err != nil {
		return nil, err
	}
	after, err := Evaluate(iv, res.Model)
	if err != nil {
		return nil, err
	}

	r := &Report{
		RunID:     core.NewRunID(),
		CreatedAt: time.Now().UTC(),
		Summary:   iv.Summary(),
		Fits:      fits,
		Training:  res,
		Before:    before,
		After:     after,
		Corrected: res.Model.Snapshot(),
	}
	if before.Spread != nil && after.Spread != nil && before.Spread.Mean > 0 {
		r.Reduction = 1 - after.Spread.Mean/before.Spread.Mean
	}

	proxy := make(map[string]bool)
	for _, p := range iv.Proxies() {
		proxy[p] = true
	}
	for _, p := range iv.Proxies() {
		dep := ProxyDependence{Proxy: p}
		if dep.Before, err = Associate(iv, original, p, opts); err != nil {
			return nil, err
		}
		if dep.After, err = Associate(iv, res.Model, p, opts); err != nil {
			return nil, err
		}
		r.Dependence = append(r.Dependence, dep)
	}

	origState := original.Snapshot()
	for i, v := range iv.TargetParents() {
		if proxy[v] {
			r.Weights = append(r.Weights, ProxyWeight{
				Proxy:  v,
				Before: origState.Inputs[i].Weight,
				After:  r.Corrected.Inputs[i].Weight,
			})
		}
	}
	return r, nil
}

// JSON renders the report indented.
func (r *Report) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode report")
	}
	return data, nil
}

// Headline is a one-line human summary.
func (r *Report) Headline() string {
	head := fmt.Sprintf("run %s (spec %s): %s corrected for %v",
		r.RunID, r.Summary.SpecHash.Short(), r.Summary.Target, r.Summary.Proxies)
	if r.Before.Spread == nil || r.After.Spread == nil {
		return head + ", single intervention so no variance across interventions"
	}
	return fmt.Sprintf("%s, mean variance across interventions %.4g -> %.4g (%.1f%% reduction)",
		head, r.Before.Spread.Mean, r.After.Spread.Mean, 100*r.Reduction)
}
