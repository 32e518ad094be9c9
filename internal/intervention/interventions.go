// Package intervention builds counterfactual training sets by intervening on
// proxy vertices of an SEM and retrains the first layer of a target's
// equation so that its output no longer depends on those proxies.
package intervention

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"causalfix/domain/core"
	"causalfix/internal"
	"causalfix/internal/draw"
	"causalfix/internal/errors"
	"causalfix/internal/graph"
	"causalfix/internal/nn"
	"causalfix/internal/sem"
	"causalfix/ports"

	"golang.org/x/sync/errgroup"
)

// DefaultTarget is the vertex corrected when none is given.
const DefaultTarget = "Y"

// Config carries the non-semantic knobs of an Interventions.
type Config struct {
	Seed    int64
	Workers int
	Streams ports.RNGPort
}

// Interventions manages the intervened training sets for one target.
type Interventions struct {
	model          *sem.SEM
	base           sem.Sample
	spec           Spec
	proxies        []string
	target         string
	intervened     *graph.DAG
	nSamples       int
	nInterventions int
	assignments    []map[string]Option
	training       []sem.Sample

	cfg Config
	log *internal.Logger
}

// New validates the request and prepares an Interventions. target defaults
// to DefaultTarget.
func New(model *sem.SEM, base sem.Sample, spec Spec, target string, cfg Config) (*Interventions, error) {
	if target == "" {
		target = DefaultTarget
	}
	if cfg.Streams == nil {
		return nil, errors.InvalidInput("interventions need a random stream source")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	n, err := base.Rows()
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}

	iv := &Interventions{
		model:    model,
		base:     base,
		spec:     spec,
		proxies:  spec.Proxies(),
		target:   target,
		nSamples: n,
		cfg:      cfg,
		log:      internal.DefaultLogger.With("interventions"),
	}
	iv.intervened = model.IntervenedGraph(iv.proxies)
	iv.assignments = spec.Assignments()
	iv.nInterventions = spec.Count()

	if err := iv.checkInput(); err != nil {
		return nil, err
	}
	return iv, nil
}

func (iv *Interventions) checkInput() error {
	if !iv.model.Graph().Has(iv.target) {
		return errors.WithCode(errors.CodeInvalidInput, core.NewVertexNotFoundError(iv.target))
	}
	if !slices.Contains(iv.model.Leafs(), iv.target) {
		return errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("%w: can't correct for non-leaf %s", core.ErrNotLeaf, iv.target))
	}
	for _, proxy := range iv.proxies {
		if !iv.model.Graph().Has(proxy) {
			return errors.WithCode(errors.CodeInvalidInput, core.NewVertexNotFoundError(proxy))
		}
		if !slices.Contains(iv.model.Descendants(proxy), iv.target) {
			return errors.WithCode(errors.CodeInvalidInput,
				fmt.Errorf("%w: can't correct for non-descendant %s of %s", core.ErrNotAffected, iv.target, proxy))
		}
		d, err := iv.base.Dim(proxy)
		if err != nil {
			return errors.WithCode(errors.CodeInvalidInput, err)
		}
		if d != 1 {
			return errors.WithCode(errors.CodeInvalidInput, core.NewShapeError("columns of proxy "+proxy, 1, d))
		}
	}
	for _, v := range iv.model.Vertices() {
		if _, ok := iv.base[v]; !ok {
			return errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("%w: %s", core.ErrVariableNotFound, v))
		}
	}
	return nil
}

// Target returns the corrected vertex.
func (iv *Interventions) Target() string { return iv.target }

// Proxies returns the intervened vertices, sorted.
func (iv *Interventions) Proxies() []string { return append([]string(nil), iv.proxies...) }

// NSamples returns the number of rows per training sample.
func (iv *Interventions) NSamples() int { return iv.nSamples }

// NInterventions returns the number of joint interventions, i.e. training
// samples.
func (iv *Interventions) NInterventions() int { return iv.nInterventions }

// IntervenedGraph returns the graph with the proxies' incoming edges cut.
func (iv *Interventions) IntervenedGraph() *graph.DAG { return iv.intervened }

// TargetParents returns the target's parents in model input order.
func (iv *Interventions) TargetParents() []string { return iv.intervened.Parents(iv.target) }

// TrainingSamples returns the samples of the last generation. Nil before
// GenerateSamples or TrainCorrected has run.
func (iv *Interventions) TrainingSamples() []sem.Sample { return iv.training }

// Labels describes each intervention, aligned with TrainingSamples.
func (iv *Interventions) Labels() []string {
	out := make([]string, len(iv.assignments))
	for k, a := range iv.assignments {
		parts := make([]string, 0, len(iv.proxies))
		for _, p := range iv.proxies {
			parts = append(parts, p+"="+a[p].String())
		}
		out[k] = strings.Join(parts, ", ")
	}
	return out
}

// GenerateSamples creates one intervened copy of the base sample per
// intervention and propagates it through the proxies' descendants.
func (iv *Interventions) GenerateSamples(ctx context.Context) error {
	if err := iv.createIntervenedSamples(); err != nil {
		return err
	}
	return iv.update(ctx)
}

func (iv *Interventions) createIntervenedSamples() error {
	iv.training = make([]sem.Sample, 0, iv.nInterventions)
	iv.log.Info("initialize %d training samples with intervened values", iv.nInterventions)
	for k, a := range iv.assignments {
		sample := iv.base.Clone()
		for _, proxy := range iv.proxies {
			o := a[proxy]
			rng := iv.cfg.Streams.Stream(fmt.Sprintf("intervention/%d/%s", k, proxy), iv.cfg.Seed)
			col, err := draw.Column(o.Func, o.Params, iv.nSamples, rng)
			if err != nil {
				return errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("proxy %s: %w", proxy, err))
			}
			sample[proxy] = col
		}
		iv.training = append(iv.training, sample)
	}
	return nil
}

// updateOrder lists the vertices recomputed after intervening: everything in
// topological order of the intervened graph except its roots and the target.
func (iv *Interventions) updateOrder() []string {
	exclude := make(map[string]bool)
	for _, r := range iv.intervened.Roots() {
		exclude[r] = true
	}
	exclude[iv.target] = true

	var update []string
	for _, v := range iv.intervened.TopologicalSort() {
		if !exclude[v] {
			update = append(update, v)
		}
	}
	return update
}

func (iv *Interventions) update(ctx context.Context) error {
	update := iv.updateOrder()
	iv.log.Info("predict non-roots %v in all intervened samples", update)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(iv.cfg.Workers)
	for _, sample := range iv.training {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return errors.Cancelled(err)
			}
			_, err := iv.model.PredictFromSample(sample, update, true)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return errors.Wrap(err, "propagate intervened samples")
	}
	iv.log.Debug("all intervened samples updated")
	return nil
}

// copyAndFreeze deep-copies model and freezes everything except the first
// layer weights (and biases if asked) reading a proxy.
func (iv *Interventions) copyAndFreeze(model *nn.Network, biases bool) *nn.Network {
	corrected := model.Clone()
	corrected.Freeze()

	proxy := make(map[string]bool, len(iv.proxies))
	for _, p := range iv.proxies {
		proxy[p] = true
	}
	for i, v := range iv.intervened.Parents(iv.target) {
		if !proxy[v] {
			continue
		}
		corrected.Inputs[i].Weight.RequiresGrad = true
		if biases {
			corrected.Inputs[i].Bias.RequiresGrad = true
		}
	}
	return corrected
}

// Summary describes the training set layout.
type Summary struct {
	Target         string        `json:"target"`
	Proxies        []string      `json:"proxies"`
	NSamples       int           `json:"n_samples"`
	NInterventions int           `json:"n_interventions"`
	Spec           Spec          `json:"spec"`
	SpecHash       core.SpecHash `json:"spec_hash"`
}

// Summary returns sample size, intervention count and the spec.
func (iv *Interventions) Summary() Summary {
	return Summary{
		Target:         iv.target,
		Proxies:        iv.Proxies(),
		NSamples:       iv.nSamples,
		NInterventions: iv.nInterventions,
		Spec:           iv.spec,
		SpecHash:       iv.spec.Hash(),
	}
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sample size: %d, Number of interventions %d\n", s.NSamples, s.NInterventions)
	for _, p := range s.Spec.Proxies() {
		opts := s.Spec.Options(p)
		names := make([]string, len(opts))
		for i, o := range opts {
			names[i] = o.String()
		}
		fmt.Fprintf(&b, "  %s: %s\n", p, strings.Join(names, ", "))
	}
	return b.String()
}
