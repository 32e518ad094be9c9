// Package sem provides structural equation models: a DAG of vertices where
// every non-root vertex has a learned network predicting it from its parents.
package sem

import (
	"fmt"

	"causalfix/domain/core"
	"causalfix/internal"
	"causalfix/internal/graph"
	"causalfix/internal/nn"
)

// SEM is a structural equation model with learned equations.
type SEM struct {
	graph   *graph.DAG
	dims    map[string]int
	learned map[string]*nn.Network
	log     *internal.Logger
}

// New creates an SEM over g. dims gives the column count of every vertex;
// missing entries default to 1.
func New(g *graph.DAG, dims map[string]int) (*SEM, error) {
	d := make(map[string]int)
	for _, v := range g.Vertices() {
		d[v] = 1
	}
	for v, n := range dims {
		if !g.Has(v) {
			return nil, core.NewVertexNotFoundError(v)
		}
		if n < 1 {
			return nil, fmt.Errorf("%w: %s has width %d", core.ErrShapeMismatch, v, n)
		}
		d[v] = n
	}
	return &SEM{
		graph:   g,
		dims:    d,
		learned: make(map[string]*nn.Network),
		log:     internal.DefaultLogger.With("sem"),
	}, nil
}

// Graph returns the underlying DAG.
func (s *SEM) Graph() *graph.DAG { return s.graph }

// Dim returns the column count of v.
func (s *SEM) Dim(v string) int { return s.dims[v] }

// Vertices returns all vertices in insertion order.
func (s *SEM) Vertices() []string { return s.graph.Vertices() }

// Roots returns vertices without parents.
func (s *SEM) Roots() []string { return s.graph.Roots() }

// Leafs returns vertices without children.
func (s *SEM) Leafs() []string { return s.graph.Leafs() }

// Parents returns the parents of v in model input order.
func (s *SEM) Parents(v string) []string { return s.graph.Parents(v) }

// Descendants returns every vertex reachable from v.
func (s *SEM) Descendants(v string) []string { return s.graph.Descendants(v) }

// IntervenedGraph returns the DAG with incoming edges of proxies removed.
func (s *SEM) IntervenedGraph(proxies []string) *graph.DAG {
	return s.graph.Intervened(proxies)
}

// SetLearned installs the equation of v after checking it reads the parents
// of v with the right widths and produces the width of v.
func (s *SEM) SetLearned(v string, n *nn.Network) error {
	if !s.graph.Has(v) {
		return core.NewVertexNotFoundError(v)
	}
	parents := s.graph.Parents(v)
	if len(parents) == 0 {
		return fmt.Errorf("root %s has no equation to learn", v)
	}
	if len(n.InputDims) != len(parents) {
		return core.NewShapeError("inputs of "+v, len(parents), len(n.InputDims))
	}
	for i, p := range parents {
		if n.InputDims[i] != s.dims[p] {
			return core.NewShapeError(fmt.Sprintf("input %s of %s", p, v), s.dims[p], n.InputDims[i])
		}
	}
	if n.OutputWidth() != s.dims[v] {
		return core.NewShapeError("output of "+v, s.dims[v], n.OutputWidth())
	}
	s.learned[v] = n
	return nil
}

// Learned returns the equation of v.
func (s *SEM) Learned(v string) (*nn.Network, error) {
	n, ok := s.learned[v]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrModelNotFound, v)
	}
	return n, nil
}

// PredictFromSample recomputes the vertices in update, in the given order,
// from their parents' current values. A nil update means every non-root in
// topological order. Unless mutate is set the input sample is left as is and
// a modified copy is returned.
func (s *SEM) PredictFromSample(sample Sample, update []string, mutate bool) (Sample, error) {
	if update == nil {
		for _, v := range s.graph.TopologicalSort() {
			if len(s.graph.Parents(v)) > 0 {
				update = append(update, v)
			}
		}
	}
	if !mutate {
		sample = sample.Clone()
	}
	for _, v := range update {
		model, err := s.Learned(v)
		if err != nil {
			return nil, err
		}
		x, err := Combine(s.graph.Parents(v), sample)
		if err != nil {
			return nil, fmt.Errorf("inputs of %s: %w", v, err)
		}
		y, err := model.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("predict %s: %w", v, err)
		}
		sample[v] = y
	}
	s.log.Trace("updated %v", update)
	return sample, nil
}
