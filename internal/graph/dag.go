// Package graph holds the named-vertex DAG underlying a structural equation
// model. Storage, reachability and ordering are delegated to gonum; this type
// adds stable names and parent order, which decides how parent values are laid
// out in a learned model's input.
package graph

import (
	"fmt"
	"sort"

	"causalfix/domain/core"

	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
)

// DAG is a directed acyclic graph over named vertices.
type DAG struct {
	g        *simple.DirectedGraph
	ids      map[string]int64
	names    []string
	parents  map[string][]string
	children map[string][]string
}

// New returns an empty DAG.
func New() *DAG {
	return &DAG{
		g:        simple.NewDirectedGraph(),
		ids:      make(map[string]int64),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}
}

// AddVertex adds a vertex. Names must be unique and non-empty.
func (d *DAG) AddVertex(name string) error {
	if name == "" {
		return fmt.Errorf("vertex name cannot be empty")
	}
	if _, ok := d.ids[name]; ok {
		return fmt.Errorf("%w: %s", core.ErrDuplicate, name)
	}
	id := int64(len(d.names))
	d.g.AddNode(simple.Node(id))
	d.ids[name] = id
	d.names = append(d.names, name)
	return nil
}

// AddEdge adds from -> to. The edge is rejected if it closes a cycle.
func (d *DAG) AddEdge(from, to string) error {
	fid, ok := d.ids[from]
	if !ok {
		return core.NewVertexNotFoundError(from)
	}
	tid, ok := d.ids[to]
	if !ok {
		return core.NewVertexNotFoundError(to)
	}
	if fid == tid {
		return fmt.Errorf("%w: %s", core.ErrSelfLoop, from)
	}
	if d.g.HasEdgeFromTo(fid, tid) {
		return nil
	}
	if topo.PathExistsIn(d.g, d.g.Node(tid), d.g.Node(fid)) {
		return fmt.Errorf("%w: %s -> %s", core.ErrCycle, from, to)
	}
	d.g.SetEdge(d.g.NewEdge(d.g.Node(fid), d.g.Node(tid)))
	d.parents[to] = append(d.parents[to], from)
	d.children[from] = append(d.children[from], to)
	return nil
}

// Has reports whether name is a vertex.
func (d *DAG) Has(name string) bool {
	_, ok := d.ids[name]
	return ok
}

// Vertices returns vertex names in insertion order.
func (d *DAG) Vertices() []string {
	return append([]string(nil), d.names...)
}

// Parents returns the direct parents of v in the order their edges were added.
func (d *DAG) Parents(v string) []string {
	return append([]string(nil), d.parents[v]...)
}

// Children returns the direct children of v in edge order.
func (d *DAG) Children(v string) []string {
	return append([]string(nil), d.children[v]...)
}

// Roots returns vertices without parents, in insertion order.
func (d *DAG) Roots() []string {
	var out []string
	for _, n := range d.names {
		if len(d.parents[n]) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// Leafs returns vertices without children, in insertion order.
func (d *DAG) Leafs() []string {
	var out []string
	for _, n := range d.names {
		if len(d.children[n]) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// Descendants returns every vertex reachable from v, excluding v.
func (d *DAG) Descendants(v string) []string {
	return d.reach(v, d.g)
}

// Ancestors returns every vertex from which v is reachable, excluding v.
func (d *DAG) Ancestors(v string) []string {
	return d.reach(v, reversed{d.g})
}

func (d *DAG) reach(v string, g traverse.Graph) []string {
	id, ok := d.ids[v]
	if !ok {
		return nil
	}
	seen := make(map[int64]bool)
	bf := traverse.BreadthFirst{
		Visit: func(n gonum.Node) {
			if n.ID() != id {
				seen[n.ID()] = true
			}
		},
	}
	bf.Walk(g, d.g.Node(id), nil)

	var out []string
	for i, n := range d.names {
		if seen[int64(i)] {
			out = append(out, n)
		}
	}
	return out
}

// IsDescendant reports whether w is reachable from v.
func (d *DAG) IsDescendant(w, v string) bool {
	vid, ok := d.ids[v]
	if !ok {
		return false
	}
	wid, ok := d.ids[w]
	if !ok || vid == wid {
		return false
	}
	return topo.PathExistsIn(d.g, d.g.Node(vid), d.g.Node(wid))
}

// TopologicalSort orders vertices so that every edge points forward. Ties are
// broken by insertion order.
func (d *DAG) TopologicalSort() []string {
	nodes, err := topo.SortStabilized(d.g, func(ns []gonum.Node) {
		sort.Slice(ns, func(i, j int) bool { return ns[i].ID() < ns[j].ID() })
	})
	if err != nil {
		// AddEdge keeps the graph acyclic.
		panic(fmt.Sprintf("graph: unorderable DAG: %v", err))
	}
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = d.names[n.ID()]
	}
	return out
}

// Intervened returns a copy with every edge into a proxy removed, as under
// do(proxy := value). Unknown proxies are ignored.
func (d *DAG) Intervened(proxies []string) *DAG {
	cut := make(map[string]bool, len(proxies))
	for _, p := range proxies {
		cut[p] = true
	}
	out := New()
	for _, n := range d.names {
		_ = out.AddVertex(n)
	}
	for _, n := range d.names {
		if cut[n] {
			continue
		}
		for _, p := range d.parents[n] {
			_ = out.AddEdge(p, n)
		}
	}
	return out
}

// reversed flips edge direction for ancestor walks.
type reversed struct {
	g *simple.DirectedGraph
}

func (r reversed) From(id int64) gonum.Nodes { return r.g.To(id) }

func (r reversed) Edge(uid, vid int64) gonum.Edge { return r.g.Edge(vid, uid) }
