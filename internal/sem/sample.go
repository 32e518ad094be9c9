package sem

import (
	"fmt"
	"sort"

	"causalfix/domain/core"

	"gonum.org/v1/gonum/mat"
)

// Sample holds one n×dim matrix per vertex; row i of every matrix belongs to
// the same individual.
type Sample map[string]*mat.Dense

// Rows returns the shared row count, or an error if matrices disagree.
func (s Sample) Rows() (int, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("%w: empty sample", core.ErrInsufficientData)
	}
	rows := -1
	for _, v := range s.Vertices() {
		r, _ := s[v].Dims()
		if rows == -1 {
			rows = r
			continue
		}
		if r != rows {
			return 0, fmt.Errorf("%w: %s has %d rows, expected %d", core.ErrShapeMismatch, v, r, rows)
		}
	}
	return rows, nil
}

// Vertices returns the sample's vertex names, sorted.
func (s Sample) Vertices() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Clone deep-copies every matrix.
func (s Sample) Clone() Sample {
	out := make(Sample, len(s))
	for v, m := range s {
		out[v] = mat.DenseCopyOf(m)
	}
	return out
}

// Column returns column 0 of v.
func (s Sample) Column(v string) ([]float64, error) {
	m, ok := s[v]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrVariableNotFound, v)
	}
	return mat.Col(nil, 0, m), nil
}

// Dim returns the column count of v.
func (s Sample) Dim(v string) (int, error) {
	m, ok := s[v]
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrVariableNotFound, v)
	}
	_, c := m.Dims()
	return c, nil
}

// Permute returns a new sample whose row i is row perm[i] of s.
func (s Sample) Permute(perm []int) Sample {
	out := make(Sample, len(s))
	for v, m := range s {
		_, c := m.Dims()
		p := mat.NewDense(len(perm), c, nil)
		for i, src := range perm {
			p.SetRow(i, m.RawRowView(src))
		}
		out[v] = p
	}
	return out
}

// Combine concatenates the columns of the given vertices, in order.
func Combine(vertices []string, s Sample) (*mat.Dense, error) {
	if len(vertices) == 0 {
		return nil, fmt.Errorf("combine: no vertices")
	}
	rows, width := -1, 0
	for _, v := range vertices {
		m, ok := s[v]
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrVariableNotFound, v)
		}
		r, c := m.Dims()
		if rows != -1 && r != rows {
			return nil, fmt.Errorf("%w: %s has %d rows, expected %d", core.ErrShapeMismatch, v, r, rows)
		}
		rows = r
		width += c
	}
	out := mat.NewDense(rows, width, nil)
	off := 0
	for _, v := range vertices {
		_, c := s[v].Dims()
		out.Slice(0, rows, off, off+c).(*mat.Dense).Copy(s[v])
		off += c
	}
	return out, nil
}
