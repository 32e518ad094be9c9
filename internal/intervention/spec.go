package intervention

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"causalfix/domain/core"
	"causalfix/internal/draw"
	"causalfix/internal/errors"

	"gopkg.in/yaml.v3"
)

// Tuples is a list of parameter tuples for one function. In YAML a single
// flat list is accepted as one tuple.
type Tuples [][]float64

// UnmarshalYAML accepts [[0, 3], [0, 1]] as well as [0, 3].
func (t *Tuples) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode && len(node.Content) > 0 && node.Content[0].Kind == yaml.ScalarNode {
		var one []float64
		if err := node.Decode(&one); err != nil {
			return err
		}
		*t = Tuples{one}
		return nil
	}
	if node.Kind == yaml.ScalarNode {
		var v float64
		if err := node.Decode(&v); err != nil {
			return err
		}
		*t = Tuples{{v}}
		return nil
	}
	var many [][]float64
	if err := node.Decode(&many); err != nil {
		return err
	}
	*t = many
	return nil
}

// Spec maps each proxy to the functions that generate its intervened values,
// each with one or more parameter tuples:
//
//	P:
//	  randn: [[0, 3], [0, 3]]
//	  const: [[1], [0]]
//	  range: [[-1, 1]]
//	X:
//	  randn: [[0, 1], [0, 1], [0, 1]]
type Spec map[string]map[string]Tuples

// Option is one way to set one proxy.
type Option struct {
	Func   string
	Params []float64
}

func (o Option) String() string {
	parts := make([]string, len(o.Params))
	for i, p := range o.Params {
		parts[i] = strconv.FormatFloat(p, 'g', -1, 64)
	}
	return o.Func + "(" + strings.Join(parts, ", ") + ")"
}

// LoadSpec reads a YAML spec file.
func LoadSpec(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IOError(path, err)
	}
	spec, err := ParseSpec(data)
	if err != nil {
		return nil, errors.Wrapf(err, "intervention spec %s", path)
	}
	return spec, nil
}

// ParseSpec decodes and validates a YAML spec.
func ParseSpec(data []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks that there is at least one proxy, every proxy has at least
// one tuple, and every tuple fits its function.
func (s Spec) Validate() error {
	if len(s) == 0 {
		return errors.InvalidInput("intervention spec names no proxies")
	}
	for _, proxy := range s.Proxies() {
		opts := s.Options(proxy)
		if len(opts) == 0 {
			return errors.InvalidInputf("proxy %s has no interventions", proxy)
		}
		for _, o := range opts {
			if err := draw.Validate(o.Func, o.Params); err != nil {
				return errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("proxy %s: %w", proxy, err))
			}
		}
	}
	return nil
}

// Proxies returns the intervened vertices, sorted.
func (s Spec) Proxies() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Options lists the settings of proxy: functions sorted by name, tuples in
// listed order.
func (s Spec) Options(proxy string) []Option {
	funcs := make([]string, 0, len(s[proxy]))
	for f := range s[proxy] {
		funcs = append(funcs, f)
	}
	sort.Strings(funcs)

	var out []Option
	for _, f := range funcs {
		for _, params := range s[proxy][f] {
			out = append(out, Option{Func: f, Params: append([]float64(nil), params...)})
		}
	}
	return out
}

// Count is the number of joint interventions: the product over proxies of
// their option counts.
func (s Spec) Count() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, p := range s.Proxies() {
		n *= len(s.Options(p))
	}
	return n
}

// Assignments enumerates every joint intervention. Proxies follow Proxies()
// order and the last proxy varies fastest.
func (s Spec) Assignments() []map[string]Option {
	proxies := s.Proxies()
	opts := make([][]Option, len(proxies))
	for i, p := range proxies {
		opts[i] = s.Options(p)
	}

	total := s.Count()
	out := make([]map[string]Option, 0, total)
	idx := make([]int, len(proxies))
	for k := 0; k < total; k++ {
		a := make(map[string]Option, len(proxies))
		for i, p := range proxies {
			a[p] = opts[i][idx[i]]
		}
		out = append(out, a)
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(opts[i]) {
				break
			}
			idx[i] = 0
		}
	}
	return out
}

// Hash fingerprints the spec.
func (s Spec) Hash() core.SpecHash {
	plain := make(map[string]map[string][][]float64, len(s))
	for p, funcs := range s {
		plain[p] = make(map[string][][]float64, len(funcs))
		for f, t := range funcs {
			plain[p][f] = t
		}
	}
	return core.ComputeSpecHash(plain)
}
