package params

import (
	"math"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
)

// Parameter is one named entry of the full vector.
type Parameter struct {
	Name  string
	Value float64
	Lower float64
	Upper float64
	Fixed bool
}

// Layout is the ordered set of parameters of a fit. It owns the todel and
// fixed arrays so they are never separated.
type Layout struct {
	params []Parameter
	index  map[string]int
	todel  []int
	fixed  []float64
}

// NewLayout builds a layout. Names must be unique and every free
// parameter's initial value must lie within its bounds.
func NewLayout(ps []Parameter) (*Layout, error) {
	l := &Layout{
		params: append([]Parameter(nil), ps...),
		index:  make(map[string]int, len(ps)),
	}
	for i, p := range l.params {
		if _, dup := l.index[p.Name]; dup {
			return nil, fiterr.Invalid("params.NewLayout", "parameter %q defined twice", p.Name)
		}
		l.index[p.Name] = i
		if p.Fixed {
			l.todel = append(l.todel, i)
			l.fixed = append(l.fixed, p.Value)
			continue
		}
		if math.IsNaN(p.Value) || p.Lower > p.Upper || p.Value < p.Lower || p.Value > p.Upper {
			return nil, fiterr.Invalid("params.NewLayout", "%s=%g outside [%g, %g]", p.Name, p.Value, p.Lower, p.Upper)
		}
	}
	return l, nil
}

// Len returns the length of the full vector.
func (l *Layout) Len() int { return len(l.params) }

// NumFree returns the length of the reduced vector.
func (l *Layout) NumFree() int { return len(l.params) - len(l.todel) }

// Names returns the names of the full vector.
func (l *Layout) Names() []string {
	names := make([]string, len(l.params))
	for i, p := range l.params {
		names[i] = p.Name
	}
	return names
}

// FreeNames returns the names of the reduced vector.
func (l *Layout) FreeNames() []string {
	names := make([]string, 0, l.NumFree())
	for _, p := range l.params {
		if !p.Fixed {
			names = append(names, p.Name)
		}
	}
	return names
}

// Index returns the full-vector position of name, or -1.
func (l *Layout) Index(name string) int {
	if i, ok := l.index[name]; ok {
		return i
	}
	return -1
}

// Parameter returns the definition at full-vector position i.
func (l *Layout) Parameter(i int) Parameter { return l.params[i] }

// Todel returns the fixed indices in ascending order.
func (l *Layout) Todel() []int { return append([]int(nil), l.todel...) }

// Fixed returns the values held at Todel.
func (l *Layout) Fixed() []float64 { return append([]float64(nil), l.fixed...) }

// Initial returns the full vector of initial values.
func (l *Layout) Initial() []float64 {
	v := make([]float64, len(l.params))
	for i, p := range l.params {
		v[i] = p.Value
	}
	return v
}

// InitialFree returns the reduced vector of initial values.
func (l *Layout) InitialFree() []float64 {
	r, _, _ := Reduce(l.Initial(), l.todel)
	return r
}

// Bounds returns the box-prior bounds of the reduced vector, reduced with
// the same todel as the parameters.
func (l *Layout) Bounds() (lower, upper []float64) {
	lo := make([]float64, len(l.params))
	hi := make([]float64, len(l.params))
	for i, p := range l.params {
		lo[i], hi[i] = p.Lower, p.Upper
	}
	lower, _, _ = Reduce(lo, l.todel)
	upper, _, _ = Reduce(hi, l.todel)
	return lower, upper
}

// Expand returns the full vector for a reduced vector.
func (l *Layout) Expand(reduced []float64) ([]float64, error) {
	if len(reduced) != l.NumFree() {
		return nil, fiterr.Invalid("params.Layout.Expand", "got %d free values, want %d", len(reduced), l.NumFree())
	}
	return Expand(reduced, l.todel, l.fixed)
}

// Reduce returns the reduced vector of a full vector.
func (l *Layout) Reduce(full []float64) ([]float64, error) {
	if len(full) != len(l.params) {
		return nil, fiterr.Invalid("params.Layout.Reduce", "got %d values, want %d", len(full), len(l.params))
	}
	r, _, err := Reduce(full, l.todel)
	return r, err
}
