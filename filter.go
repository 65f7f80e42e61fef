package piramid

import "github.com/gbchill/piramid/pkg/search"

// Op is one of the filter grammar's closed set of operators (§4.12).
type Op string

const (
	OpEq  Op = Op(search.OpEq)
	OpNe  Op = Op(search.OpNe)
	OpGt  Op = Op(search.OpGt)
	OpGte Op = Op(search.OpGte)
	OpLt  Op = Op(search.OpLt)
	OpLte Op = Op(search.OpLte)
	OpIn  Op = Op(search.OpIn)
)

// Condition is one per-key clause of a Filter.
type Condition struct {
	Key   string
	Op    Op
	Value any
}

// Filter is a conjunction (AND-only) of per-key metadata conditions
// applied after candidate rescore (§4.12). The zero value matches every
// document.
type Filter struct {
	Conditions []Condition
}

// Eq appends an equality condition and returns f, for simple call-site
// chaining: piramid.NewFilter().Eq("lang", "en").
func (f *Filter) Eq(key string, value any) *Filter  { return f.add(key, OpEq, value) }
func (f *Filter) Ne(key string, value any) *Filter  { return f.add(key, OpNe, value) }
func (f *Filter) Gt(key string, value any) *Filter  { return f.add(key, OpGt, value) }
func (f *Filter) Gte(key string, value any) *Filter { return f.add(key, OpGte, value) }
func (f *Filter) Lt(key string, value any) *Filter  { return f.add(key, OpLt, value) }
func (f *Filter) Lte(key string, value any) *Filter { return f.add(key, OpLte, value) }
func (f *Filter) In(key string, values []any) *Filter {
	return f.add(key, OpIn, values)
}

func (f *Filter) add(key string, op Op, value any) *Filter {
	f.Conditions = append(f.Conditions, Condition{Key: key, Op: op, Value: value})
	return f
}

// NewFilter returns an empty Filter ready for chained conditions.
func NewFilter() *Filter { return &Filter{} }

func (f *Filter) toSearch() *search.Filter {
	if f == nil || len(f.Conditions) == 0 {
		return nil
	}
	sf := &search.Filter{Conditions: make([]search.Condition, len(f.Conditions))}
	for i, c := range f.Conditions {
		sf.Conditions[i] = search.Condition{Key: c.Key, Op: search.Op(c.Op), Value: c.Value}
	}
	return sf
}
