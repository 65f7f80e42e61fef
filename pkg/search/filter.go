// Package search implements the query pipeline (§4.12): preflight
// validation, candidate fetch against an ANN index, exact-metric rescore,
// metadata filtering, deterministic top-k merge, and batch search.
package search

import (
	"fmt"
	"reflect"
)

// Op is one of the filter grammar's closed set of operators (§4.12).
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Condition is one per-key clause of a filter.
type Condition struct {
	Key   string
	Op    Op
	Value any
}

// Filter is a conjunction (AND-only, §4.12) of per-key conditions. A nil
// or empty Filter matches every document.
type Filter struct {
	Conditions []Condition
}

// Empty reports whether f has no conditions (matches everything).
func (f *Filter) Empty() bool { return f == nil || len(f.Conditions) == 0 }

// Validate rejects an unknown operator or, for "in", a non-sequence value,
// per the validation-error semantics in §7 (bad filter operand type is a
// KindValidation condition one level up, in the collection layer).
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	for _, c := range f.Conditions {
		switch c.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		case OpIn:
			if _, ok := c.Value.([]any); !ok {
				return fmt.Errorf("filter: key %q: \"in\" requires a sequence value, got %T", c.Key, c.Value)
			}
		default:
			return fmt.Errorf("filter: key %q: unknown operator %q", c.Key, c.Op)
		}
	}
	return nil
}

// Match evaluates f against a document's metadata. Missing keys make the
// corresponding condition false (§4.12).
func (f *Filter) Match(meta map[string]any) bool {
	if f.Empty() {
		return true
	}
	for _, c := range f.Conditions {
		v, ok := meta[c.Key]
		if !ok {
			return false
		}
		if !evalCondition(c.Op, v, c.Value) {
			return false
		}
	}
	return true
}

func evalCondition(op Op, have, want any) bool {
	switch op {
	case OpEq:
		return valuesEqual(have, want)
	case OpNe:
		return !valuesEqual(have, want)
	case OpIn:
		seq, ok := want.([]any)
		if !ok {
			return false
		}
		for _, candidate := range seq {
			if valuesEqual(have, candidate) {
				return true
			}
		}
		return false
	default:
		cmp, ok := compareOrdered(have, want)
		if !ok {
			return false
		}
		switch op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		case OpLte:
			return cmp <= 0
		}
		return false
	}
}

// valuesEqual compares tagged metadata values (§3's null/bool/int64/
// float64/string/sequence set). Numeric values compare by converted
// float64 value so an int64 key matches a float64 query literal and vice
// versa; sequences compare with reflect.DeepEqual, and every other type
// compares by Go equality.
func valuesEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	if _, aok := a.([]any); aok {
		return reflect.DeepEqual(a, b)
	}
	if _, bok := b.([]any); bok {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

// compareOrdered returns (-1|0|1, true) for two ordered values (numeric or
// string), or (_, false) when the pair cannot be ordered against each
// other.
func compareOrdered(a, b any) (int, bool) {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
