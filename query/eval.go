package query

import (
	"fmt"
	"strings"
)

// Match evaluates f against record, implementing the comparison semantics
// every reference/in-memory implementation relies on. Missing fields
// compare as nil.
func Match(f FilterCondition, record map[string]any) bool {
	switch f.Kind {
	case NodeComparison:
		return matchComparison(f, record)
	case NodeAnd:
		for _, c := range f.Children {
			if !Match(c, record) {
				return false
			}
		}
		return true
	case NodeOr:
		for _, c := range f.Children {
			if Match(c, record) {
				return true
			}
		}
		return len(f.Children) == 0
	case NodeNot:
		if f.Child == nil {
			return true
		}
		return !Match(*f.Child, record)
	default:
		return false
	}
}

func matchComparison(f FilterCondition, record map[string]any) bool {
	actual := record[f.Field]
	switch f.Operator {
	case OpEq:
		return compareEqual(actual, f.Value)
	case OpNeq:
		return !compareEqual(actual, f.Value)
	case OpLt:
		c, ok := compareOrdered(actual, f.Value)
		return ok && c < 0
	case OpLte:
		c, ok := compareOrdered(actual, f.Value)
		return ok && c <= 0
	case OpGt:
		c, ok := compareOrdered(actual, f.Value)
		return ok && c > 0
	case OpGte:
		c, ok := compareOrdered(actual, f.Value)
		return ok && c >= 0
	case OpIn:
		return membership(actual, f.Value)
	case OpNin:
		return !membership(actual, f.Value)
	case OpContains:
		return stringContains(actual, f.Value, strings.Contains)
	case OpStartsWith:
		return stringContains(actual, f.Value, strings.HasPrefix)
	case OpEndsWith:
		return stringContains(actual, f.Value, strings.HasSuffix)
	case OpLike:
		return stringContains(actual, f.Value, strings.Contains)
	case OpBetween:
		bounds, ok := f.Value.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		lo, okLo := compareOrdered(actual, bounds[0])
		hi, okHi := compareOrdered(actual, bounds[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	default:
		return false
	}
}

func compareEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareOrdered returns -1/0/1 comparing a to b, and ok=false when neither
// a numeric nor a lexical comparison is possible (e.g. one side is nil).
func compareOrdered(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func membership(actual, list any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if compareEqual(actual, item) {
			return true
		}
	}
	return false
}

func stringContains(actual, needle any, fn func(s, substr string) bool) bool {
	as, ok := actual.(string)
	if !ok {
		return false
	}
	ns, ok := needle.(string)
	if !ok {
		return false
	}
	return fn(as, ns)
}
