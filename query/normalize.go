package query

import (
	"fmt"

	"github.com/objectql-dev/objectql/apierr"
)

// legacyOpByMongoStyle maps $eq/$ne/... operators (legacy object filter
// form, e.g. {field:{$gte:5}}) onto the canonical Operator set.
var legacyOpByMongoStyle = map[string]Operator{
	"$eq":    OpEq,
	"$ne":    OpNeq,
	"$gt":    OpGt,
	"$gte":   OpGte,
	"$lt":    OpLt,
	"$lte":   OpLte,
	"$in":    OpIn,
	"$nin":   OpNin,
	"$regex": OpLike,
}

// arrayOpBySymbol maps the symbol used in a 3-tuple array filter
// ([field, op, value]) onto the canonical Operator set. The array form
// uses the same symbols as Operator itself, so this is mostly identity,
// but is kept explicit so malformed input is rejected rather than passed
// through silently.
var arrayOpBySymbol = map[string]Operator{
	"=": OpEq, "!=": OpNeq, "<": OpLt, "<=": OpLte, ">": OpGt, ">=": OpGte,
	"in": OpIn, "nin": OpNin, "contains": OpContains,
	"startswith": OpStartsWith, "endswith": OpEndsWith,
	"like": OpLike, "between": OpBetween,
}

// NormalizeArray converts the legacy array-form filter
// [[field,op,value], 'and'|'or', [field,op,value], ...] into the canonical
// FilterCondition AST. A bare list with no logical separators is treated
// as implicit "and". Mixed logical separators parse left-to-right with no
// operator precedence; callers needing different grouping must nest
// arrays explicitly.
func NormalizeArray(form []any) (FilterCondition, error) {
	if len(form) == 0 {
		return FilterCondition{}, apierr.Validation("empty filter array")
	}

	first, err := normalizeArrayTerm(form[0])
	if err != nil {
		return FilterCondition{}, err
	}

	if len(form) == 1 {
		return first, nil
	}

	result := first
	i := 1
	for i < len(form) {
		sep, ok := form[i].(string)
		if !ok || (sep != "and" && sep != "or") {
			return FilterCondition{}, apierr.Validation(fmt.Sprintf("expected logical separator 'and'/'or' at position %d", i))
		}
		if i+1 >= len(form) {
			return FilterCondition{}, apierr.Validation("dangling logical separator at end of filter array")
		}
		next, err := normalizeArrayTerm(form[i+1])
		if err != nil {
			return FilterCondition{}, err
		}
		if sep == "and" {
			result = And(result, next)
		} else {
			result = Or(result, next)
		}
		i += 2
	}
	return result, nil
}

// normalizeArrayTerm normalizes one element of an array-form filter: either
// a nested array (recurse) or a 3-tuple [field, op, value] comparison.
func normalizeArrayTerm(term any) (FilterCondition, error) {
	switch t := term.(type) {
	case []any:
		if len(t) == 3 {
			if _, isString := t[0].(string); isString {
				if opStr, ok := t[1].(string); ok {
					if _, isOp := arrayOpBySymbol[opStr]; isOp {
						return tupleToComparison(t)
					}
				}
			}
		}
		return NormalizeArray(t)
	default:
		return FilterCondition{}, apierr.Validation(fmt.Sprintf("unexpected filter term: %T", term))
	}
}

func tupleToComparison(tuple []any) (FilterCondition, error) {
	field, ok := tuple[0].(string)
	if !ok {
		return FilterCondition{}, apierr.Validation("filter tuple field must be a string")
	}
	opStr, ok := tuple[1].(string)
	if !ok {
		return FilterCondition{}, apierr.Validation("filter tuple operator must be a string")
	}
	op, ok := arrayOpBySymbol[opStr]
	if !ok {
		return FilterCondition{}, apierr.Validation(fmt.Sprintf("unknown filter operator %q", opStr))
	}
	return Comparison(field, op, tuple[2]), nil
}

// ToArray converts a FilterCondition back into the legacy array form,
// inverse of NormalizeArray for well-formed input: normalize(array_form(f))
// must reproduce f's semantics.
func ToArray(f FilterCondition) []any {
	switch f.Kind {
	case NodeComparison:
		return []any{f.Field, string(f.Operator), f.Value}
	case NodeAnd:
		return joinChildren(f.Children, "and")
	case NodeOr:
		return joinChildren(f.Children, "or")
	case NodeNot:
		// The array form has no direct negation tuple; represent as a
		// single-element wrapper array so round-tripping through
		// NormalizeArray still recovers a "not" node via NormalizeObject
		// is out of scope here — "not" only round-trips through the
		// structured FilterCondition form itself.
		return []any{ToArray(*f.Child)}
	default:
		return nil
	}
}

func joinChildren(children []FilterCondition, sep string) []any {
	if len(children) == 0 {
		return nil
	}
	out := []any{ToArray(children[0])}
	for _, c := range children[1:] {
		out = append(out, sep, ToArray(c))
	}
	return out
}

// NormalizeObject converts the legacy object-form filter
// {field: value} or {field: {$op: value}} into the canonical
// FilterCondition AST. A bare {field: value} is equivalent to
// {field: {$eq: value}} which is equivalent to comparison{field,=,value}.
func NormalizeObject(form map[string]any) (FilterCondition, error) {
	var leaves []FilterCondition
	for field, raw := range form {
		leaf, err := normalizeObjectField(field, raw)
		if err != nil {
			return FilterCondition{}, err
		}
		leaves = append(leaves, leaf)
	}
	switch len(leaves) {
	case 0:
		return FilterCondition{}, apierr.Validation("empty filter object")
	case 1:
		return leaves[0], nil
	default:
		return And(leaves...), nil
	}
}

func normalizeObjectField(field string, raw any) (FilterCondition, error) {
	opMap, ok := raw.(map[string]any)
	if !ok {
		return Comparison(field, OpEq, raw), nil
	}
	if len(opMap) != 1 {
		return FilterCondition{}, apierr.Validation(fmt.Sprintf("field %q: expected exactly one $operator key", field))
	}
	for mongoOp, value := range opMap {
		op, ok := legacyOpByMongoStyle[mongoOp]
		if !ok {
			return FilterCondition{}, apierr.Validation(fmt.Sprintf("field %q: unknown operator %q", field, mongoOp))
		}
		return Comparison(field, op, value), nil
	}
	return FilterCondition{}, apierr.Validation("unreachable")
}
