package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/objectql-dev/objectql/apierr"
)

// StageKind is the closed set of aggregation pipeline stage kinds.
type StageKind string

const (
	StageMatch   StageKind = "$match"
	StageGroup   StageKind = "$group"
	StageSort    StageKind = "$sort"
	StageProject StageKind = "$project"
	StageLimit   StageKind = "$limit"
	StageSkip    StageKind = "$skip"
)

// Accumulator is the closed set of $group accumulator operators.
type Accumulator string

const (
	AccSum      Accumulator = "$sum"
	AccAvg      Accumulator = "$avg"
	AccMin      Accumulator = "$min"
	AccMax      Accumulator = "$max"
	AccFirst    Accumulator = "$first"
	AccLast     Accumulator = "$last"
	AccPush     Accumulator = "$push"
	AccAddToSet Accumulator = "$addToSet"
)

// GroupSpec is the body of a $group stage: _id is a field reference
// ("$field") or literal grouping expression, and every other key names an
// output field computed by one Accumulator over a field reference.
type GroupSpec struct {
	ID    any                    `json:"_id"`
	Accum map[string]Accum       `json:"-"`
}

// Accum pairs one output field with its accumulator operator and the
// expression (field reference or literal) it operates over.
type Accum struct {
	Op   Accumulator
	Expr any
}

// Stage is one step of an aggregation pipeline. Only the field matching
// Kind is populated.
type Stage struct {
	Kind StageKind

	Match   *FilterCondition
	Group   *GroupSpec
	Sort    []SortField
	Project []string
	Limit   *int
	Skip    *int
}

// isFieldRef reports whether expr is a "$fieldName" field reference, and
// if so returns the bare field name.
func isFieldRef(expr any) (string, bool) {
	s, ok := expr.(string)
	if !ok || !strings.HasPrefix(s, "$") {
		return "", false
	}
	return strings.TrimPrefix(s, "$"), true
}

func resolveExpr(expr any, record map[string]any) any {
	if field, ok := isFieldRef(expr); ok {
		return FieldValue(record, field)
	}
	return expr
}

// FieldValue resolves path against record, supporting dotted paths into
// nested objects/arrays ("address.city", "tags.0") the way a $group/
// $project field reference or a REST ?fields= entry may name a nested
// value. A bare top-level key is looked up directly; anything containing
// a "." is resolved via gjson over the record's JSON encoding, grounded
// on datafeed/dispatcher JSONPath extraction
// (gjson.GetBytes(body, path)).
func FieldValue(record map[string]any, path string) any {
	if !strings.Contains(path, ".") {
		return record[path]
	}
	body, err := json.Marshal(record)
	if err != nil {
		return nil
	}
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return nil
	}
	return result.Value()
}

// Aggregate runs the reference in-memory pipeline implementation over
// records, used directly by the in-memory driver and by any driver lacking
// native aggregation support.
func Aggregate(records []map[string]any, pipeline []Stage) ([]map[string]any, error) {
	current := records
	for _, stage := range pipeline {
		var err error
		switch stage.Kind {
		case StageMatch:
			current = applyMatch(current, stage.Match)
		case StageGroup:
			current, err = applyGroup(current, stage.Group)
		case StageSort:
			current = applySort(current, stage.Sort)
		case StageProject:
			current = applyProject(current, stage.Project)
		case StageLimit:
			current = applyLimit(current, stage.Limit)
		case StageSkip:
			current = applySkip(current, stage.Skip)
		default:
			return nil, apierr.Validation(fmt.Sprintf("unknown aggregation stage %q", stage.Kind))
		}
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func applyMatch(records []map[string]any, f *FilterCondition) []map[string]any {
	if f == nil {
		return records
	}
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		if Match(*f, r) {
			out = append(out, r)
		}
	}
	return out
}

func applyGroup(records []map[string]any, spec *GroupSpec) ([]map[string]any, error) {
	if spec == nil {
		return nil, apierr.Validation("$group stage requires a spec")
	}

	type bucket struct {
		id     any
		values map[string][]any
		first  map[string]any
		last   map[string]any
	}
	order := make([]any, 0)
	buckets := make(map[string]*bucket)

	for _, r := range records {
		key := resolveExpr(spec.ID, r)
		keyStr := fmt.Sprint(key)
		b, ok := buckets[keyStr]
		if !ok {
			b = &bucket{id: key, values: make(map[string][]any)}
			buckets[keyStr] = b
			order = append(order, keyStr)
		}
		for name, acc := range spec.Accum {
			v := resolveExpr(acc.Expr, r)
			b.values[name] = append(b.values[name], v)
			if b.first == nil {
				b.first = map[string]any{}
			}
			if _, seen := b.first[name]; !seen {
				b.first[name] = v
			}
			if b.last == nil {
				b.last = map[string]any{}
			}
			b.last[name] = v
		}
	}

	out := make([]map[string]any, 0, len(order))
	for _, keyStr := range order {
		b := buckets[keyStr.(string)]
		row := map[string]any{"_id": b.id}
		for name, acc := range spec.Accum {
			row[name] = reduceAccumulator(acc.Op, b.values[name], b.first[name], b.last[name])
		}
		out = append(out, row)
	}
	return out, nil
}

func reduceAccumulator(op Accumulator, values []any, first, last any) any {
	switch op {
	case AccSum:
		var sum float64
		for _, v := range values {
			if f, ok := toFloat(v); ok {
				sum += f
			}
		}
		return sum
	case AccAvg:
		var sum float64
		var n int
		for _, v := range values {
			if f, ok := toFloat(v); ok {
				sum += f
				n++
			}
		}
		if n == 0 {
			return nil
		}
		return sum / float64(n)
	case AccMin:
		var min *float64
		for _, v := range values {
			if f, ok := toFloat(v); ok {
				if min == nil || f < *min {
					fCopy := f
					min = &fCopy
				}
			}
		}
		if min == nil {
			return nil
		}
		return *min
	case AccMax:
		var max *float64
		for _, v := range values {
			if f, ok := toFloat(v); ok {
				if max == nil || f > *max {
					fCopy := f
					max = &fCopy
				}
			}
		}
		if max == nil {
			return nil
		}
		return *max
	case AccFirst:
		return first
	case AccLast:
		return last
	case AccPush:
		return values
	case AccAddToSet:
		seen := make(map[string]bool)
		var out []any
		for _, v := range values {
			key := fmt.Sprint(v)
			if !seen[key] {
				seen[key] = true
				out = append(out, v)
			}
		}
		return out
	default:
		return nil
	}
}

// applySort is stable and applies sort keys left-to-right; a null value on
// one side sorts last ascending, first descending,
func applySort(records []map[string]any, keys []SortField) []map[string]any {
	out := make([]map[string]any, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			vi, vj := out[i][k.Field], out[j][k.Field]
			if vi == nil && vj == nil {
				continue
			}
			if vi == nil {
				return k.Order == SortDesc
			}
			if vj == nil {
				return k.Order == SortAsc
			}
			c, ok := compareOrdered(vi, vj)
			if !ok || c == 0 {
				continue
			}
			if k.Order == SortDesc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out
}

func applyProject(records []map[string]any, fields []string) []map[string]any {
	if len(fields) == 0 {
		return records
	}
	out := make([]map[string]any, len(records))
	for i, r := range records {
		projected := make(map[string]any, len(fields))
		for _, f := range fields {
			projected[f] = FieldValue(r, f)
		}
		out[i] = projected
	}
	return out
}

// applyLimit and applySkip compose as "offset skips before limit caps",
//, so callers apply Skip before Limit in a pipeline — each
// function only implements its own stage.
func applyLimit(records []map[string]any, limit *int) []map[string]any {
	if limit == nil || *limit < 0 || *limit >= len(records) {
		return records
	}
	return records[:*limit]
}

func applySkip(records []map[string]any, skip *int) []map[string]any {
	if skip == nil || *skip <= 0 {
		return records
	}
	if *skip >= len(records) {
		return records[:0]
	}
	return records[*skip:]
}

// Paginate applies offset-then-limit semantics directly (outside a
// $skip/$limit pipeline), matching quantified invariant: for a
// QueryAST with limit=L, offset=O over N records, result length =
// min(L, max(0, N-O)).
func Paginate(records []map[string]any, offset, limit *int) []map[string]any {
	out := applySkip(records, offset)
	return applyLimit(out, limit)
}
