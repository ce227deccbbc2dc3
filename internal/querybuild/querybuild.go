// Package querybuild generalizes fluent QueryBuilder
// (infrastructure/database/generic_repository.go's QueryBuilder, which
// accumulates PostgREST filter fragments like "field=eq.value") into a
// driver-agnostic builder that renders parameterized SQL predicates from a
// query.FilterCondition tree. Storage-engine drivers (drivers/sqldriver)
// consume it to avoid re-deriving operator-to-SQL mapping independently.
package querybuild

import (
	"fmt"
	"strings"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/query"
)

// Builder accumulates a WHERE clause and its positional arguments, using
// $N placeholders (lib/pq style). SQL() is idempotent and safe to call
// more than once.
type Builder struct {
	sql      strings.Builder
	args     []any
	columnFn func(field string) string
}

// New starts an empty Builder that references bare, double-quoted table
// columns (one physical column per field).
func New() *Builder { return &Builder{columnFn: quoteIdent} }

// NewWithColumn starts a Builder that resolves each FilterCondition field
// name to a SQL expression via columnFn, e.g. a JSONB accessor like
// `data->>'field'` for drivers storing records as a single document column.
func NewWithColumn(columnFn func(field string) string) *Builder {
	return &Builder{columnFn: columnFn}
}

// Placeholder renders the n-th (1-based) positional SQL placeholder for
// the dialect this Builder targets. Postgres uses $1, $2, ...
func Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Where translates cond into a parameterized SQL predicate appended to
// b.sql, returning the same Builder for chaining. A nil cond renders no
// predicate. Nested $and/$or groups render with explicit parentheses so
// precedence survives SQL's native left-to-right evaluation, the same
// property the normalizer guarantees for the array filter form.
func (b *Builder) Where(cond *query.FilterCondition) *Builder {
	if cond == nil {
		return b
	}
	b.sql.WriteString(b.render(cond))
	return b
}

func (b *Builder) render(cond *query.FilterCondition) string {
	switch cond.Kind {
	case query.NodeAnd, query.NodeOr:
		parts := make([]string, 0, len(cond.Children))
		for _, child := range cond.Children {
			parts = append(parts, "("+b.render(&child)+")")
		}
		sep := " AND "
		if cond.Kind == query.NodeOr {
			sep = " OR "
		}
		return strings.Join(parts, sep)
	case query.NodeNot:
		return "NOT (" + b.render(cond.Child) + ")"
	default:
		return b.renderLeaf(cond)
	}
}

func (b *Builder) renderLeaf(cond *query.FilterCondition) string {
	col := b.columnFn(cond.Field)
	switch cond.Operator {
	case query.OpEq:
		return b.bind(col, "=", cond.Value)
	case query.OpNeq:
		return b.bind(col, "<>", cond.Value)
	case query.OpGt:
		return b.bind(col, ">", cond.Value)
	case query.OpGte:
		return b.bind(col, ">=", cond.Value)
	case query.OpLt:
		return b.bind(col, "<", cond.Value)
	case query.OpLte:
		return b.bind(col, "<=", cond.Value)
	case query.OpLike:
		return b.bind(col, "ILIKE", cond.Value)
	case query.OpContains:
		return b.bind(col, "ILIKE", fmt.Sprintf("%%%v%%", cond.Value))
	case query.OpStartsWith:
		return b.bind(col, "ILIKE", fmt.Sprintf("%v%%", cond.Value))
	case query.OpEndsWith:
		return b.bind(col, "ILIKE", fmt.Sprintf("%%%v", cond.Value))
	case query.OpIn:
		return b.bindIn(col, cond.Value, false)
	case query.OpNin:
		return b.bindIn(col, cond.Value, true)
	case query.OpBetween:
		return b.bindBetween(col, cond.Value)
	default:
		return "1=1"
	}
}

func (b *Builder) bindBetween(col string, value any) string {
	bounds, ok := value.([]any)
	if !ok || len(bounds) != 2 {
		return "1=1"
	}
	b.args = append(b.args, bounds[0])
	lo := Placeholder(len(b.args))
	b.args = append(b.args, bounds[1])
	hi := Placeholder(len(b.args))
	return fmt.Sprintf("%s BETWEEN %s AND %s", col, lo, hi)
}

func (b *Builder) bind(col, op string, value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("%s %s %s", col, op, Placeholder(len(b.args)))
}

func (b *Builder) bindIn(col string, value any, negate bool) string {
	values, ok := value.([]any)
	if !ok {
		b.args = append(b.args, value)
		if negate {
			return fmt.Sprintf("%s <> %s", col, Placeholder(len(b.args)))
		}
		return fmt.Sprintf("%s = %s", col, Placeholder(len(b.args)))
	}
	if len(values) == 0 {
		if negate {
			return "TRUE"
		}
		return "FALSE"
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		b.args = append(b.args, v)
		placeholders[i] = Placeholder(len(b.args))
	}
	op := "IN"
	if negate {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(placeholders, ", "))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SQL returns the accumulated WHERE predicate text (without the WHERE
// keyword) and its positional arguments in placeholder order.
func (b *Builder) SQL() (string, []any) {
	return b.sql.String(), b.args
}

// OrderBy renders an ORDER BY clause (without the keyword) from sort
// fields, routing each field through the same columnFn the WHERE clause
// uses (so a JSONB-backed Builder sorts on data->>'field' rather than a
// bare column that doesn't exist), and rejecting field names that contain
// a semicolon, a quote, or a space to avoid building SQL from unchecked
// identifiers.
func (b *Builder) OrderBy(fields []query.SortField) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		dir := "ASC"
		if f.Order == query.SortDesc {
			dir = "DESC"
		}
		if strings.ContainsAny(f.Field, ";\"' ") {
			return "", apierr.Validation("invalid sort field name: " + f.Field)
		}
		parts = append(parts, fmt.Sprintf("%s %s", b.columnFn(f.Field), dir))
	}
	return strings.Join(parts, ", "), nil
}
