// Package query defines the universal query representation every driver
// consumes: the FilterCondition AST, the QueryAST envelope, and the
// normalizer that converts between the AST and the legacy array/object
// filter forms clients may still send.
package query

// Operator is the closed set of comparison operators a FilterCondition
// comparison node may use.
type Operator string

const (
	OpEq         Operator = "="
	OpNeq        Operator = "!="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpIn         Operator = "in"
	OpNin        Operator = "nin"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
	OpEndsWith   Operator = "endswith"
	OpLike       Operator = "like"
	OpBetween    Operator = "between"
)

// NodeKind tags which variant of FilterCondition is populated.
type NodeKind string

const (
	NodeComparison NodeKind = "comparison"
	NodeAnd        NodeKind = "and"
	NodeOr         NodeKind = "or"
	NodeNot        NodeKind = "not"
)

// FilterCondition is the canonical, tagged-union filter AST. Only the
// fields relevant to Kind are populated.
type FilterCondition struct {
	Kind NodeKind `json:"kind"`

	// comparison
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`

	// and / or
	Children []FilterCondition `json:"children,omitempty"`

	// not
	Child *FilterCondition `json:"child,omitempty"`
}

// Comparison builds a comparison leaf node.
func Comparison(field string, op Operator, value any) FilterCondition {
	return FilterCondition{Kind: NodeComparison, Field: field, Operator: op, Value: value}
}

// And builds an "and" node over children.
func And(children ...FilterCondition) FilterCondition {
	return FilterCondition{Kind: NodeAnd, Children: children}
}

// Or builds an "or" node over children.
func Or(children ...FilterCondition) FilterCondition {
	return FilterCondition{Kind: NodeOr, Children: children}
}

// Not builds a negation node.
func Not(child FilterCondition) FilterCondition {
	return FilterCondition{Kind: NodeNot, Child: &child}
}

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortField is one entry of an orderBy list; precedence is left-to-right.
type SortField struct {
	Field string    `json:"field"`
	Order SortOrder `json:"order"`
}

// QueryAST is the full shape a driver's executeQuery consumes.
type QueryAST struct {
	Object    string            `json:"object"`
	Fields    []string          `json:"fields,omitempty"`
	Where     *FilterCondition  `json:"where,omitempty"`
	OrderBy   []SortField       `json:"order_by,omitempty"`
	Limit     *int              `json:"limit,omitempty"`
	Offset    *int              `json:"offset,omitempty"`
	GroupBy   []string          `json:"group_by,omitempty"`
	Aggregate []Stage           `json:"aggregate,omitempty"`
}

// QueryResult is the unified shape executeQuery returns.
type QueryResult struct {
	Value []map[string]any `json:"value"`
	Count *int             `json:"count,omitempty"`
}
