// Package metadata defines the typed schema model ObjectQL drivers and the
// request pipeline are bound to: object, field, action, and validation
// definitions, and the Registry that resolves them by fully-qualified name.
package metadata

// Reserved namespaces whose fully-qualified name is just the short name
// (no "namespace__" prefix), mirroring convention of treating
// a handful of identifiers as process-reserved rather than tenant data.
const (
	NamespaceBase   = "base"
	NamespaceSystem = "system"
)

// System fields are always present semantically on every object, even when
// absent from its ObjectDefinition.Fields map.
const (
	FieldID        = "_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldCreatedBy = "created_by"
	FieldUpdatedBy = "updated_by"
	FieldSpaceID   = "space_id"
)

// FieldKind is the closed set of field types a FieldDefinition may declare.
type FieldKind string

const (
	FieldText        FieldKind = "text"
	FieldTextarea    FieldKind = "textarea"
	FieldEmail       FieldKind = "email"
	FieldURL         FieldKind = "url"
	FieldPhone       FieldKind = "phone"
	FieldNumber      FieldKind = "number"
	FieldCurrency    FieldKind = "currency"
	FieldPercent     FieldKind = "percent"
	FieldAutoNumber  FieldKind = "auto_number"
	FieldBoolean     FieldKind = "boolean"
	FieldDate        FieldKind = "date"
	FieldDateTime    FieldKind = "datetime"
	FieldTime        FieldKind = "time"
	FieldSelect      FieldKind = "select"
	FieldLookup      FieldKind = "lookup"
	FieldMasterDetail FieldKind = "master_detail"
	FieldFile        FieldKind = "file"
	FieldImage       FieldKind = "image"
	FieldObject      FieldKind = "object"
)

// SelectOption is one enumerated choice for a FieldSelect field.
type SelectOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FieldDefinition describes one field of an ObjectDefinition: its kind plus
// the constraints the Validator enforces and the drivers honor.
type FieldDefinition struct {
	Name     string    `json:"name"`
	Label    string    `json:"label,omitempty"`
	Kind     FieldKind `json:"kind"`
	Required bool      `json:"required,omitempty"`

	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	MinLen   *int     `json:"min_length,omitempty"`
	MaxLen   *int     `json:"max_length,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Format   string   `json:"format,omitempty"` // email, url, phone, uuid, iso8601

	Options []SelectOption `json:"options,omitempty"`

	// ReferenceTo is the target object FQN for lookup/master_detail fields.
	// Late-bound: an unknown target is accepted at register time. Nothing
	// in the runtime resolves or validates the target when the field is read.
	ReferenceTo string `json:"reference_to,omitempty"`

	AcceptExtensions []string `json:"accept_extensions,omitempty"`
	MinSizeBytes     *int64   `json:"min_size_bytes,omitempty"`
	MaxSizeBytes     *int64   `json:"max_size_bytes,omitempty"`
	MinWidth         *int     `json:"min_width,omitempty"`
	MaxWidth         *int     `json:"max_width,omitempty"`
	MinHeight        *int     `json:"min_height,omitempty"`
	MaxHeight        *int     `json:"max_height,omitempty"`
	Protocols        []string `json:"protocols,omitempty"`

	Default  any  `json:"default,omitempty"`
	Multiple bool `json:"multiple,omitempty"`
}

// Severity ranks how a failed ValidationRule affects overall validity.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Operation is one of the three write-side verbs a ValidationRule's
// trigger set and a hook event are scoped to.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// CompareOperator is the closed set of cross_field comparison operators.
type CompareOperator string

const (
	CmpEq        CompareOperator = "="
	CmpNeq       CompareOperator = "!="
	CmpLt        CompareOperator = "<"
	CmpLte       CompareOperator = "<="
	CmpGt        CompareOperator = ">"
	CmpGte       CompareOperator = ">="
	CmpIn        CompareOperator = "in"
	CmpNotIn     CompareOperator = "not in"
	CmpContains  CompareOperator = "contains"
)

// RuleKind tags which variant of ValidationRule is populated.
type RuleKind string

const (
	RuleField        RuleKind = "field"
	RuleCrossField   RuleKind = "cross_field"
	RuleStateMachine RuleKind = "state_machine"
)

// StateTransition lists the states a state-machine field may move to from
// a given state, and whether that state is terminal (forbids any further
// outgoing transition, even a self-transition to a different value).
type StateTransition struct {
	AllowedNext []string `json:"allowed_next"`
	IsTerminal  bool     `json:"is_terminal,omitempty"`
}

// ValidationRule is a tagged union; only the fields relevant to Kind are
// populated. Message supports "{{old_status}}"/"{{new_status}}" (state
// machine rules) and arbitrary "{{field}}" placeholders resolved against
// the record under validation.
type ValidationRule struct {
	Kind    RuleKind  `json:"kind"`
	Name    string    `json:"name,omitempty"`
	Message string    `json:"message,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
	Severity  Severity `json:"severity,omitempty"` // defaults to error
	Trigger   []Operation `json:"trigger,omitempty"` // defaults to all
	Fields    []string    `json:"fields,omitempty"`

	// cross_field
	Field      string          `json:"field,omitempty"`
	Operator   CompareOperator `json:"operator,omitempty"`
	CompareTo  string          `json:"compare_to,omitempty"`
	Value      any             `json:"value,omitempty"`

	// state_machine
	Transitions map[string]StateTransition `json:"transitions,omitempty"`
}

// EffectiveSeverity returns Severity, defaulting to SeverityError.
func (r ValidationRule) EffectiveSeverity() Severity {
	if r.Severity == "" {
		return SeverityError
	}
	return r.Severity
}

// AppliesTo reports whether the rule's trigger set includes op. An empty
// trigger set means the rule runs for every operation.
func (r ValidationRule) AppliesTo(op Operation) bool {
	if len(r.Trigger) == 0 {
		return true
	}
	for _, t := range r.Trigger {
		if t == op {
			return true
		}
	}
	return false
}

// AppliesToFields reports whether the rule should run given the set of
// fields that changed on this write. A rule with no Fields restriction
// always runs; otherwise it runs only if at least one of its Fields is in
// changedFields.
func (r ValidationRule) AppliesToFields(changedFields map[string]bool) bool {
	if len(r.Fields) == 0 {
		return true
	}
	for _, f := range r.Fields {
		if changedFields[f] {
			return true
		}
	}
	return false
}

// ActionKind distinguishes a record-targeted action from a global one.
type ActionKind string

const (
	ActionRecord ActionKind = "record"
	ActionGlobal ActionKind = "global"
)

// ActionDefinition declares a named, object-scoped operation beyond CRUD.
type ActionDefinition struct {
	Kind   ActionKind                  `json:"kind"`
	Label  string                      `json:"label,omitempty"`
	Params map[string]FieldDefinition  `json:"params,omitempty"`
}

// ObjectDefinition is the schema for one object: its fields, rules, actions,
// and the datasource key naming which driver owns its records.
type ObjectDefinition struct {
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	Label     string `json:"label,omitempty"`

	Fields          map[string]FieldDefinition `json:"fields"`
	Actions         map[string]ActionDefinition `json:"actions,omitempty"`
	ValidationRules []ValidationRule            `json:"validation_rules,omitempty"`

	// Datasource names the driver key (Runtime config's datasources map)
	// that owns this object's records. Populated by the Remote Federation
	// Driver as "remote:"+baseUrl for objects it mounts.
	Datasource string `json:"datasource,omitempty"`
}

// FQN computes the fully-qualified name: "namespace__short" unless the
// namespace is reserved or empty, in which case it is just the short name.
func FQN(namespace, name string) string {
	if namespace == "" || namespace == NamespaceBase || namespace == NamespaceSystem {
		return name
	}
	return namespace + "__" + name
}

// Fqn returns this definition's fully-qualified name.
func (o ObjectDefinition) Fqn() string {
	return FQN(o.Namespace, o.Name)
}
