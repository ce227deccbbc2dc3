// Package validate implements the field/cross-field/state-machine rule
// engine, in the style of
// regexp/pattern validation helpers (system/framework/core/validation.go)
// generalized from ad-hoc function calls to data-driven ValidationRule
// evaluation.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/metadata"
)

// Common format patterns, grounded on EmailPattern/UUIDPattern
// regex table (system/framework/core/validation.go).
var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	uuidPattern  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9()\-.\s]{7,}$`)
)

// Context is the ValidationContext: the record under
// validation, the previous record on a write (nil on create), the
// operation, and the set of field names that changed.
type Context struct {
	Record         map[string]any
	PreviousRecord map[string]any
	Operation      metadata.Operation
	ChangedFields  map[string]bool
}

// Result buckets rule outcomes by severity; Valid is true iff Errors is
// empty.
type Result struct {
	Valid  bool
	Errors []Violation
	Warnings []Violation
	Info     []Violation
}

// Violation is one failed rule, carrying enough context for a
// VALIDATION_ERROR's per-field details.
type Violation struct {
	Field     string `json:"field,omitempty"`
	Rule      string `json:"rule,omitempty"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Run evaluates every rule in rules against ctx, implementing the
// algorithm steps 1-5.
func Run(rules []metadata.ValidationRule, ctx Context) Result {
	result := Result{Valid: true}
	for _, rule := range rules {
		if !rule.AppliesTo(ctx.Operation) {
			continue
		}
		if !rule.AppliesToFields(ctx.ChangedFields) {
			continue
		}

		violations := evaluateRule(rule, ctx)
		for _, v := range violations {
			switch rule.EffectiveSeverity() {
			case metadata.SeverityWarning:
				result.Warnings = append(result.Warnings, v)
			case metadata.SeverityInfo:
				result.Info = append(result.Info, v)
			default:
				result.Errors = append(result.Errors, v)
				result.Valid = false
			}
		}
	}
	return result
}

func evaluateRule(rule metadata.ValidationRule, ctx Context) []Violation {
	switch rule.Kind {
	case metadata.RuleCrossField:
		return evaluateCrossField(rule, ctx)
	case metadata.RuleStateMachine:
		return evaluateStateMachine(rule, ctx)
	default:
		return nil
	}
}

func evaluateCrossField(rule metadata.ValidationRule, ctx Context) []Violation {
	left := ctx.Record[rule.Field]
	var right any
	if rule.CompareTo != "" {
		right = ctx.Record[rule.CompareTo]
	} else {
		right = rule.Value
	}

	if compareOperator(rule.Operator, left, right) {
		return nil
	}
	return []Violation{{
		Field:     rule.Field,
		Rule:      rule.Name,
		Message:   templateMessage(rule, ctx.Record, "", ""),
		ErrorCode: rule.ErrorCode,
	}}
}

func compareOperator(op metadata.CompareOperator, left, right any) bool {
	switch op {
	case metadata.CmpEq:
		return fmt.Sprint(left) == fmt.Sprint(right)
	case metadata.CmpNeq:
		return fmt.Sprint(left) != fmt.Sprint(right)
	case metadata.CmpLt, metadata.CmpLte, metadata.CmpGt, metadata.CmpGte:
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return false
		}
		switch op {
		case metadata.CmpLt:
			return lf < rf
		case metadata.CmpLte:
			return lf <= rf
		case metadata.CmpGt:
			return lf > rf
		default:
			return lf >= rf
		}
	case metadata.CmpIn, metadata.CmpNotIn:
		items, ok := right.([]any)
		found := false
		if ok {
			for _, item := range items {
				if fmt.Sprint(item) == fmt.Sprint(left) {
					found = true
					break
				}
			}
		}
		if op == metadata.CmpIn {
			return found
		}
		return !found
	case metadata.CmpContains:
		ls, lok := left.(string)
		rs, rok := right.(string)
		return lok && rok && strings.Contains(ls, rs)
	default:
		return false
	}
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
	default:
		return 0, false
	}
}

// evaluateStateMachine implements step 3's state_machine
// algorithm: a write with no previous record (a create) has no state to
// transition from and passes; old==new always passes; an unlisted or
// terminal old state forbids any outgoing transition; otherwise new must be
// in transitions[old].AllowedNext.
func evaluateStateMachine(rule metadata.ValidationRule, ctx Context) []Violation {
	if ctx.PreviousRecord == nil {
		return nil
	}
	newVal := fmt.Sprint(ctx.Record[rule.Field])
	oldVal := fmt.Sprint(ctx.PreviousRecord[rule.Field])

	if oldVal == newVal {
		return nil
	}

	transition, known := rule.Transitions[oldVal]
	if !known {
		return []Violation{{
			Field:     rule.Field,
			Rule:      rule.Name,
			Message:   templateMessage(rule, ctx.Record, oldVal, newVal),
			ErrorCode: firstNonEmpty(rule.ErrorCode, string(apierr.CodeInvalidStateTransition)),
		}}
	}
	if transition.IsTerminal {
		return []Violation{{
			Field:     rule.Field,
			Rule:      rule.Name,
			Message:   templateMessage(rule, ctx.Record, oldVal, newVal),
			ErrorCode: firstNonEmpty(rule.ErrorCode, string(apierr.CodeInvalidStateTransition)),
		}}
	}
	for _, allowed := range transition.AllowedNext {
		if allowed == newVal {
			return nil
		}
	}
	return []Violation{{
		Field:     rule.Field,
		Rule:      rule.Name,
		Message:   templateMessage(rule, ctx.Record, oldVal, newVal),
		ErrorCode: firstNonEmpty(rule.ErrorCode, string(apierr.CodeInvalidStateTransition)),
	}}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// templateMessage replaces "{{old_status}}"/"{{new_status}}" and arbitrary
// "{{field}}" placeholders in rule.Message with values from record.
func templateMessage(rule metadata.ValidationRule, record map[string]any, oldVal, newVal string) string {
	msg := rule.Message
	if msg == "" {
		if oldVal != "" || newVal != "" {
			return fmt.Sprintf("invalid transition from %q to %q", oldVal, newVal)
		}
		return fmt.Sprintf("%s failed validation", rule.Field)
	}
	msg = strings.ReplaceAll(msg, "{{old_status}}", oldVal)
	msg = strings.ReplaceAll(msg, "{{new_status}}", newVal)
	for field, value := range record {
		placeholder := "{{" + field + "}}"
		if strings.Contains(msg, placeholder) {
			msg = strings.ReplaceAll(msg, placeholder, fmt.Sprint(value))
		}
	}
	return msg
}

// ValidateField enforces a FieldDefinition's own constraints
// (required/min/max/length/pattern/format) against a single value,
// implementing the "field" rule kind step 3.
func ValidateField(field metadata.FieldDefinition, value any) error {
	if field.Required && isEmpty(value) {
		return apierr.Validation(field.Name + " is required")
	}
	if isEmpty(value) {
		return nil
	}

	if s, ok := value.(string); ok {
		if field.MinLen != nil && len(s) < *field.MinLen {
			return apierr.Validation(fmt.Sprintf("%s must be at least %d characters", field.Name, *field.MinLen))
		}
		if field.MaxLen != nil && len(s) > *field.MaxLen {
			return apierr.Validation(fmt.Sprintf("%s must be at most %d characters", field.Name, *field.MaxLen))
		}
		if field.Pattern != "" {
			re, err := regexp.Compile(field.Pattern)
			if err != nil {
				return apierr.New(apierr.CodeInvalidRegex, fmt.Sprintf("%s has an invalid pattern: %v", field.Name, err))
			}
			if !re.MatchString(s) {
				return apierr.Validation(fmt.Sprintf("%s has invalid format", field.Name))
			}
		}
		if field.Format != "" {
			if err := validateFormat(field.Name, field.Format, s); err != nil {
				return err
			}
		}
		if err := ValidateURLProtocol(field, s); err != nil {
			return err
		}
	}

	if n, ok := toFloat(value); ok {
		if field.Min != nil && n < *field.Min {
			return apierr.Validation(fmt.Sprintf("%s must be >= %v", field.Name, *field.Min))
		}
		if field.Max != nil && n > *field.Max {
			return apierr.Validation(fmt.Sprintf("%s must be <= %v", field.Name, *field.Max))
		}
	}
	return nil
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// validateFormat recognizes email, url, phone, uuid, and iso8601. The
// field.Protocols list of a url field is enforced separately by
// ValidateURLProtocol, which ValidateField also calls.
func validateFormat(fieldName, format, value string) error {
	switch format {
	case "email":
		if !emailPattern.MatchString(value) {
			return apierr.Validation(fieldName + " must be a valid email address")
		}
	case "url":
		u, err := url.Parse(value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return apierr.Validation(fieldName + " must be a valid URL")
		}
	case "phone":
		if !phonePattern.MatchString(value) {
			return apierr.Validation(fieldName + " must be a valid phone number")
		}
	case "uuid":
		if !uuidPattern.MatchString(value) {
			return apierr.Validation(fieldName + " must be a valid UUID")
		}
	case "iso8601":
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return apierr.Validation(fieldName + " must be a valid ISO-8601 timestamp")
		}
	}
	return nil
}

// ValidateURLProtocol additionally enforces field.Protocols against a
// parsed URL scheme, used when a FieldURL field restricts accepted
// protocols (e.g. only "https"). ValidateField calls it for every non-empty
// string value; it passes when field.Protocols is empty.
func ValidateURLProtocol(field metadata.FieldDefinition, value string) error {
	if len(field.Protocols) == 0 {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return apierr.Validation(field.Name + " must be a valid URL")
	}
	for _, p := range field.Protocols {
		if strings.EqualFold(u.Scheme, p) {
			return nil
		}
	}
	return apierr.Validation(fmt.Sprintf("%s must use one of protocols: %s", field.Name, strings.Join(field.Protocols, ", ")))
}

// FieldRulesFor derives the implicit "field" rules for every field in
// fields, used by the Repository before checking explicit cross_field and
// state_machine rules.
func FieldRulesFor(fields map[string]metadata.FieldDefinition, record map[string]any) []Violation {
	var violations []Violation
	for name, fd := range fields {
		if err := ValidateField(fd, record[name]); err != nil {
			if apiErr, ok := apierr.As(err); ok {
				violations = append(violations, Violation{
					Field:     name,
					Rule:      "field",
					Message:   apiErr.Message,
					ErrorCode: string(apiErr.Code),
				})
			}
		}
	}
	return violations
}
