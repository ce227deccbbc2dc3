package validate

import (
	"testing"

	"github.com/objectql-dev/objectql/metadata"
)

func TestValidateFieldRequired(t *testing.T) {
	field := metadata.FieldDefinition{Name: "title", Kind: metadata.FieldText, Required: true}
	if err := ValidateField(field, ""); err == nil {
		t.Fatal("expected error for missing required field")
	}
	if err := ValidateField(field, "Buy milk"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateFieldPattern(t *testing.T) {
	field := metadata.FieldDefinition{Name: "slug", Kind: metadata.FieldText, Pattern: `^[a-z0-9-]+$`}
	if err := ValidateField(field, "Not A Slug!"); err == nil {
		t.Fatal("expected pattern mismatch error")
	}
	if err := ValidateField(field, "valid-slug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateFieldEmailFormat(t *testing.T) {
	field := metadata.FieldDefinition{Name: "email", Kind: metadata.FieldEmail, Format: "email"}
	if err := ValidateField(field, "not-an-email"); err == nil {
		t.Fatal("expected format error")
	}
	if err := ValidateField(field, "user@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunSkipsRuleOutsideTrigger(t *testing.T) {
	rule := metadata.ValidationRule{
		Kind:     metadata.RuleStateMachine,
		Field:    "status",
		Trigger:  []metadata.Operation{metadata.OpCreate},
		Transitions: map[string]metadata.StateTransition{
			"active": {AllowedNext: []string{}, IsTerminal: true},
		},
	}
	ctx := Context{
		Record:         map[string]any{"status": "closed"},
		PreviousRecord: map[string]any{"status": "active"},
		Operation:      metadata.OpUpdate,
	}
	result := Run([]metadata.ValidationRule{rule}, ctx)
	if !result.Valid {
		t.Fatalf("expected rule to be skipped on update (trigger=[create]), got errors: %+v", result.Errors)
	}
}

func TestRunStateMachineTerminalRejectsTransition(t *testing.T) {
	rule := metadata.ValidationRule{
		Kind:  metadata.RuleStateMachine,
		Name:  "status-machine",
		Field: "status",
		Message: "cannot move from {{old_status}} to {{new_status}}",
		Transitions: map[string]metadata.StateTransition{
			"completed": {AllowedNext: []string{}, IsTerminal: true},
		},
	}
	ctx := Context{
		Record:         map[string]any{"status": "active"},
		PreviousRecord: map[string]any{"status": "completed"},
		Operation:      metadata.OpUpdate,
	}
	result := Run([]metadata.ValidationRule{rule}, ctx)
	if result.Valid {
		t.Fatal("expected terminal state transition to fail")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(result.Errors))
	}
	msg := result.Errors[0].Message
	if !contains(msg, "completed") || !contains(msg, "active") {
		t.Fatalf("expected message to mention both states, got %q", msg)
	}
}

func TestRunStateMachineAllowsSameValue(t *testing.T) {
	rule := metadata.ValidationRule{
		Kind:  metadata.RuleStateMachine,
		Field: "status",
		Transitions: map[string]metadata.StateTransition{
			"completed": {IsTerminal: true},
		},
	}
	ctx := Context{
		Record:         map[string]any{"status": "completed"},
		PreviousRecord: map[string]any{"status": "completed"},
		Operation:      metadata.OpUpdate,
	}
	result := Run([]metadata.ValidationRule{rule}, ctx)
	if !result.Valid {
		t.Fatal("expected no-op transition (old==new) to pass even on a terminal state")
	}
}

func TestRunCrossFieldComparison(t *testing.T) {
	rule := metadata.ValidationRule{
		Kind:      metadata.RuleCrossField,
		Field:     "end_date",
		Operator:  metadata.CmpGte,
		CompareTo: "start_date",
	}
	ctx := Context{
		Record: map[string]any{"start_date": float64(10), "end_date": float64(5)},
	}
	result := Run([]metadata.ValidationRule{rule}, ctx)
	if result.Valid {
		t.Fatal("expected cross-field rule to fail when end_date < start_date")
	}
}

func TestRunSeverityWarningDoesNotInvalidate(t *testing.T) {
	rule := metadata.ValidationRule{
		Kind:      metadata.RuleCrossField,
		Field:     "a",
		Operator:  metadata.CmpEq,
		Value:     "expected",
		Severity:  metadata.SeverityWarning,
	}
	ctx := Context{Record: map[string]any{"a": "different"}}
	result := Run([]metadata.ValidationRule{rule}, ctx)
	if !result.Valid {
		t.Fatal("expected warning-severity rule failure to not invalidate overall result")
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(result.Warnings))
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
