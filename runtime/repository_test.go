package runtime

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/hooks"
	"github.com/objectql-dev/objectql/metadata"
	"github.com/objectql-dev/objectql/objectqlmetrics"
	"github.com/objectql-dev/objectql/query"
)

func newTestRuntime(t *testing.T, def metadata.ObjectDefinition) *Runtime {
	t.Helper()
	mem := driver.NewMemoryDriver()
	rt := New(map[string]driver.Driver{"default": mem}, "default")
	if err := rt.Registry.RegisterObject(def, "test", metadata.OwnershipOwn, 0); err != nil {
		t.Fatalf("RegisterObject: %v", err)
	}
	return rt
}

func todoDefinition() metadata.ObjectDefinition {
	return metadata.ObjectDefinition{
		Name: "todo",
		Fields: map[string]metadata.FieldDefinition{
			"title": {Name: "title", Kind: metadata.FieldText, Required: true},
		},
	}
}

// Scenario 1: create on todo with {userId, spaceId} stamps system fields.
func TestScenarioCreateStampsSystemFields(t *testing.T) {
	rt := newTestRuntime(t, todoDefinition())
	ctx := NewContext(context.Background(), rt, "u1", "User One", nil, "space-A", false)

	rec, err := ctx.Object("todo").Create(map[string]any{"title": "Buy milk"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec[metadata.FieldCreatedBy] != "u1" {
		t.Fatalf("expected created_by=u1, got %v", rec[metadata.FieldCreatedBy])
	}
	if rec[metadata.FieldSpaceID] != "space-A" {
		t.Fatalf("expected space_id=space-A, got %v", rec[metadata.FieldSpaceID])
	}
	if rec[metadata.FieldID] == nil || rec[metadata.FieldID] == "" {
		t.Fatal("expected non-empty _id")
	}
	if rec[metadata.FieldCreatedAt] != rec[metadata.FieldUpdatedAt] {
		t.Fatalf("expected created_at == updated_at on create, got %v != %v", rec[metadata.FieldCreatedAt], rec[metadata.FieldUpdatedAt])
	}
}

// Scenario 2: terminal state machine rule rejects a transition out of it.
func TestScenarioStateMachineTerminalRejected(t *testing.T) {
	def := metadata.ObjectDefinition{
		Name: "task",
		Fields: map[string]metadata.FieldDefinition{
			"status": {Name: "status", Kind: metadata.FieldText},
		},
		ValidationRules: []metadata.ValidationRule{
			{
				Kind:    metadata.RuleStateMachine,
				Field:   "status",
				Message: "cannot go from {{old_status}} to {{new_status}}",
				Transitions: map[string]metadata.StateTransition{
					"completed": {AllowedNext: []string{}, IsTerminal: true},
				},
			},
		},
	}
	rt := newTestRuntime(t, def)
	ctx := NewContext(context.Background(), rt, "u1", "", nil, "", true)

	rec, err := ctx.Object("task").Create(map[string]any{"status": "completed"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := rec[metadata.FieldID].(string)

	_, err = ctx.Object("task").Update(id, map[string]any{"status": "active"})
	if err == nil {
		t.Fatal("expected INVALID_STATE_TRANSITION error")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeInvalidStateTransition {
		t.Fatalf("expected CodeInvalidStateTransition, got %v", err)
	}
	if !contains(apiErr.Message, "completed") || !contains(apiErr.Message, "active") {
		t.Fatalf("expected message to mention both states, got %q", apiErr.Message)
	}
}

// Scenario 4: beforeCreate hook defaults an absent field.
func TestScenarioBeforeCreateHookSetsDefault(t *testing.T) {
	def := metadata.ObjectDefinition{
		Name: "post",
		Fields: map[string]metadata.FieldDefinition{
			"title":  {Name: "title", Kind: metadata.FieldText},
			"status": {Name: "status", Kind: metadata.FieldText},
		},
	}
	rt := newTestRuntime(t, def)
	rt.Dispatcher.On(hooks.BeforeCreate, "post", func(hctx *hooks.HookContext) error {
		if _, ok := hctx.Data["status"]; !ok {
			hctx.Data["status"] = "draft"
		}
		return nil
	})
	ctx := NewContext(context.Background(), rt, "u1", "", nil, "", true)

	rec, err := ctx.Object("post").Create(map[string]any{"title": "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec["status"] != "draft" {
		t.Fatalf("expected status=draft, got %v", rec["status"])
	}
}

func TestUpdatePreservesCreatedAtAndAdvancesUpdatedAt(t *testing.T) {
	rt := newTestRuntime(t, todoDefinition())
	ctx := NewContext(context.Background(), rt, "u1", "", nil, "", true)

	created, err := ctx.Object("todo").Create(map[string]any{"title": "a"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := created[metadata.FieldID].(string)

	updated, err := ctx.Object("todo").Update(id, map[string]any{"title": "b"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated[metadata.FieldCreatedAt] != created[metadata.FieldCreatedAt] {
		t.Fatalf("expected created_at unchanged across update")
	}
}

func TestTriggerScopedRuleSkipsOtherOperations(t *testing.T) {
	def := metadata.ObjectDefinition{
		Name: "widget",
		Fields: map[string]metadata.FieldDefinition{
			"code": {Name: "code", Kind: metadata.FieldText},
		},
		ValidationRules: []metadata.ValidationRule{
			{
				Kind:      metadata.RuleCrossField,
				Field:     "code",
				Operator:  metadata.CmpEq,
				Value:     "LOCKED",
				Trigger:   []metadata.Operation{metadata.OpCreate},
			},
		},
	}
	rt := newTestRuntime(t, def)
	ctx := NewContext(context.Background(), rt, "u1", "", nil, "", true)

	rec, err := ctx.Object("widget").Create(map[string]any{"code": "LOCKED"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := rec[metadata.FieldID].(string)

	if _, err := ctx.Object("widget").Update(id, map[string]any{"code": "anything"}); err != nil {
		t.Fatalf("expected update to skip create-only rule, got %v", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	rt := newTestRuntime(t, todoDefinition())
	ctx := NewContext(context.Background(), rt, "u1", "", nil, "", true)
	err := ctx.Object("todo").Delete("missing")
	if !apierr.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

// Action handlers receive an API bound to the triggering Context and can
// use it to perform their own CRUD, not just read/validate Input.
func TestExecuteActionCanCreateThroughAPI(t *testing.T) {
	def := todoDefinition()
	def.Actions = map[string]metadata.ActionDefinition{
		"spawnFollowup": {Kind: metadata.ActionRecord},
	}
	rt := newTestRuntime(t, def)
	rt.Dispatcher.RegisterAction("todo", "spawnFollowup", func(ctx context.Context, req hooks.ActionRequest) (any, error) {
		return req.API.Object("todo").Create(map[string]any{"title": "follow up on " + req.ID})
	})

	actingCtx := NewContext(context.Background(), rt, "u1", "", nil, "", true)
	rec, err := actingCtx.Object("todo").Create(map[string]any{"title": "Original"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := rec[metadata.FieldID].(string)

	out, err := actingCtx.Object("todo").Execute("spawnFollowup", id, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	created, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected the action's Create result, got %T", out)
	}
	if created["title"] != "follow up on "+id {
		t.Fatalf("expected the action-created record's title to reference %s, got %v", id, created["title"])
	}

	total, err := actingCtx.Object("todo").Count(nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected the action's Create to have persisted a second record, got %d", total)
	}
}

// A Runtime with Metrics wired records both the Repository-level
// operation and the underlying driver call for every CRUD method.
func TestRepositoryOperationsRecordMetricsWhenWired(t *testing.T) {
	rt := newTestRuntime(t, todoDefinition())
	rt.Metrics = objectqlmetrics.NewWithRegistry("objectqld_test", prometheus.NewRegistry())
	ctx := NewContext(context.Background(), rt, "u1", "", nil, "", true)

	rec, err := ctx.Object("todo").Create(map[string]any{"title": "Buy milk"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := rec[metadata.FieldID].(string)

	if _, err := ctx.Object("todo").Find(query.QueryAST{Object: "todo"}); err != nil {
		t.Fatalf("Find: %v", err)
	}
	if _, err := ctx.Object("todo").Update(id, map[string]any{"title": "Buy oat milk"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := ctx.Object("todo").Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if got := testutil.ToFloat64(rt.Metrics.OperationsTotal.WithLabelValues("todo", "create", "ok")); got != 1 {
		t.Fatalf("expected 1 successful create operation recorded, got %v", got)
	}
	if got := testutil.ToFloat64(rt.Metrics.OperationsTotal.WithLabelValues("todo", "find", "ok")); got != 1 {
		t.Fatalf("expected 1 successful find operation recorded, got %v", got)
	}
	if got := testutil.ToFloat64(rt.Metrics.DriverCallsTotal.WithLabelValues("default", "create", "ok")); got != 1 {
		t.Fatalf("expected 1 driver-level create call recorded, got %v", got)
	}
	if got := testutil.ToFloat64(rt.Metrics.DriverCallsTotal.WithLabelValues("default", "delete", "ok")); got != 1 {
		t.Fatalf("expected 1 driver-level delete call recorded, got %v", got)
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
