package hooks

import (
	"context"
	"testing"
)

func TestDispatchOrderIsRegistrationOrder(t *testing.T) {
	d := NewDispatcher()
	var order []int
	d.On(BeforeCreate, "todo", func(hctx *HookContext) error {
		order = append(order, 1)
		return nil
	})
	d.On(BeforeCreate, "todo", func(hctx *HookContext) error {
		order = append(order, 2)
		return nil
	})

	hctx := &HookContext{Data: map[string]any{}, State: map[string]any{}}
	if err := d.Dispatch(BeforeCreate, "todo", hctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected [1,2], got %v", order)
	}
}

func TestDispatchAbortsOnFirstError(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.On(BeforeCreate, "todo", func(hctx *HookContext) error {
		return context.DeadlineExceeded
	})
	d.On(BeforeCreate, "todo", func(hctx *HookContext) error {
		called = true
		return nil
	})

	err := d.Dispatch(BeforeCreate, "todo", &HookContext{})
	if err == nil {
		t.Fatal("expected error from first handler")
	}
	if called {
		t.Fatal("expected second handler to never run after abort")
	}
}

func TestHookContextSetsDefaultOnAbsentField(t *testing.T) {
	d := NewDispatcher()
	d.On(BeforeCreate, "post", func(hctx *HookContext) error {
		if _, ok := hctx.Data["status"]; !ok {
			hctx.Data["status"] = "draft"
		}
		return nil
	})

	hctx := &HookContext{Data: map[string]any{"title": "x"}}
	if err := d.Dispatch(BeforeCreate, "post", hctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if hctx.Data["status"] != "draft" {
		t.Fatalf("expected status=draft, got %v", hctx.Data["status"])
	}
}

func TestIsModified(t *testing.T) {
	hctx := &HookContext{
		Data:         map[string]any{"title": "new"},
		PreviousData: map[string]any{"title": "old"},
	}
	if !hctx.IsModified("title") {
		t.Fatal("expected title to be modified")
	}
	if hctx.IsModified("missing") {
		t.Fatal("expected untouched field to be unmodified (both nil)")
	}
}

func TestExecuteActionRecordRequiresID(t *testing.T) {
	d := NewDispatcher()
	d.RegisterAction("todo", "complete", func(ctx context.Context, req ActionRequest) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	_, err := d.ExecuteAction(context.Background(), "record", ActionRequest{ObjectName: "todo", ActionName: "complete"})
	if err == nil {
		t.Fatal("expected error when record action missing id")
	}

	out, err := d.ExecuteAction(context.Background(), "record", ActionRequest{ObjectName: "todo", ActionName: "complete", ID: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m, ok := out.(map[string]any); !ok || m["ok"] != true {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestExecuteActionGlobalRejectsID(t *testing.T) {
	d := NewDispatcher()
	d.RegisterAction("report", "refresh", func(ctx context.Context, req ActionRequest) (any, error) {
		return nil, nil
	})
	_, err := d.ExecuteAction(context.Background(), "global", ActionRequest{ObjectName: "report", ActionName: "refresh", ID: "1"})
	if err == nil {
		t.Fatal("expected error when global action given an id")
	}
}

func TestExecuteActionNotFound(t *testing.T) {
	d := NewDispatcher()
	_, err := d.ExecuteAction(context.Background(), "global", ActionRequest{ObjectName: "report", ActionName: "missing"})
	if err == nil {
		t.Fatal("expected NOT_FOUND for unregistered action")
	}
}
