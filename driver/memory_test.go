package driver

import (
	"context"
	"testing"

	"github.com/objectql-dev/objectql/query"
)

func TestMemoryDriverCreateGeneratesID(t *testing.T) {
	d := NewMemoryDriver()
	rec, err := d.Create(context.Background(), "todo", map[string]any{"title": "Buy milk"}, FindOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec["_id"] == "" || rec["_id"] == nil {
		t.Fatal("expected driver-generated _id")
	}
}

func TestMemoryDriverUpdateNotFound(t *testing.T) {
	d := NewMemoryDriver()
	_, err := d.Update(context.Background(), "todo", "missing", map[string]any{"title": "x"}, FindOptions{})
	if err == nil {
		t.Fatal("expected NOT_FOUND error for missing record")
	}
}

func TestMemoryDriverFindWithFilterAndPagination(t *testing.T) {
	d := NewMemoryDriver()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = d.Create(ctx, "todo", map[string]any{"n": float64(i), "done": i%2 == 0}, FindOptions{})
	}
	limit := 2
	offset := 1
	q := query.QueryAST{
		Object: "todo",
		Where:  ptrFilter(query.Comparison("done", query.OpEq, true)),
		Limit:  &limit,
		Offset: &offset,
	}
	out, err := d.Find(ctx, "todo", q, FindOptions{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(out) > 2 {
		t.Fatalf("expected at most 2 records, got %d", len(out))
	}
}

func TestMemoryDriverErrorInjection(t *testing.T) {
	d := NewMemoryDriver()
	d.ErrorOnNextCall = context.Canceled
	_, err := d.Create(context.Background(), "todo", map[string]any{}, FindOptions{})
	if err == nil {
		t.Fatal("expected injected error to surface")
	}
	// injected error is consumed; next call should succeed.
	if _, err := d.Create(context.Background(), "todo", map[string]any{}, FindOptions{}); err != nil {
		t.Fatalf("expected second call to succeed after error consumed: %v", err)
	}
}

func TestMemoryDriverDeleteThenCount(t *testing.T) {
	d := NewMemoryDriver()
	ctx := context.Background()
	rec, _ := d.Create(ctx, "todo", map[string]any{"title": "x"}, FindOptions{})
	id := rec["_id"].(string)

	count, err := d.Count(ctx, "todo", nil, FindOptions{})
	if err != nil || count != 1 {
		t.Fatalf("expected count 1, got %d err %v", count, err)
	}
	if err := d.Delete(ctx, "todo", id, FindOptions{}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	count, _ = d.Count(ctx, "todo", nil, FindOptions{})
	if count != 0 {
		t.Fatalf("expected count 0 after delete, got %d", count)
	}
}

func ptrFilter(f query.FilterCondition) *query.FilterCondition { return &f }
