package querybuild

import (
	"strings"
	"testing"

	"github.com/objectql-dev/objectql/query"
)

func TestWhereSimpleComparison(t *testing.T) {
	b := New()
	b.Where(ptr(query.Comparison("status", query.OpEq, "active")))
	sql, args := b.SQL()
	if sql != `"status" = $1` {
		t.Fatalf("unexpected sql: %q", sql)
	}
	if len(args) != 1 || args[0] != "active" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestWhereAndGroupParenthesizes(t *testing.T) {
	cond := query.And(
		query.Comparison("age", query.OpGte, 18),
		query.Comparison("age", query.OpLt, 65),
	)
	b := New()
	b.Where(&cond)
	sql, args := b.SQL()
	if !strings.Contains(sql, " AND ") {
		t.Fatalf("expected AND join, got %q", sql)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
}

func TestWhereInEmptyListIsFalse(t *testing.T) {
	cond := query.Comparison("tag", query.OpIn, []any{})
	b := New()
	b.Where(&cond)
	sql, _ := b.SQL()
	if sql != "FALSE" {
		t.Fatalf("expected FALSE for empty IN, got %q", sql)
	}
}

func TestOrderByRejectsUnsafeFieldName(t *testing.T) {
	b := New()
	_, err := b.OrderBy([]query.SortField{{Field: "name; DROP TABLE x", Order: query.SortAsc}})
	if err == nil {
		t.Fatal("expected error for unsafe field name")
	}
}

func TestOrderByRendersMultipleFields(t *testing.T) {
	b := New()
	out, err := b.OrderBy([]query.SortField{
		{Field: "created_at", Order: query.SortDesc},
		{Field: "name", Order: query.SortAsc},
	})
	if err != nil {
		t.Fatalf("OrderBy: %v", err)
	}
	if out != `"created_at" DESC, "name" ASC` {
		t.Fatalf("unexpected order by: %q", out)
	}
}

func TestOrderByRoutesThroughColumnFn(t *testing.T) {
	b := NewWithColumn(func(field string) string {
		return "data->>'" + field + "'"
	})
	out, err := b.OrderBy([]query.SortField{{Field: "created_at", Order: query.SortDesc}})
	if err != nil {
		t.Fatalf("OrderBy: %v", err)
	}
	if out != `data->>'created_at' DESC` {
		t.Fatalf("expected sort column to route through columnFn, got %q", out)
	}
}

func ptr(c query.FilterCondition) *query.FilterCondition { return &c }
