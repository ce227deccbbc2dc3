package query

import "testing"

func TestAggregateGroupAvgAndSort(t *testing.T) {
	records := []map[string]any{
		{"d": "IT", "s": float64(80000)},
		{"d": "IT", "s": float64(90000)},
		{"d": "HR", "s": float64(60000)},
	}
	pipeline := []Stage{
		{
			Kind: StageGroup,
			Group: &GroupSpec{
				ID: "$d",
				Accum: map[string]Accum{
					"avg": {Op: AccAvg, Expr: "$s"},
				},
			},
		},
		{
			Kind: StageSort,
			Sort: []SortField{{Field: "avg", Order: SortDesc}},
		},
	}

	out, err := Aggregate(records, pipeline)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(out))
	}
	if out[0]["_id"] != "IT" || out[0]["avg"].(float64) != 85000 {
		t.Fatalf("expected IT first with avg 85000, got %+v", out[0])
	}
	if out[1]["_id"] != "HR" || out[1]["avg"].(float64) != 60000 {
		t.Fatalf("expected HR second with avg 60000, got %+v", out[1])
	}
}

func TestAggregateMatchStage(t *testing.T) {
	records := []map[string]any{
		{"status": "active"},
		{"status": "inactive"},
	}
	f := Comparison("status", OpEq, "active")
	out, err := Aggregate(records, []Stage{{Kind: StageMatch, Match: &f}})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 record after match, got %d", len(out))
	}
}

func TestPaginateLimitOffset(t *testing.T) {
	records := make([]map[string]any, 10)
	for i := range records {
		records[i] = map[string]any{"i": i}
	}
	limit, offset := 3, 8
	out := Paginate(records, &offset, &limit)
	if len(out) != 2 {
		t.Fatalf("expected min(3, max(0,10-8))=2 records, got %d", len(out))
	}
}

func TestApplySortNullsLast(t *testing.T) {
	records := []map[string]any{
		{"v": float64(2)},
		{"v": nil},
		{"v": float64(1)},
	}
	out := applySort(records, []SortField{{Field: "v", Order: SortAsc}})
	if out[2]["v"] != nil {
		t.Fatalf("expected null to sort last ascending, got %+v", out)
	}
}

func TestFieldValueResolvesDottedPath(t *testing.T) {
	record := map[string]any{
		"name":    "Ada",
		"address": map[string]any{"city": "London"},
		"tags":    []any{"admin", "owner"},
	}
	if got := FieldValue(record, "name"); got != "Ada" {
		t.Fatalf("expected Ada, got %v", got)
	}
	if got := FieldValue(record, "address.city"); got != "London" {
		t.Fatalf("expected London, got %v", got)
	}
	if got := FieldValue(record, "tags.0"); got != "admin" {
		t.Fatalf("expected admin, got %v", got)
	}
	if got := FieldValue(record, "address.missing"); got != nil {
		t.Fatalf("expected nil for missing nested field, got %v", got)
	}
}

func TestAggregateProjectResolvesDottedFields(t *testing.T) {
	records := []map[string]any{
		{"name": "Ada", "address": map[string]any{"city": "London"}},
	}
	out, err := Aggregate(records, []Stage{{Kind: StageProject, Project: []string{"name", "address.city"}}})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if out[0]["name"] != "Ada" || out[0]["address.city"] != "London" {
		t.Fatalf("unexpected projection: %+v", out[0])
	}
}
