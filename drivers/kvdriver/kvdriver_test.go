package kvdriver

import (
	"context"
	"os"
	"testing"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/driver"
)

func TestRecordAndIndexKeyNaming(t *testing.T) {
	if got, want := recordKey("todo", "1"), "objectql:todo:1"; got != want {
		t.Fatalf("recordKey: got %q, want %q", got, want)
	}
	if got, want := indexKey("todo"), "objectql:todo:ids"; got != want {
		t.Fatalf("indexKey: got %q, want %q", got, want)
	}
}

// newTestDriver connects to a real Redis instance named by REDIS_TEST_ADDR,
// mirroring TEST_POSTGRES_DSN-gated integration test
// (internal/app/storage/postgres/store_test_helpers.go's newTestStore):
// skip rather than fail when no live server is configured.
func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set; skipping redis integration test")
	}
	d, err := Open(context.Background(), addr, "", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

func TestCreateFindUpdateDeleteRoundTrip(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	rec, err := d.Create(ctx, "widget", map[string]any{"_id": "w1", "name": "gizmo"}, driver.FindOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec["name"] != "gizmo" {
		t.Fatalf("unexpected record: %v", rec)
	}

	got, err := d.FindOne(ctx, "widget", "w1", nil, driver.FindOptions{})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if got["name"] != "gizmo" {
		t.Fatalf("FindOne mismatch: %v", got)
	}

	if _, err := d.Update(ctx, "widget", "w1", map[string]any{"_id": "w1", "name": "sprocket"}, driver.FindOptions{}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	n, err := d.Count(ctx, "widget", nil, driver.FindOptions{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}

	if err := d.Delete(ctx, "widget", "w1", driver.FindOptions{}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := d.Delete(ctx, "widget", "w1", driver.FindOptions{}); !apierr.IsNotFound(err) {
		t.Fatalf("expected not-found on repeat delete, got %v", err)
	}
}
